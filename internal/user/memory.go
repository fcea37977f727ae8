package user

import (
	"context"
	"sync"

	"go-dm/internal/apperr"
)

// MemoryRepository keeps users in process. It backs development runs without DB_DSN and tests.
// The name index plays the role of the unique constraint.
type MemoryRepository struct {
	mu     sync.RWMutex
	users  []User
	byName map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byName: make(map[string]int64)}
}

func (r *MemoryRepository) Create(ctx context.Context, name string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, apperr.Store("user.Create", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return User{}, apperr.E("user.Create", apperr.ErrConflict, nil)
	}
	u := User{ID: int64(len(r.users)) + 1, Name: name}
	r.users = append(r.users, u)
	r.byName[name] = u.ID
	return u, nil
}

func (r *MemoryRepository) GetByName(ctx context.Context, name string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, apperr.Store("user.GetByName", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[name]
	if !ok {
		return User{}, apperr.NotFound("user.GetByName", "user "+name)
	}
	return User{ID: id, Name: name}, nil
}

func (r *MemoryRepository) Exists(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperr.Store("user.Exists", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id > 0 && id <= int64(len(r.users)), nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Store("user.List", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]User{}, r.users...), nil
}
