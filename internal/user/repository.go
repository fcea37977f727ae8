//go:generate go run go.uber.org/mock/mockgen -source=repository.go -destination=../mocks/mock_user_repository.go -package=mocks
package user

import (
	"context"
	"database/sql"
	"errors"

	"go-dm/internal/apperr"
	"go-dm/internal/db"
)

// Repository persists users. Create must report a duplicate name as apperr.ErrConflict
// and GetByName a missing one as apperr.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, name string) (User, error)
	GetByName(ctx context.Context, name string) (User, error)
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) ([]User, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, name string) (User, error) {
	var id int64
	query := "INSERT INTO users (name) VALUES ($1) RETURNING id"

	if err := r.db.QueryRowContext(ctx, query, name).Scan(&id); err != nil {
		return User{}, db.Classify("user.Create", err)
	}
	return User{ID: id, Name: name}, nil
}

func (r *PostgresRepository) GetByName(ctx context.Context, name string) (User, error) {
	var u User
	query := "SELECT id, name FROM users WHERE name = $1"

	err := r.db.QueryRowContext(ctx, query, name).Scan(&u.ID, &u.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperr.NotFound("user.GetByName", "user "+name)
		}
		return User{}, db.Classify("user.GetByName", err)
	}
	return u, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	query := "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)"

	if err := r.db.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, db.Classify("user.Exists", err)
	}
	return ok, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name FROM users ORDER BY id")
	if err != nil {
		return nil, db.Classify("user.List", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, db.Classify("user.List", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("user.List", err)
	}
	return users, nil
}
