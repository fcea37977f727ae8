package user

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"

	"go-dm/internal/apperr"
)

const MaxNameLength = 100

var validate = validator.New()

// Directory maps display names to stable ids, creating users on first sight.
type Directory struct {
	repo Repository
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

// ResolveOrCreate returns the id for name, creating the user when it does not exist yet.
// Two callers racing on the same unseen name both get the winner's id; only the winner sees created=true.
func (d *Directory) ResolveOrCreate(ctx context.Context, name string) (int64, bool, error) {
	if err := validateName(name); err != nil {
		return 0, false, err
	}

	u, err := d.repo.GetByName(ctx, name)
	if err == nil {
		return u.ID, false, nil
	}
	if !apperr.IsNotFound(err) {
		return 0, false, err
	}

	u, err = d.repo.Create(ctx, name)
	if err == nil {
		return u.ID, true, nil
	}
	if !apperr.IsConflict(err) {
		return 0, false, err
	}

	// Lost the creation race: the row exists now.
	u, err = d.repo.GetByName(ctx, name)
	if err != nil {
		return 0, false, err
	}
	return u.ID, false, nil
}

func (d *Directory) ResolveByName(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, apperr.NotFound("user.ResolveByName", "empty name")
	}
	u, err := d.repo.GetByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// ListAll returns every user in creation order.
func (d *Directory) ListAll(ctx context.Context) ([]User, error) {
	return d.repo.List(ctx)
}

// Exists reports whether id names a registered user.
func (d *Directory) Exists(ctx context.Context, id int64) (bool, error) {
	return d.repo.Exists(ctx, id)
}

func validateName(name string) error {
	if name == "" {
		return apperr.Validation("user.ResolveOrCreate", "empty name")
	}
	if err := validate.Var(name, "max="+strconv.Itoa(MaxNameLength)); err != nil {
		return apperr.Validation("user.ResolveOrCreate", "name too long")
	}
	return nil
}
