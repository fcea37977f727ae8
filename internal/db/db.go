package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"go-dm/internal/apperr"
)

type Database struct {
	Conn *sql.DB
}

// NewDatabase opens the pool and checks connectivity. The caller owns Close.
func NewDatabase(ctx context.Context, dsn string, maxConns int) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(maxConns)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.Conn.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Classify maps a driver error onto an apperr kind.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return apperr.E(op, apperr.ErrConflict, err)
		case codeForeignKeyViolation:
			return apperr.E(op, apperr.ErrForeignKey, err)
		}
	}
	return apperr.Store(op, err)
}
