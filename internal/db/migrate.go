package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Migrations is the ordered schema history. Append only.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "init",
		Statements: []string{
			`CREATE TABLE users (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(100) NOT NULL,
            CONSTRAINT uq_users_name UNIQUE (name),
            CONSTRAINT chk_users_name_nonempty CHECK (name <> '')
        )`,

			`CREATE TABLE messages (
            id BIGSERIAL PRIMARY KEY,
            sender_id BIGINT NOT NULL REFERENCES users(id),
            receiver_id BIGINT NOT NULL REFERENCES users(id),
            body VARCHAR(1000) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            is_read BOOLEAN NOT NULL DEFAULT false
        )`,

			`CREATE INDEX idx_messages_pair ON messages (sender_id, receiver_id, created_at, id)`,
			`CREATE INDEX idx_messages_unread ON messages (receiver_id, sender_id) WHERE NOT is_read`,
		},
	},
}

// migrationLockKey serializes concurrent server instances migrating the same database.
const migrationLockKey = 0x646d5f6d6967

// Migrate applies every migration not yet recorded in schema_migrations, each in its own transaction.
func (d *Database) Migrate(ctx context.Context) error {
	if _, err := d.Conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
            version INT PRIMARY KEY,
            name TEXT NOT NULL,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`); err != nil {
		return fmt.Errorf("migration table: %w", err)
	}

	for _, m := range Migrations {
		if err := d.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %04d_%s failed: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (d *Database) apply(ctx context.Context, m Migration) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return err
	}

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_migrations WHERE version = $1`, m.Version).Scan(&version)
	switch {
	case err == nil:
		return tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Applied lists recorded versions in ascending order.
func (d *Database) Applied(ctx context.Context) ([]int, error) {
	rows, err := d.Conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
