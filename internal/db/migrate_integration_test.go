package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"go-dm/internal/db"
	"go-dm/internal/db/dbtest"
)

func TestMigrate_IsIdempotent(t *testing.T) {
	req := require.New(t)
	database := dbtest.Open(t)
	ctx := context.Background()

	// dbtest.Open already migrated once.
	req.NoError(database.Migrate(ctx))

	applied, err := database.Applied(ctx)
	req.NoError(err)
	req.Len(applied, len(db.Migrations))
	for i, m := range db.Migrations {
		req.Equal(m.Version, applied[i])
	}
}
