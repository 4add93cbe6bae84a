package database

import (
	"context"
	"testing"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/dialect"
)

func TestOpen_SQLite(t *testing.T) {
	db, err := Open(context.Background(), DriverSQLite, "file::memory:?cache=shared")
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, dialect.SQLite, db.Dialect().Name())

	var fk int
	require.NoError(t, db.NewRaw("PRAGMA foreign_keys").Scan(context.Background(), &fk))
	assert.Equal(t, 1, fk)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "root@/portal")
	require.Error(t, err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, "UNSUPPORTED_DRIVER", richErr.TextCode)
	assert.Equal(t, "mysql", richErr.Metadata["driver"])
}
