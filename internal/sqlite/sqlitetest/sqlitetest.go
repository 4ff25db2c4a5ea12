// Package sqlitetest sets up throwaway databases for tests.
package sqlitetest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jdholdren/gleaner/internal/migrations"
	"github.com/jdholdren/gleaner/internal/sqlite"
)

// New opens a fresh, fully migrated database in the test's temp dir.
func New(t *testing.T) sqlite.Repo {
	t.Helper()

	dbx, err := sqlite.Open(filepath.Join(t.TempDir(), "gleaner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	require.NoError(t, migrations.Run(dbx))

	return sqlite.New(dbx)
}
