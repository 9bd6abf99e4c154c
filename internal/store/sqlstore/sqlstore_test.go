package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-companion/backend/internal/store"
	"github.com/zhouzirui/z-companion/backend/internal/store/storetest"
)

func openMemory(t *testing.T) store.Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, openMemory)
}

func TestRebind(t *testing.T) {
	sqlite := &Store{dialect: sqliteDialect}
	pg := &Store{dialect: postgresDialect}
	query := `SELECT 1 FROM facts WHERE owner_name = ? AND content = ?`

	assert.Equal(t, query, sqlite.rebind(query))
	assert.Equal(t, `SELECT 1 FROM facts WHERE owner_name = $1 AND content = $2`, pg.rebind(query))
}
