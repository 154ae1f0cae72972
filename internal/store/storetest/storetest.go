// Package storetest provides a migrated temporary SQLite store for tests.
package storetest

import (
	"path"
	"testing"

	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/store"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

// New creates a store backed by a fresh database in the test's temp dir.
// The store is closed when the test ends.
func New(t *testing.T) *store.SQLiteStore {
	t.Helper()

	dbConfig := config.DatabaseConfig{Path: path.Join(t.TempDir(), "marketplace.sqlite")}
	dbConfig.ApplyDefaults()

	s, err := store.New(dbConfig, nil, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}
