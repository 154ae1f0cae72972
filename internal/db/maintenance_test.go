package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

func setupMaintenanceTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "maintenance.db")
	dbConfig := config.DatabaseConfig{Path: dbPath}
	dbConfig.ApplyDefaults()

	db, err := NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS listings_scratch (id INTEGER PRIMARY KEY, seller TEXT)`)
	require.NoError(t, err)

	return db, dbPath
}

func insertRows(t *testing.T, db *sql.DB, n int) {
	t.Helper()

	for range n {
		_, err := db.Exec("INSERT INTO listings_scratch (seller) VALUES (?)", "0xseller")
		require.NoError(t, err)
	}
}

func TestNewMaintenanceCoordinator_NilConfig(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)

	m := NewMaintenanceCoordinator(dbPath, db, nil, logger.NewNopLogger())
	require.IsType(t, NoOpMaintenance{}, m)

	require.NoError(t, m.Start(t.Context()))
	m.AcquireOperationLock()()
	require.NoError(t, m.RunMaintenance(t.Context()))
	require.NoError(t, m.Stop())
	require.Zero(t, m.GetMetrics().MaintenanceCount)
}

func TestMaintenanceCoordinator_RunMaintenance(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)
	insertRows(t, db, 500)

	coordinator := newMaintenanceCoordinator(dbPath, db, config.MaintenanceConfig{
		WALCheckpointMode: "TRUNCATE",
	}, logger.NewNopLogger())

	require.NoError(t, coordinator.RunMaintenance(context.Background()))

	metrics := coordinator.GetMetrics()
	require.Equal(t, uint64(1), metrics.MaintenanceCount)
	require.False(t, metrics.LastMaintenanceTime.IsZero())
	require.NoError(t, metrics.LastMaintenanceError)
}

func TestMaintenanceCoordinator_ContextCancellation(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)

	coordinator := newMaintenanceCoordinator(dbPath, db, config.MaintenanceConfig{
		WALCheckpointMode: "PASSIVE",
	}, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, coordinator.RunMaintenance(ctx), context.Canceled)
}

func TestMaintenanceCoordinator_MaintenanceWaitsForOperations(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)

	coordinator := newMaintenanceCoordinator(dbPath, db, config.MaintenanceConfig{
		WALCheckpointMode: "PASSIVE",
	}, logger.NewNopLogger())

	unlock := coordinator.AcquireOperationLock()

	var finished atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = coordinator.RunMaintenance(context.Background())
		finished.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	require.False(t, finished.Load(), "maintenance must wait for in-flight operations")

	unlock()
	<-done
	require.True(t, finished.Load())
}

func TestMaintenanceCoordinator_BackgroundMaintenance(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)

	coordinator := newMaintenanceCoordinator(dbPath, db, config.MaintenanceConfig{
		Enabled:           true,
		CheckInterval:     common.NewDuration(50 * time.Millisecond),
		WALCheckpointMode: "PASSIVE",
	}, logger.NewNopLogger())

	require.NoError(t, coordinator.Start(t.Context()))
	insertRows(t, db, 50)

	require.Eventually(t, func() bool {
		return coordinator.GetMetrics().MaintenanceCount > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, coordinator.Stop())
}

func TestMaintenanceCoordinator_StartupMaintenance(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)
	insertRows(t, db, 50)

	coordinator := newMaintenanceCoordinator(dbPath, db, config.MaintenanceConfig{
		Enabled:           true,
		CheckInterval:     common.NewDuration(time.Hour),
		VacuumOnStartup:   true,
		WALCheckpointMode: "TRUNCATE",
	}, logger.NewNopLogger())

	require.NoError(t, coordinator.Start(t.Context()))
	t.Cleanup(func() { require.NoError(t, coordinator.Stop()) })

	require.Equal(t, uint64(1), coordinator.GetMetrics().MaintenanceCount)
}

func TestMaintenanceCoordinator_Disabled(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)

	coordinator := newMaintenanceCoordinator(dbPath, db, config.MaintenanceConfig{
		CheckInterval:     common.NewDuration(20 * time.Millisecond),
		WALCheckpointMode: "TRUNCATE",
	}, logger.NewNopLogger())

	require.NoError(t, coordinator.Start(t.Context()))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, coordinator.Stop())

	require.Zero(t, coordinator.GetMetrics().MaintenanceCount)
}

func TestMaintenanceCoordinator_ConcurrentOperations(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)

	coordinator := newMaintenanceCoordinator(dbPath, db, config.MaintenanceConfig{
		WALCheckpointMode: "PASSIVE",
	}, logger.NewNopLogger())

	const writers, writesPerWriter = 20, 5
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)

	for range writers {
		wg.Go(func() {
			for range writesPerWriter {
				unlock := coordinator.AcquireOperationLock()
				_, err := db.Exec("INSERT INTO listings_scratch (seller) VALUES (?)", "0xseller")
				unlock()

				if err == nil {
					successes.Add(1)
				}
				time.Sleep(time.Millisecond)
			}
		})
	}

	maintenanceErrs := make(chan error, 3)
	wg.Go(func() {
		for range 3 {
			maintenanceErrs <- coordinator.RunMaintenance(context.Background())
			time.Sleep(5 * time.Millisecond)
		}
	})

	wg.Wait()
	close(maintenanceErrs)

	for err := range maintenanceErrs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(writers*writesPerWriter), successes.Load())
	require.Equal(t, uint64(3), coordinator.GetMetrics().MaintenanceCount)
}
