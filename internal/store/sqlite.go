package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/db"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/store/migrations"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	pkgstore "github.com/goran-ethernal/MarketIndexor/pkg/store"
	"github.com/russross/meddler"
)

// Compile-time check to ensure SQLiteStore implements the pkgstore.Store interface.
var _ pkgstore.Store = (*SQLiteStore)(nil)

const (
	tableEntities     = "entities"
	tableListings     = "listings"
	tableTransactions = "transactions"
	tableCursorState  = "cursor_state"
)

// An entity upsert refreshes metadata but never touches the owner. Empty metadata from a
// degraded write does not erase values fetched earlier.
const entityConflictClause = `ON CONFLICT (id) DO UPDATE SET
	name        = CASE WHEN excluded.name <> '' THEN excluded.name ELSE entities.name END,
	description = CASE WHEN excluded.description <> '' THEN excluded.description ELSE entities.description END,
	image_ref   = CASE WHEN excluded.image_ref <> '' THEN excluded.image_ref ELSE entities.image_ref END,
	updated_at  = CASE WHEN (excluded.updated_at, excluded.event_position) > (entities.updated_at, entities.event_position)
		THEN excluded.updated_at ELSE entities.updated_at END,
	event_position = CASE WHEN (excluded.updated_at, excluded.event_position) > (entities.updated_at, entities.event_position)
		THEN excluded.event_position ELSE entities.event_position END`

// A listing is replaced only by an event that is not older than the stored one, compared by
// (timestamp, position). Events sharing a block or ledger timestamp are ordered by position.
const listingConflictClause = `ON CONFLICT (entity_id) DO UPDATE SET
	seller         = excluded.seller,
	price          = excluded.price,
	status         = excluded.status,
	listed_at      = excluded.listed_at,
	updated_at     = excluded.updated_at,
	event_position = excluded.event_position
WHERE (excluded.updated_at, excluded.event_position) >= (listings.updated_at, listings.event_position)`

const transactionConflictClause = `ON CONFLICT (tx_id) DO NOTHING`

type cursorRow struct {
	ID         int64  `meddler:"id,pk"`
	Checkpoint string `meddler:"checkpoint"`
	EventSeq   uint64 `meddler:"event_seq"`
	UpdatedAt  int64  `meddler:"updated_at"`
}

// SQLiteStore implements pkgstore.Store on a SQLite database.
type SQLiteStore struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance
}

// New opens the database described by cfg, runs migrations and returns a store.
func New(cfg config.DatabaseConfig, maintenance db.Maintenance, log *logger.Logger) (*SQLiteStore, error) {
	database, err := db.NewSQLiteDBFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	s, err := NewFromDB(database, maintenance, log)
	if err != nil {
		database.Close()
		return nil, err
	}

	return s, nil
}

// NewFromDB wraps an open database, running migrations first. A nil maintenance
// coordinator disables operation locking.
func NewFromDB(database *sql.DB, maintenance db.Maintenance, log *logger.Logger) (*SQLiteStore, error) {
	if maintenance == nil {
		maintenance = db.NoOpMaintenance{}
	}

	storeLog := log.WithComponent(common.ComponentStore)
	if err := migrations.RunMigrations(storeLog, database); err != nil {
		return nil, fmt.Errorf("failed to run marketplace migrations: %w", err)
	}

	return &SQLiteStore{
		db:          database,
		log:         storeLog,
		maintenance: maintenance,
	}, nil
}

// DB returns the underlying connection, used by maintenance.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) conn(ctx context.Context) ctxDB {
	return ctxDB{ctx: ctx, db: s.db}
}

func (s *SQLiteStore) UpsertEntity(ctx context.Context, entity *pkgstore.Entity) (err error) {
	done := observe("upsert_entity")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	query, args, err := insertStatement(tableEntities, entity, entityConflictClause)
	if err != nil {
		return err
	}

	if _, err = s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", entity.ID, err)
	}

	s.log.Debugw("entity upserted", "id", entity.ID, "creator", entity.Creator)
	return nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (_ *pkgstore.Entity, err error) {
	done := observe("get_entity")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var entity pkgstore.Entity
	err = meddler.QueryRow(s.conn(ctx), &entity, `SELECT * FROM entities WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}

	return &entity, nil
}

func (s *SQLiteStore) ListEntitiesByOwner(ctx context.Context, owner string) (_ []*pkgstore.Entity, err error) {
	done := observe("list_entities_by_owner")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var entities []*pkgstore.Entity
	err = meddler.QueryAll(s.conn(ctx), &entities,
		`SELECT * FROM entities WHERE owner = ? ORDER BY created_at DESC, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities of %s: %w", owner, err)
	}

	return entities, nil
}

func (s *SQLiteStore) UpdateEntityOwner(ctx context.Context, id, owner string,
	at pkgstore.EventOrder) (_ bool, err error) {
	done := observe("update_entity_owner")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET owner = ?, updated_at = ?, event_position = ?
		WHERE id = ? AND (updated_at, event_position) <= (?, ?)`,
		owner, at.Timestamp, at.Position, id, at.Timestamp, at.Position)
	if err != nil {
		return false, fmt.Errorf("failed to update owner of entity %s: %w", id, err)
	}

	return s.affected(res, "update_entity_owner")
}

func (s *SQLiteStore) UpsertListing(ctx context.Context, listing *pkgstore.Listing) (err error) {
	done := observe("upsert_listing")
	defer func() { done(err) }()

	if !listing.Status.Valid() {
		return fmt.Errorf("invalid listing status %q", listing.Status)
	}

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	query, args, err := insertStatement(tableListings, listing, listingConflictClause)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %s: %w", listing.EntityID, err)
	}

	if _, err = s.affected(res, "upsert_listing"); err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, entityID string) (_ *pkgstore.Listing, err error) {
	done := observe("get_listing")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var listing pkgstore.Listing
	err = meddler.QueryRow(s.conn(ctx), &listing, `SELECT * FROM listings WHERE entity_id = ?`, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing %s: %w", entityID, err)
	}

	return &listing, nil
}

func (s *SQLiteStore) ListListings(ctx context.Context,
	status *pkgstore.ListingStatus) (_ []*pkgstore.Listing, err error) {
	done := observe("list_listings")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var listings []*pkgstore.Listing
	if status == nil {
		err = meddler.QueryAll(s.conn(ctx), &listings,
			`SELECT * FROM listings ORDER BY listed_at DESC, entity_id`)
	} else {
		err = meddler.QueryAll(s.conn(ctx), &listings,
			`SELECT * FROM listings WHERE status = ? ORDER BY listed_at DESC, entity_id`, string(*status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	return listings, nil
}

func (s *SQLiteStore) UpdateListingStatus(ctx context.Context, entityID string,
	status pkgstore.ListingStatus, at pkgstore.EventOrder) (_ bool, err error) {
	done := observe("update_listing_status")
	defer func() { done(err) }()

	if !status.Valid() {
		return false, fmt.Errorf("invalid listing status %q", status)
	}

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET status = ?, updated_at = ?, event_position = ?
		WHERE entity_id = ? AND (updated_at, event_position) <= (?, ?)`,
		string(status), at.Timestamp, at.Position, entityID, at.Timestamp, at.Position)
	if err != nil {
		return false, fmt.Errorf("failed to update status of listing %s: %w", entityID, err)
	}

	return s.affected(res, "update_listing_status")
}

func (s *SQLiteStore) AppendTransaction(ctx context.Context, tx *pkgstore.Transaction) (_ bool, err error) {
	done := observe("append_transaction")
	defer func() { done(err) }()

	if tx.TxID == "" {
		return false, fmt.Errorf("transaction id is required")
	}

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	query, args, err := insertStatement(tableTransactions, tx, transactionConflictClause)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to append transaction %s: %w", tx.TxID, err)
	}

	return s.affected(res, "append_transaction")
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, limit int) (_ []*pkgstore.Transaction, err error) {
	done := observe("list_transactions")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	var txs []*pkgstore.Transaction
	err = meddler.QueryAll(s.conn(ctx), &txs,
		`SELECT * FROM transactions ORDER BY timestamp DESC, tx_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txs, nil
}

func (s *SQLiteStore) GetCursorState(ctx context.Context) (_ *pkgstore.CursorState, err error) {
	done := observe("get_cursor_state")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var row cursorRow
	if err = meddler.QueryRow(s.conn(ctx), &row, `SELECT * FROM cursor_state WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("failed to get cursor state: %w", err)
	}

	return &pkgstore.CursorState{
		Checkpoint: row.Checkpoint,
		EventSeq:   row.EventSeq,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

func (s *SQLiteStore) SaveCursorState(ctx context.Context, state *pkgstore.CursorState) (err error) {
	done := observe("save_cursor_state")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	row := cursorRow{
		ID:         1,
		Checkpoint: state.Checkpoint,
		EventSeq:   state.EventSeq,
		UpdatedAt:  state.UpdatedAt,
	}

	if err = meddler.Update(s.conn(ctx), tableCursorState, &row); err != nil {
		return fmt.Errorf("failed to save cursor state: %w", err)
	}

	s.log.Debugw("cursor state saved", "event_seq", state.EventSeq, "checkpoint", state.Checkpoint)
	return nil
}

// GetStats aggregates counts in SQL and sums purchase prices with big integers,
// since prices can exceed 64 bits.
func (s *SQLiteStore) GetStats(ctx context.Context) (_ *pkgstore.Stats, err error) {
	done := observe("get_stats")
	defer func() { done(err) }()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	stats := &pkgstore.Stats{}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM entities),
			(SELECT COUNT(*) FROM listings WHERE status = 'active'),
			(SELECT COUNT(*) FROM transactions WHERE kind = 'purchase')
	`).Scan(&stats.TotalNFTs, &stats.ActiveListings, &stats.TotalSales)
	if err != nil {
		return nil, fmt.Errorf("failed to count marketplace rows: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT price FROM transactions WHERE kind = 'purchase' AND price IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase prices: %w", err)
	}
	defer rows.Close()

	total := new(big.Int)
	for rows.Next() {
		var price string
		if err = rows.Scan(&price); err != nil {
			return nil, fmt.Errorf("failed to scan purchase price: %w", err)
		}

		amount, ok := new(big.Int).SetString(price, 10)
		if !ok {
			s.log.Warnw("skipping unparsable purchase price", "price", price)
			continue
		}
		total.Add(total, amount)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read purchase prices: %w", err)
	}

	stats.TotalVolume = total.String()
	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) affected(res sql.Result, operation string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		SkippedWriteInc(operation)
		return false, nil
	}
	return true, nil
}
