// Package store defines the persistence contract shared by the indexer, the
// action handlers and the query layer.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by point lookups when no row exists.
var ErrNotFound = errors.New("not found")

// Store is the marketplace persistence contract. Implementations are safe for concurrent use.
// Every write is a single atomic statement; callers never get multi-row transactions.
type Store interface {
	// UpsertEntity inserts the entity or refreshes its metadata. The owner is written on
	// insert only, so a repeated upsert never undoes an ownership change.
	UpsertEntity(ctx context.Context, entity *Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	ListEntitiesByOwner(ctx context.Context, owner string) ([]*Entity, error)
	// UpdateEntityOwner sets the owner when at is not older than the last applied event.
	// It reports whether a row changed.
	UpdateEntityOwner(ctx context.Context, id, owner string, at EventOrder) (bool, error)

	// UpsertListing replaces the listing for the entity unless the stored row carries a newer
	// event. An event at the same timestamp and position replaces the row.
	UpsertListing(ctx context.Context, listing *Listing) error
	GetListing(ctx context.Context, entityID string) (*Listing, error)
	// ListListings returns listings newest first, optionally filtered by status.
	ListListings(ctx context.Context, status *ListingStatus) ([]*Listing, error)
	// UpdateListingStatus sets the status when at is not older than the last applied event.
	UpdateListingStatus(ctx context.Context, entityID string, status ListingStatus, at EventOrder) (bool, error)

	// AppendTransaction records a transaction. It returns false when the TxID already exists.
	AppendTransaction(ctx context.Context, tx *Transaction) (bool, error)
	// ListTransactions returns the most recent transactions first. limit <= 0 means no limit.
	ListTransactions(ctx context.Context, limit int) ([]*Transaction, error)

	// GetCursorState returns the persisted cursor, or a zero value when none was saved yet.
	GetCursorState(ctx context.Context) (*CursorState, error)
	SaveCursorState(ctx context.Context, state *CursorState) error

	GetStats(ctx context.Context) (*Stats, error)

	Close() error
}
