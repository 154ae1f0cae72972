// Package source defines the contract of the external event ledger the indexer polls.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

// PageSize is the maximum number of events fetched per kind in one call.
const PageSize = 50

// ErrEntityNotFound is returned by EntityFetcher when the ledger has no such entity.
var ErrEntityNotFound = errors.New("entity not found")

// RawEvent is an event as delivered by the ledger, before classification.
// Timestamp is in Unix milliseconds. Position orders events that share a timestamp
// (ledger version, or block number and log index); zero means unknown.
type RawEvent struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Sender    string          `json:"sender"`
	TxID      string          `json:"tx_id"`
	Timestamp int64           `json:"timestamp"`
	Position  int64           `json:"position"`
}

// Batch is the result of one fetch. Next is the opaque checkpoint to resume from.
type Batch struct {
	Events []RawEvent
	Next   string
}

// Source fetches marketplace events. Delivery is at-least-once: events may repeat across
// calls and callers must apply them idempotently.
type Source interface {
	// Kinds returns the fully qualified event kinds this source fetches.
	Kinds() []string
	// FetchEvents returns the events after checkpoint for every kind, merged and sorted
	// ascending by timestamp. An empty checkpoint means the most recent page of each kind.
	FetchEvents(ctx context.Context, checkpoint string) (*Batch, error)
}

// EntityDetails is the ledger's view of an entity.
type EntityDetails struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageRef    string `json:"image_uri"`
	Creator     string `json:"creator"`
	Owner       string `json:"owner"`
}

// EntityFetcher reads entity details from the ledger.
type EntityFetcher interface {
	GetEntity(ctx context.Context, id string) (*EntityDetails, error)
}

// SortEvents orders events ascending by timestamp, then position. The sort is stable so
// events with equal timestamp and position keep their per-kind order.
func SortEvents(events []RawEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].Position < events[j].Position
	})
}
