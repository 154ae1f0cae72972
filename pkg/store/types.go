package store

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingActive   ListingStatus = "active"
	ListingSold     ListingStatus = "sold"
	ListingDelisted ListingStatus = "delisted"
)

// Valid reports whether s is a known status.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingSold, ListingDelisted:
		return true
	}
	return false
}

// TxKind identifies the marketplace action recorded by a transaction.
type TxKind string

const (
	TxMint     TxKind = "mint"
	TxList     TxKind = "list"
	TxPurchase TxKind = "purchase"
	TxDelist   TxKind = "delist"
)

// Entity is an NFT known to the marketplace. All timestamps are Unix milliseconds;
// UpdatedAt and Position identify the last event applied to the row.
type Entity struct {
	ID          string `meddler:"id"`
	Name        string `meddler:"name"`
	Description string `meddler:"description"`
	ImageRef    string `meddler:"image_ref"`
	Creator     string `meddler:"creator"`
	Owner       string `meddler:"owner"`
	CreatedAt   int64  `meddler:"created_at"`
	UpdatedAt   int64  `meddler:"updated_at"`
	Position    int64  `meddler:"event_position"`
}

// Listing is the single listing row of an entity. Price is a base-10 integer
// in the smallest currency unit.
type Listing struct {
	EntityID  string        `meddler:"entity_id"`
	Seller    string        `meddler:"seller"`
	Price     string        `meddler:"price,amount"`
	Status    ListingStatus `meddler:"status"`
	ListedAt  int64         `meddler:"listed_at"`
	UpdatedAt int64         `meddler:"updated_at"`
	Position  int64         `meddler:"event_position"`
}

// EventOrder places an event in ledger order: by timestamp, then by position within the
// same timestamp. Events are compared as (Timestamp, Position) pairs.
type EventOrder struct {
	Timestamp int64
	Position  int64
}

// Transaction is an append-only record of a marketplace action.
type Transaction struct {
	TxID      string  `meddler:"tx_id"`
	Kind      TxKind  `meddler:"kind"`
	EntityID  *string `meddler:"entity_id"`
	From      *string `meddler:"from_address"`
	To        *string `meddler:"to_address"`
	Price     *string `meddler:"price,amount"`
	Timestamp int64   `meddler:"timestamp"`
}

// CursorState is the indexer's persisted progress marker.
type CursorState struct {
	Checkpoint string
	EventSeq   uint64
	UpdatedAt  int64
}

// Stats aggregates marketplace activity. TotalVolume is the base-10 sum of purchase prices.
type Stats struct {
	TotalNFTs      int64  `json:"total_nfts"`
	ActiveListings int64  `json:"active_listings"`
	TotalSales     int64  `json:"total_sales"`
	TotalVolume    string `json:"total_volume"`
}
