package events

import (
	"math/big"

	"github.com/goran-ethernal/MarketIndexor/pkg/source"
	pkgstore "github.com/goran-ethernal/MarketIndexor/pkg/store"
)

// Meta carries the fields common to every event.
type Meta struct {
	Kind      string
	TxID      string
	Sender    string
	Timestamp int64
	Position  int64
}

// Header returns the common event fields.
func (m Meta) Header() Meta { return m }

// Order places the event in ledger order.
func (m Meta) Order() pkgstore.EventOrder {
	return pkgstore.EventOrder{Timestamp: m.Timestamp, Position: m.Position}
}

// Event is one of Minted, Listed, Purchased, Delisted or Unknown.
type Event interface {
	isEvent()
	Header() Meta
}

type Minted struct {
	Meta
	EntityID string
	Creator  string
	Name     string
}

type Listed struct {
	Meta
	EntityID string
	Seller   string
	Price    *big.Int
}

type Purchased struct {
	Meta
	EntityID string
	Buyer    string
	Seller   string
	Price    *big.Int
}

type Delisted struct {
	Meta
	EntityID string
	Seller   string
}

// Unknown is an event whose kind is not recognized. It is logged and dropped.
type Unknown struct {
	Meta
}

func (Minted) isEvent()    {}
func (Listed) isEvent()    {}
func (Purchased) isEvent() {}
func (Delisted) isEvent()  {}
func (Unknown) isEvent()   {}

func metaOf(raw source.RawEvent) Meta {
	return Meta{
		Kind:      raw.Kind,
		TxID:      raw.TxID,
		Sender:    raw.Sender,
		Timestamp: raw.Timestamp,
		Position:  raw.Position,
	}
}
