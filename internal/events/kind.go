// Package events turns raw ledger events into typed marketplace events.
package events

import "strings"

// Kind is the marketplace action an event kind string maps to.
type Kind int

const (
	KindUnknown Kind = iota
	KindMinted
	KindListed
	KindPurchased
	KindDelisted
)

// Event names as emitted by the marketplace contract.
const (
	NameMinted    = "NFTMinted"
	NameListed    = "NFTListed"
	NamePurchased = "NFTPurchased"
	NameDelisted  = "NFTDelisted"
)

// Names lists the recognized event names in fetch order.
var Names = []string{NameMinted, NameListed, NamePurchased, NameDelisted}

func (k Kind) String() string {
	switch k {
	case KindMinted:
		return "minted"
	case KindListed:
		return "listed"
	case KindPurchased:
		return "purchased"
	case KindDelisted:
		return "delisted"
	default:
		return "unknown"
	}
}

// ClassifyKind maps a kind string to a Kind using the segment after the last "::",
// or the whole string when it has none.
func ClassifyKind(kind string) Kind {
	name := kind
	if idx := strings.LastIndex(kind, "::"); idx != -1 {
		name = kind[idx+2:]
	}

	switch name {
	case NameMinted:
		return KindMinted
	case NameListed:
		return KindListed
	case NamePurchased:
		return KindPurchased
	case NameDelisted:
		return KindDelisted
	default:
		return KindUnknown
	}
}
