package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/goran-ethernal/MarketIndexor/pkg/source"
)

// ErrMalformedEvent is wrapped by every decoding failure of a recognized event.
var ErrMalformedEvent = errors.New("malformed event")

// flexString accepts a JSON string or a JSON number and keeps its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// payload is the union of fields carried by marketplace events. Ledgers name the
// entity id either token_id or nft_id.
type payload struct {
	TokenID flexString `json:"token_id"`
	NFTID   flexString `json:"nft_id"`
	Creator string     `json:"creator"`
	Name    string     `json:"name"`
	Seller  string     `json:"seller"`
	Buyer   string     `json:"buyer"`
	Price   flexString `json:"price"`
}

func (p payload) entityID() string {
	if p.TokenID != "" {
		return string(p.TokenID)
	}
	return string(p.NFTID)
}

// Decode classifies raw and builds the matching event. Unrecognized kinds decode to Unknown
// without error; recognized kinds with missing or invalid fields return an error wrapping
// ErrMalformedEvent.
func Decode(raw source.RawEvent) (Event, error) {
	kind := ClassifyKind(raw.Kind)
	meta := metaOf(raw)

	if kind == KindUnknown {
		return Unknown{Meta: meta}, nil
	}

	if raw.TxID == "" {
		return nil, malformed(raw, "missing transaction id")
	}

	var p payload
	if len(bytes.TrimSpace(raw.Payload)) == 0 {
		return nil, malformed(raw, "empty payload")
	}
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, malformed(raw, err.Error())
	}

	id := p.entityID()
	if id == "" {
		return nil, malformed(raw, "missing entity id")
	}

	switch kind {
	case KindMinted:
		if p.Creator == "" {
			return nil, malformed(raw, "missing creator")
		}
		return Minted{Meta: meta, EntityID: id, Creator: p.Creator, Name: p.Name}, nil

	case KindListed:
		if p.Seller == "" {
			return nil, malformed(raw, "missing seller")
		}
		price, err := ParsePrice(string(p.Price))
		if err != nil {
			return nil, malformed(raw, err.Error())
		}
		return Listed{Meta: meta, EntityID: id, Seller: p.Seller, Price: price}, nil

	case KindPurchased:
		if p.Buyer == "" {
			return nil, malformed(raw, "missing buyer")
		}
		price, err := ParsePrice(string(p.Price))
		if err != nil {
			return nil, malformed(raw, err.Error())
		}
		return Purchased{Meta: meta, EntityID: id, Buyer: p.Buyer, Seller: p.Seller, Price: price}, nil

	case KindDelisted:
		return Delisted{Meta: meta, EntityID: id, Seller: p.Seller}, nil
	}

	return Unknown{Meta: meta}, nil
}

// ParsePrice parses a non-negative base-10 integer amount in the smallest currency unit.
func ParsePrice(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("missing price")
	}

	price, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", s)
	}
	if price.Sign() < 0 {
		return nil, fmt.Errorf("negative price %q", s)
	}

	return price, nil
}

func malformed(raw source.RawEvent, reason string) error {
	return fmt.Errorf("%w: kind=%s tx=%s: %s", ErrMalformedEvent, raw.Kind, raw.TxID, reason)
}
