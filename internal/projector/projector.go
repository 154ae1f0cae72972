package projector

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/events"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/metrics"
	"github.com/goran-ethernal/MarketIndexor/pkg/source"
	pkgstore "github.com/goran-ethernal/MarketIndexor/pkg/store"
)

// Projector applies classified events to the marketplace store.
// Every write it issues is idempotent, so replaying an event is safe.
type Projector struct {
	store   pkgstore.Store
	fetcher source.EntityFetcher
	log     *logger.Logger
}

// New creates a projector. fetcher may be nil, in which case mints are written from event data only.
func New(store pkgstore.Store, fetcher source.EntityFetcher, log *logger.Logger) *Projector {
	return &Projector{
		store:   store,
		fetcher: fetcher,
		log:     log.WithComponent(common.ComponentProjector),
	}
}

// Apply projects ev and records its transaction. A returned error is a persistence failure;
// the caller should retry the event later.
func (p *Projector) Apply(ctx context.Context, ev events.Event) error {
	var (
		tx       *pkgstore.Transaction
		outcome  = metrics.EventApplied
		kindName string
		err      error
	)

	switch e := ev.(type) {
	case events.Minted:
		kindName = events.KindMinted.String()
		var degraded bool
		degraded, err = p.applyMinted(ctx, e)
		if degraded {
			outcome = metrics.EventDegraded
		}
		tx = newTransaction(e.Meta, pkgstore.TxMint, e.EntityID)
		tx.To = &e.Creator

	case events.Listed:
		kindName = events.KindListed.String()
		err = p.applyListed(ctx, e)
		tx = newTransaction(e.Meta, pkgstore.TxList, e.EntityID)
		tx.From = &e.Seller
		tx.Price = priceString(e.Price)

	case events.Purchased:
		kindName = events.KindPurchased.String()
		err = p.applyPurchased(ctx, e)
		tx = newTransaction(e.Meta, pkgstore.TxPurchase, e.EntityID)
		tx.To = &e.Buyer
		if e.Seller != "" {
			tx.From = &e.Seller
		}
		tx.Price = priceString(e.Price)

	case events.Delisted:
		kindName = events.KindDelisted.String()
		err = p.applyDelisted(ctx, e)
		tx = newTransaction(e.Meta, pkgstore.TxDelist, e.EntityID)
		if e.Seller != "" {
			tx.From = &e.Seller
		}

	case events.Unknown:
		metrics.EventInc(events.KindUnknown.String(), metrics.EventIgnored)
		p.log.Infow("ignoring unknown event", "kind", e.Kind, "tx", e.TxID)
		return nil

	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}

	if err != nil {
		metrics.EventInc(kindName, metrics.EventFailed)
		return err
	}

	inserted, err := p.store.AppendTransaction(ctx, tx)
	if err != nil {
		metrics.EventInc(kindName, metrics.EventFailed)
		return fmt.Errorf("failed to record transaction %s: %w", tx.TxID, err)
	}
	if !inserted {
		p.log.Debugw("duplicate transaction ignored", "tx", tx.TxID, "kind", kindName)
	}

	metrics.EventInc(kindName, outcome)
	return nil
}

// applyMinted writes the entity, preferring ledger details over event fields.
// A failed detail fetch degrades to the event's name and is never fatal.
func (p *Projector) applyMinted(ctx context.Context, e events.Minted) (degraded bool, err error) {
	entity := &pkgstore.Entity{
		ID:        e.EntityID,
		Name:      e.Name,
		Creator:   e.Creator,
		Owner:     e.Creator,
		CreatedAt: e.Timestamp,
		UpdatedAt: e.Timestamp,
		Position:  e.Position,
	}

	if p.fetcher != nil {
		details, fetchErr := p.fetcher.GetEntity(ctx, e.EntityID)
		switch {
		case fetchErr != nil:
			degraded = true
			p.log.Warnw("entity detail fetch failed, writing event data only",
				"id", e.EntityID, "tx", e.TxID, "error", fetchErr)
		case details != nil:
			if details.Name != "" {
				entity.Name = details.Name
			}
			entity.Description = details.Description
			entity.ImageRef = details.ImageRef
		}
	}

	if err := p.store.UpsertEntity(ctx, entity); err != nil {
		return degraded, fmt.Errorf("failed to project mint of %s: %w", e.EntityID, err)
	}

	return degraded, nil
}

func (p *Projector) applyListed(ctx context.Context, e events.Listed) error {
	err := p.store.UpsertListing(ctx, &pkgstore.Listing{
		EntityID:  e.EntityID,
		Seller:    e.Seller,
		Price:     e.Price.String(),
		Status:    pkgstore.ListingActive,
		ListedAt:  e.Timestamp,
		UpdatedAt: e.Timestamp,
		Position:  e.Position,
	})
	if err != nil {
		return fmt.Errorf("failed to project listing of %s: %w", e.EntityID, err)
	}

	return nil
}

// applyPurchased marks the listing sold and moves ownership. The two writes are independent:
// both are attempted and a missing row on either side is not an error.
func (p *Projector) applyPurchased(ctx context.Context, e events.Purchased) error {
	var errs []error

	sold, err := p.store.UpdateListingStatus(ctx, e.EntityID, pkgstore.ListingSold, e.Order())
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to mark listing %s sold: %w", e.EntityID, err))
	} else if !sold {
		p.log.Debugw("purchase matched no listing", "id", e.EntityID, "tx", e.TxID)
	}

	moved, err := p.store.UpdateEntityOwner(ctx, e.EntityID, e.Buyer, e.Order())
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to transfer %s to %s: %w", e.EntityID, e.Buyer, err))
	} else if !moved {
		p.log.Debugw("purchase matched no entity", "id", e.EntityID, "tx", e.TxID)
	}

	return errors.Join(errs...)
}

func (p *Projector) applyDelisted(ctx context.Context, e events.Delisted) error {
	delisted, err := p.store.UpdateListingStatus(ctx, e.EntityID, pkgstore.ListingDelisted, e.Order())
	if err != nil {
		return fmt.Errorf("failed to delist %s: %w", e.EntityID, err)
	}
	if !delisted {
		p.log.Debugw("delist matched no listing", "id", e.EntityID, "tx", e.TxID)
	}

	return nil
}

func newTransaction(meta events.Meta, kind pkgstore.TxKind, entityID string) *pkgstore.Transaction {
	return &pkgstore.Transaction{
		TxID:      meta.TxID,
		Kind:      kind,
		EntityID:  &entityID,
		Timestamp: meta.Timestamp,
	}
}

func priceString(price *big.Int) *string {
	if price == nil {
		return nil
	}
	s := price.String()
	return &s
}
