package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/store"
	pkgconfig "github.com/goran-ethernal/MarketIndexor/pkg/config"
	pkgstore "github.com/goran-ethernal/MarketIndexor/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	listingStatus string
	txLimit       int
	ownerAddress  string
)

func addQueryCommands(root *cobra.Command) {
	listingsCmd.Flags().StringVar(&listingStatus, "status", "", "filter by status: active, sold or delisted")
	transactionsCmd.Flags().IntVar(&txLimit, "limit", 20, "maximum number of transactions, 0 for all")
	entitiesCmd.Flags().StringVar(&ownerAddress, "owner", "", "owner address")
	_ = entitiesCmd.MarkFlagRequired("owner")

	root.AddCommand(statsCmd, listingsCmd, transactionsCmd, entitiesCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show marketplace totals",
	RunE: withStore(func(cmd *cobra.Command, cfg *pkgconfig.Config, s pkgstore.Store) error {
		stats, err := s.GetStats(cmd.Context())
		if err != nil {
			return err
		}

		volume, err := formatPrice(stats.TotalVolume, cfg.Display)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "NFTs:            %d\n", stats.TotalNFTs)
		fmt.Fprintf(out, "Active listings: %d\n", stats.ActiveListings)
		fmt.Fprintf(out, "Sales:           %d\n", stats.TotalSales)
		fmt.Fprintf(out, "Volume:          %s\n", volume)
		return nil
	}),
}

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "List marketplace listings, newest first",
	RunE: withStore(func(cmd *cobra.Command, cfg *pkgconfig.Config, s pkgstore.Store) error {
		var status *pkgstore.ListingStatus
		if listingStatus != "" {
			st := pkgstore.ListingStatus(common.ToLowerWithTrim(listingStatus))
			if !st.Valid() {
				return fmt.Errorf("invalid status %q: must be one of active, sold, delisted", listingStatus)
			}
			status = &st
		}

		listings, err := s.ListListings(cmd.Context(), status)
		if err != nil {
			return err
		}

		return writeListings(cmd.OutOrStdout(), listings, cfg.Display)
	}),
}

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List recent marketplace transactions",
	RunE: withStore(func(cmd *cobra.Command, cfg *pkgconfig.Config, s pkgstore.Store) error {
		txs, err := s.ListTransactions(cmd.Context(), txLimit)
		if err != nil {
			return err
		}

		return writeTransactions(cmd.OutOrStdout(), txs, cfg.Display)
	}),
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List NFTs held by an owner",
	RunE: withStore(func(cmd *cobra.Command, cfg *pkgconfig.Config, s pkgstore.Store) error {
		entities, err := s.ListEntitiesByOwner(cmd.Context(), ownerAddress)
		if err != nil {
			return err
		}

		return writeEntities(cmd.OutOrStdout(), entities)
	}),
}

// withStore opens the configured database for the duration of a query command.
func withStore(run func(cmd *cobra.Command, cfg *pkgconfig.Config, s pkgstore.Store) error) func(
	*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := store.New(cfg.DB, nil, logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer s.Close()

		return run(cmd, cfg, s)
	}
}

// formatPrice converts an amount in the smallest currency unit to its display form.
func formatPrice(amount string, display pkgconfig.DisplayConfig) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", amount, err)
	}

	s := d.Shift(-display.GetDecimals()).String()
	if display.Symbol != "" {
		s += " " + display.Symbol
	}
	return s, nil
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func writeListings(w io.Writer, listings []*pkgstore.Listing, display pkgconfig.DisplayConfig) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tSELLER\tPRICE\tSTATUS\tLISTED AT")
	for _, l := range listings {
		price, err := formatPrice(l.Price, display)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.EntityID, l.Seller, price, l.Status, formatTime(l.ListedAt))
	}
	return tw.Flush()
}

func writeTransactions(w io.Writer, txs []*pkgstore.Transaction, display pkgconfig.DisplayConfig) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TX\tKIND\tENTITY\tFROM\tTO\tPRICE\tTIME")
	for _, tx := range txs {
		price := "-"
		if tx.Price != nil {
			var err error
			if price, err = formatPrice(*tx.Price, display); err != nil {
				return err
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.TxID, tx.Kind, deref(tx.EntityID), deref(tx.From), deref(tx.To), price, formatTime(tx.Timestamp))
	}
	return tw.Flush()
}

func writeEntities(w io.Writer, entities []*pkgstore.Entity) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATOR\tUPDATED AT")
	for _, e := range entities {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Creator, formatTime(e.UpdatedAt))
	}
	return tw.Flush()
}
