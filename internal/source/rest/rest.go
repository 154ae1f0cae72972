// Package rest implements the event source on top of a ledger REST API that serves
// per-kind event pages and read-only view calls.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/events"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/rpc"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	"github.com/goran-ethernal/MarketIndexor/pkg/source"
)

var (
	_ source.Source        = (*Source)(nil)
	_ source.EntityFetcher = (*Source)(nil)
)

const (
	eventsPath = "/v1/events"
	viewPath   = "/v1/view"

	methodEvents = "rest_events"
	methodView   = "rest_view"

	maxErrorBody = 1024
)

// ledgerEvent is one entry of an events page.
type ledgerEvent struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	Sender         string          `json:"sender"`
	SequenceNumber decimal         `json:"sequence_number"`
	TransactionID  string          `json:"transaction_id"`
	Timestamp      decimal         `json:"timestamp"`
	Version        decimal         `json:"version"`
}

// decimal is an unsigned integer sent either as a JSON number or a decimal string.
type decimal uint64

func (d *decimal) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned integer %s: %w", data, err)
	}

	*d = decimal(v)
	return nil
}

type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []string `json:"arguments"`
}

// viewEntity accepts a numeric or string id.
type viewEntity struct {
	source.EntityDetails
	ID json.RawMessage `json:"id"`
}

// Source fetches marketplace events from the ledger REST API. The checkpoint is a JSON
// object mapping each kind to the next sequence number to read.
type Source struct {
	endpoint string
	contract string
	module   string
	pageSize int
	kinds    []string
	client   *http.Client
	retry    *config.RetryConfig
	log      *logger.Logger
}

// New creates a REST source for cfg.
func New(cfg config.SourceConfig, log *logger.Logger) (*Source, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid source.endpoint %q: %w", cfg.Endpoint, err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = source.PageSize
	}

	kinds := make([]string, 0, len(events.Names))
	for _, name := range events.Names {
		kinds = append(kinds, fmt.Sprintf("%s::%s::%s", cfg.Contract, cfg.Module, name))
	}

	return &Source{
		endpoint: endpoint,
		contract: cfg.Contract,
		module:   cfg.Module,
		pageSize: pageSize,
		kinds:    kinds,
		client:   &http.Client{Timeout: cfg.RequestTimeout.Duration},
		retry:    cfg.Retry,
		log:      log.WithComponent(common.ComponentSource),
	}, nil
}

// Kinds returns the fully qualified event kinds fetched every cycle.
func (s *Source) Kinds() []string {
	return append([]string(nil), s.kinds...)
}

// FetchEvents reads one page per kind after the checkpoint, merged in timestamp order.
func (s *Source) FetchEvents(ctx context.Context, checkpoint string) (*source.Batch, error) {
	cursors := s.decodeCheckpoint(checkpoint)
	next := maps.Clone(cursors)

	all := make([]source.RawEvent, 0)
	for _, kind := range s.kinds {
		start, resume := cursors[kind]

		page, err := s.fetchKind(ctx, kind, start, resume)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s events: %w", kind, err)
		}

		for _, e := range page {
			eventKind := e.Type
			if eventKind == "" {
				eventKind = kind
			}

			all = append(all, source.RawEvent{
				Kind:      eventKind,
				Payload:   e.Data,
				Sender:    e.Sender,
				TxID:      e.TransactionID,
				Timestamp: int64(e.Timestamp),
				Position:  int64(e.Version),
			})

			if seq := uint64(e.SequenceNumber) + 1; seq > next[kind] {
				next[kind] = seq
			}
		}

		s.log.Debugw("fetched events", "kind", kind, "count", len(page), "start", start, "resume", resume)
	}

	source.SortEvents(all)

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	return &source.Batch{Events: all, Next: string(encoded)}, nil
}

func (s *Source) decodeCheckpoint(checkpoint string) map[string]uint64 {
	cursors := make(map[string]uint64, len(s.kinds))
	if checkpoint == "" {
		return cursors
	}

	if err := json.Unmarshal([]byte(checkpoint), &cursors); err != nil {
		s.log.Warnw("ignoring unreadable checkpoint, fetching the most recent page", "checkpoint", checkpoint, "error", err)
		return make(map[string]uint64, len(s.kinds))
	}

	return cursors
}

func (s *Source) fetchKind(ctx context.Context, kind string, start uint64, resume bool) ([]ledgerEvent, error) {
	query := url.Values{}
	query.Set("event_type", kind)
	query.Set("limit", strconv.Itoa(s.pageSize))
	if resume {
		query.Set("start", strconv.FormatUint(start, 10))
	}

	var page []ledgerEvent
	if err := s.doJSON(ctx, methodEvents, http.MethodGet, s.endpoint+eventsPath+"?"+query.Encode(), nil, &page); err != nil {
		return nil, err
	}

	if len(page) > s.pageSize {
		page = page[:s.pageSize]
	}

	return page, nil
}

// GetEntity reads entity details through the marketplace get_nft view.
func (s *Source) GetEntity(ctx context.Context, id string) (*source.EntityDetails, error) {
	body, err := json.Marshal(viewRequest{
		Function:      fmt.Sprintf("%s::%s::get_nft", s.contract, s.module),
		TypeArguments: []string{},
		Arguments:     []string{id},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode view request: %w", err)
	}

	var values []viewEntity
	err = s.doJSON(ctx, methodView, http.MethodPost, s.endpoint+viewPath, body, &values)
	if err != nil {
		var statusErr *rpc.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", source.ErrEntityNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch entity %s: %w", id, err)
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", source.ErrEntityNotFound, id)
	}

	details := values[0].EntityDetails
	details.ID = strings.Trim(string(values[0].ID), `"`)
	if details.ID == "" {
		details.ID = id
	}

	return &details, nil
}

func (s *Source) doJSON(ctx context.Context, method, httpMethod, target string, body []byte, out any) error {
	return rpc.WithRetry(ctx, s.retry, method, func() error {
		rpc.MethodInc(method)

		err := s.roundTrip(ctx, httpMethod, target, body, out)
		if err != nil {
			rpc.MethodError(method, errorLabel(err))
		}
		return err
	})
}

func (s *Source) roundTrip(ctx context.Context, httpMethod, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.log.Warnw("failed to close response body", "url", target, "error", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &rpc.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func errorLabel(err error) string {
	var statusErr *rpc.StatusError
	if errors.As(err, &statusErr) {
		return strconv.Itoa(statusErr.StatusCode)
	}
	return "transport"
}
