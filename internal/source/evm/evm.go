// Package evm implements the event source on top of an EVM JSON-RPC node.
// The checkpoint is the decimal number of the next block to scan.
package evm

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/events"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/rpc"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	pkgrpc "github.com/goran-ethernal/MarketIndexor/pkg/rpc"
	"github.com/goran-ethernal/MarketIndexor/pkg/source"
)

var (
	_ source.Source        = (*Source)(nil)
	_ source.EntityFetcher = (*Source)(nil)
)

// Source reads marketplace logs from an EVM chain.
type Source struct {
	client     pkgrpc.EthClient
	contract   ethcommon.Address
	abi        abi.ABI
	eventNames []string
	kinds      []string
	chunkSize  uint64
	startBlock uint64
	finality   Finality
	pageSize   int
	log        *logger.Logger
}

// New creates an EVM source reading the marketplace contract in cfg through client.
func New(cfg config.SourceConfig, client pkgrpc.EthClient, log *logger.Logger) (*Source, error) {
	if !ethcommon.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid source.contract %q: not a hex address", cfg.Contract)
	}

	finality, err := ParseFinality(cfg.Finality)
	if err != nil {
		return nil, err
	}

	parsed, err := parseMarketplaceABI()
	if err != nil {
		return nil, err
	}

	contract := ethcommon.HexToAddress(cfg.Contract)

	kinds := make([]string, 0, len(events.Names))
	for _, name := range events.Names {
		if _, ok := parsed.Events[name]; !ok {
			return nil, fmt.Errorf("marketplace ABI has no %s event", name)
		}
		kinds = append(kinds, contract.Hex()+"::"+name)
	}

	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = 1
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = source.PageSize
	}

	return &Source{
		client:     client,
		contract:   contract,
		abi:        parsed,
		eventNames: events.Names,
		kinds:      kinds,
		chunkSize:  chunkSize,
		startBlock: cfg.StartBlock,
		finality:   finality,
		pageSize:   pageSize,
		log:        log.WithComponent(common.ComponentSource),
	}, nil
}

// Kinds returns the event kinds as {contract}::{event}.
func (s *Source) Kinds() []string {
	return append([]string(nil), s.kinds...)
}

// FetchEvents scans at most chunk_size blocks from the checkpoint up to the head selected by
// the finality setting.
func (s *Source) FetchEvents(ctx context.Context, checkpoint string) (*source.Batch, error) {
	head, err := s.head(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s head: %w", s.finality, err)
	}

	from, err := s.fromBlock(checkpoint, head)
	if err != nil {
		return nil, err
	}

	if from > head {
		s.log.Debugw("no new blocks", "from", from, "head", head)
		return &source.Batch{Events: []source.RawEvent{}, Next: strconv.FormatUint(from, 10)}, nil
	}

	to := min(head, from+s.chunkSize-1)

	logsPerKind, to, err := s.getLogs(ctx, from, to)
	if err != nil {
		return nil, err
	}

	next := s.truncate(logsPerKind, from, to)

	var logs []types.Log
	for _, kindLogs := range logsPerKind {
		for _, l := range kindLogs {
			if l.Removed || l.BlockNumber >= next {
				continue
			}
			logs = append(logs, l)
		}
	}

	rawEvents, err := s.toRawEvents(ctx, logs)
	if err != nil {
		return nil, err
	}

	s.log.Debugw("scanned blocks", "from", from, "to", next-1, "head", head, "events", len(rawEvents))

	return &source.Batch{Events: rawEvents, Next: strconv.FormatUint(next, 10)}, nil
}

func (s *Source) head(ctx context.Context) (uint64, error) {
	header, err := s.finality.header(ctx, s.client)
	if err != nil {
		return 0, err
	}
	if header == nil || header.Number == nil {
		return 0, errors.New("node returned an empty header")
	}

	return header.Number.Uint64(), nil
}

// fromBlock resolves the first block to scan. Without a checkpoint it is start_block, or the
// last chunk_size blocks below head when no start block is configured.
func (s *Source) fromBlock(checkpoint string, head uint64) (uint64, error) {
	if checkpoint != "" {
		from, err := strconv.ParseUint(checkpoint, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid checkpoint %q: %w", checkpoint, err)
		}
		return from, nil
	}

	if s.startBlock > 0 {
		return s.startBlock, nil
	}

	if head+1 > s.chunkSize {
		return head + 1 - s.chunkSize, nil
	}
	return 0, nil
}

// getLogs fetches logs for every kind in [from, to], one filter per event topic in a single
// batch. When the node rejects the range as too large it retries once with the suggested end.
func (s *Source) getLogs(ctx context.Context, from, to uint64) ([][]types.Log, uint64, error) {
	logs, err := s.client.BatchGetLogs(ctx, s.queries(from, to))
	if err == nil {
		return logs, to, nil
	}

	tooMany, data := rpc.IsTooManyResultsError(err)
	if !tooMany {
		return nil, 0, fmt.Errorf("failed to get logs for blocks %d-%d: %w", from, to, err)
	}

	suggestedFrom, suggestedTo, ok := rpc.ParseSuggestedBlockRange(data)
	if !ok || suggestedFrom != from || suggestedTo >= to || suggestedTo < from {
		suggestedTo = from + (to-from)/2
	}

	s.log.Infow("narrowing block range", "from", from, "to", to, "new_to", suggestedTo)

	logs, err = s.client.BatchGetLogs(ctx, s.queries(from, suggestedTo))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get logs for blocks %d-%d: %w", from, suggestedTo, err)
	}

	return logs, suggestedTo, nil
}

func (s *Source) queries(from, to uint64) []ethereum.FilterQuery {
	queries := make([]ethereum.FilterQuery, 0, len(s.eventNames))
	for _, name := range s.eventNames {
		queries = append(queries, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []ethcommon.Address{s.contract},
			Topics:    [][]ethcommon.Hash{{s.abi.Events[name].ID}},
		})
	}
	return queries
}

// truncate caps every kind at the page size and returns the next block to scan. The cut is
// made at the block of the first dropped log so no block is ever half processed, unless that
// block is the first one of the range, which is then kept whole.
func (s *Source) truncate(logsPerKind [][]types.Log, from, to uint64) uint64 {
	next := to + 1

	for i := range logsPerKind {
		slices.SortStableFunc(logsPerKind[i], compareLogs)

		if len(logsPerKind[i]) <= s.pageSize {
			continue
		}

		cut := logsPerKind[i][s.pageSize].BlockNumber
		if cut <= from {
			cut = from + 1
		}
		next = min(next, cut)
	}

	return next
}

// logIndexBits is the room reserved for the log index inside a position.
const logIndexBits = 20

// logPosition orders logs across and within blocks.
func logPosition(block uint64, index uint) int64 {
	return int64(block<<logIndexBits | uint64(index))
}

func compareLogs(a, b types.Log) int {
	if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

func (s *Source) toRawEvents(ctx context.Context, logs []types.Log) ([]source.RawEvent, error) {
	rawEvents := make([]source.RawEvent, 0, len(logs))
	if len(logs) == 0 {
		return rawEvents, nil
	}

	slices.SortStableFunc(logs, compareLogs)

	timestamps, err := s.blockTimestamps(ctx, logs)
	if err != nil {
		return nil, err
	}

	byTopic := make(map[ethcommon.Hash]abi.Event, len(s.eventNames))
	for _, name := range s.eventNames {
		byTopic[s.abi.Events[name].ID] = s.abi.Events[name]
	}

	for i := range logs {
		l := &logs[i]
		if len(l.Topics) == 0 {
			continue
		}

		event, ok := byTopic[l.Topics[0]]
		if !ok {
			continue
		}

		raw := source.RawEvent{
			Kind:      s.contract.Hex() + "::" + event.Name,
			TxID:      fmt.Sprintf("%s:%d", l.TxHash.Hex(), l.Index),
			Timestamp: timestamps[l.BlockNumber],
			Position:  logPosition(l.BlockNumber, l.Index),
			Payload:   json.RawMessage("{}"),
		}

		payload, err := decodeLog(event, l)
		if err != nil {
			// left for the decoder to reject as malformed
			s.log.Warnw("failed to unpack log", "block", l.BlockNumber, "tx", l.TxHash.Hex(), "error", err)
		} else {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to encode payload: %w", err)
			}
			raw.Payload = encoded
			raw.Sender = payload[actorField[event.Name]]
		}

		rawEvents = append(rawEvents, raw)
	}

	source.SortEvents(rawEvents)

	return rawEvents, nil
}

// blockTimestamps returns block time in Unix milliseconds for every block that carries a log.
func (s *Source) blockTimestamps(ctx context.Context, logs []types.Log) (map[uint64]int64, error) {
	blockNums := make([]uint64, 0, len(logs))
	for _, l := range logs {
		if len(blockNums) == 0 || blockNums[len(blockNums)-1] != l.BlockNumber {
			blockNums = append(blockNums, l.BlockNumber)
		}
	}

	headers, err := s.client.BatchGetBlockHeaders(ctx, blockNums)
	if err != nil {
		return nil, fmt.Errorf("failed to get block headers: %w", err)
	}
	if len(headers) != len(blockNums) {
		return nil, fmt.Errorf("expected %d block headers, got %d", len(blockNums), len(headers))
	}

	timestamps := make(map[uint64]int64, len(headers))
	for i, header := range headers {
		if header == nil {
			return nil, fmt.Errorf("missing header for block %d", blockNums[i])
		}
		timestamps[blockNums[i]] = int64(header.Time) * 1000 //nolint:mnd
	}

	return timestamps, nil
}

// GetEntity reads entity details through the contract's getNFT view.
func (s *Source) GetEntity(ctx context.Context, id string) (*source.EntityDetails, error) {
	tokenID, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", id)
	}

	data, err := s.abi.Pack(getNFTMethod, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", getNFTMethod, err)
	}

	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.contract, Data: data}, nil)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
			return nil, fmt.Errorf("%w: %s", source.ErrEntityNotFound, id)
		}
		return nil, fmt.Errorf("failed to call %s(%s): %w", getNFTMethod, id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s (empty result)", source.ErrEntityNotFound, id)
	}

	values, err := s.abi.Unpack(getNFTMethod, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", getNFTMethod, err)
	}

	const outputs = 5
	if len(values) != outputs {
		return nil, fmt.Errorf("unexpected %s result arity %d", getNFTMethod, len(values))
	}

	name, _ := values[0].(string)
	description, _ := values[1].(string)
	imageURI, _ := values[2].(string)
	creator, _ := values[3].(ethcommon.Address)
	owner, _ := values[4].(ethcommon.Address)

	return &source.EntityDetails{
		ID:          id,
		Name:        name,
		Description: description,
		ImageRef:    imageURI,
		Creator:     creator.Hex(),
		Owner:       owner.Hex(),
	}, nil
}
