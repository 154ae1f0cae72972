package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/MarketIndexor/internal/events"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/rpc/mocks"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	"github.com/goran-ethernal/MarketIndexor/pkg/source"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	contract = ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice    = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = ethcommon.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type tooManyResultsError struct{ data string }

func (e *tooManyResultsError) Error() string  { return "query returned more than 10000 results" }
func (e *tooManyResultsError) ErrorData() any { return e.data }

func newSource(t *testing.T, mutate func(*config.SourceConfig)) (*Source, *mocks.EthClient) {
	t.Helper()

	cfg := config.SourceConfig{
		Type:      config.SourceTypeEVM,
		Endpoint:  "http://localhost:8545",
		Contract:  contract.Hex(),
		ChunkSize: 100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	cfg.ApplyDefaults()

	client := mocks.NewEthClient(t)
	s, err := New(cfg, client, logger.NewNopLogger())
	require.NoError(t, err)

	return s, client
}

func header(number uint64) *types.Header {
	return &types.Header{Number: new(big.Int).SetUint64(number), Time: number * 10}
}

func testLog(t *testing.T, s *Source, name string, block uint64, index uint, indexed []ethcommon.Hash, data ...any) types.Log {
	t.Helper()

	event := s.abi.Events[name]
	packed, err := event.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)

	return types.Log{
		Address:     contract,
		Topics:      append([]ethcommon.Hash{event.ID}, indexed...),
		Data:        packed,
		BlockNumber: block,
		TxHash:      ethcommon.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
	}
}

func tokenTopic(id int64) ethcommon.Hash { return ethcommon.BigToHash(big.NewInt(id)) }

func addrTopic(a ethcommon.Address) ethcommon.Hash { return ethcommon.BytesToHash(a.Bytes()) }

func headersFor(blockNums []uint64) []*types.Header {
	headers := make([]*types.Header, len(blockNums))
	for i, n := range blockNums {
		headers[i] = header(n)
	}
	return headers
}

func TestNew_RejectsInvalidContract(t *testing.T) {
	cfg := config.SourceConfig{Contract: "marketplace"}
	cfg.ApplyDefaults()

	_, err := New(cfg, mocks.NewEthClient(t), logger.NewNopLogger())
	require.ErrorContains(t, err, "invalid source.contract")
}

func TestKinds(t *testing.T) {
	s, _ := newSource(t, nil)

	kinds := s.Kinds()
	require.Len(t, kinds, len(events.Names))
	for i, kind := range kinds {
		require.Equal(t, contract.Hex()+"::"+events.Names[i], kind)
	}
}

func TestFetchEvents_RecentWindowWithoutCheckpoint(t *testing.T) {
	s, client := newSource(t, nil)
	ctx := context.Background()

	minted := testLog(t, s, events.NameMinted, 950, 0, []ethcommon.Hash{tokenTopic(7), addrTopic(alice)}, "Seven")
	listed := testLog(t, s, events.NameListed, 960, 1, []ethcommon.Hash{tokenTopic(7), addrTopic(alice)}, big.NewInt(100))
	purchased := testLog(t, s, events.NamePurchased, 970, 2,
		[]ethcommon.Hash{tokenTopic(7), addrTopic(bob)}, alice, big.NewInt(100))

	client.EXPECT().GetFinalizedBlockHeader(mock.Anything).Return(header(1000), nil).Once()
	client.EXPECT().BatchGetLogs(mock.Anything, mock.Anything).RunAndReturn(
		func(_ context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
			require.Len(t, queries, len(events.Names))
			for i, q := range queries {
				require.Equal(t, uint64(901), q.FromBlock.Uint64())
				require.Equal(t, uint64(1000), q.ToBlock.Uint64())
				require.Equal(t, []ethcommon.Address{contract}, q.Addresses)
				require.Equal(t, s.abi.Events[events.Names[i]].ID, q.Topics[0][0])
			}
			// purchase delivered before the listing in its own page
			return [][]types.Log{{minted}, {listed}, {purchased}, {}}, nil
		}).Once()
	client.EXPECT().BatchGetBlockHeaders(mock.Anything, []uint64{950, 960, 970}).
		RunAndReturn(func(_ context.Context, blockNums []uint64) ([]*types.Header, error) {
			return headersFor(blockNums), nil
		}).Once()

	batch, err := s.FetchEvents(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "1001", batch.Next)
	require.Len(t, batch.Events, 3)

	first := batch.Events[0]
	require.Equal(t, contract.Hex()+"::"+events.NameMinted, first.Kind)
	require.Equal(t, fmt.Sprintf("%s:0", minted.TxHash.Hex()), first.TxID)
	require.Equal(t, int64(9500*1000), first.Timestamp)
	require.Equal(t, alice.Hex(), first.Sender)
	require.JSONEq(t, `{"token_id":"7","creator":"`+alice.Hex()+`","name":"Seven"}`, string(first.Payload))

	ev, err := events.Decode(batch.Events[2])
	require.NoError(t, err)
	purchase, ok := ev.(events.Purchased)
	require.True(t, ok)
	require.Equal(t, "7", purchase.EntityID)
	require.Equal(t, bob.Hex(), purchase.Buyer)
	require.Equal(t, alice.Hex(), purchase.Seller)
	require.Equal(t, "100", purchase.Price.String())
	require.Equal(t, int64(9700*1000), purchase.Timestamp)
}

func TestFetchEvents_CaughtUp(t *testing.T) {
	s, client := newSource(t, func(c *config.SourceConfig) { c.Finality = string(FinalityLatest) })

	client.EXPECT().GetLatestBlockHeader(mock.Anything).Return(header(1000), nil).Once()

	batch, err := s.FetchEvents(context.Background(), "1001")
	require.NoError(t, err)
	require.Empty(t, batch.Events)
	require.Equal(t, "1001", batch.Next)
}

func TestFetchEvents_StartBlockAndChunk(t *testing.T) {
	s, client := newSource(t, func(c *config.SourceConfig) {
		c.Finality = string(FinalitySafe)
		c.StartBlock = 500
		c.ChunkSize = 50
	})

	client.EXPECT().GetSafeBlockHeader(mock.Anything).Return(header(10_000), nil).Once()
	client.EXPECT().BatchGetLogs(mock.Anything, mock.Anything).RunAndReturn(
		func(_ context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
			require.Equal(t, uint64(500), queries[0].FromBlock.Uint64())
			require.Equal(t, uint64(549), queries[0].ToBlock.Uint64())
			return make([][]types.Log, len(queries)), nil
		}).Once()

	batch, err := s.FetchEvents(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, batch.Events)
	require.Equal(t, "550", batch.Next)
}

func TestFetchEvents_SameBlockOrderedByLogIndex(t *testing.T) {
	s, client := newSource(t, nil)

	listed := testLog(t, s, events.NameListed, 500, 1, []ethcommon.Hash{tokenTopic(3), addrTopic(alice)}, big.NewInt(100))
	delisted := testLog(t, s, events.NameDelisted, 500, 2, []ethcommon.Hash{tokenTopic(3), addrTopic(alice)})
	relisted := testLog(t, s, events.NameListed, 500, 3, []ethcommon.Hash{tokenTopic(3), addrTopic(alice)}, big.NewInt(150))

	client.EXPECT().GetFinalizedBlockHeader(mock.Anything).Return(header(500), nil).Once()
	client.EXPECT().BatchGetLogs(mock.Anything, mock.Anything).
		Return([][]types.Log{{}, {listed, relisted}, {}, {delisted}}, nil).Once()
	client.EXPECT().BatchGetBlockHeaders(mock.Anything, []uint64{500}).Return(headersFor([]uint64{500}), nil).Once()

	batch, err := s.FetchEvents(context.Background(), "500")
	require.NoError(t, err)
	require.Len(t, batch.Events, 3)

	require.Equal(t, contract.Hex()+"::"+events.NameListed, batch.Events[0].Kind)
	require.Equal(t, contract.Hex()+"::"+events.NameDelisted, batch.Events[1].Kind)
	require.Equal(t, contract.Hex()+"::"+events.NameListed, batch.Events[2].Kind)

	for i, ev := range batch.Events {
		require.Equal(t, int64(5000*1000), ev.Timestamp)
		require.Equal(t, logPosition(500, uint(i+1)), ev.Position)
	}
	require.Less(t, logPosition(499, 1<<logIndexBits-1), logPosition(500, 0))
}

func TestFetchEvents_InvalidCheckpoint(t *testing.T) {
	s, client := newSource(t, nil)

	client.EXPECT().GetFinalizedBlockHeader(mock.Anything).Return(header(10), nil).Once()

	_, err := s.FetchEvents(context.Background(), `{"kind":1}`)
	require.ErrorContains(t, err, "invalid checkpoint")
}

func TestFetchEvents_HeadError(t *testing.T) {
	s, client := newSource(t, nil)

	client.EXPECT().GetFinalizedBlockHeader(mock.Anything).Return(nil, errors.New("connection refused")).Once()

	_, err := s.FetchEvents(context.Background(), "1")
	require.ErrorContains(t, err, "failed to get finalized head")
}

func TestFetchEvents_TruncatesToPageSize(t *testing.T) {
	s, client := newSource(t, func(c *config.SourceConfig) { c.PageSize = 2 })

	delist := func(block uint64, index uint) types.Log {
		return testLog(t, s, events.NameDelisted, block, index, []ethcommon.Hash{tokenTopic(int64(block)), addrTopic(alice)})
	}

	client.EXPECT().GetFinalizedBlockHeader(mock.Anything).Return(header(100), nil).Once()
	client.EXPECT().BatchGetLogs(mock.Anything, mock.Anything).Return([][]types.Log{
		{},
		{testLog(t, s, events.NameListed, 12, 0, []ethcommon.Hash{tokenTopic(1), addrTopic(alice)}, big.NewInt(1))},
		{},
		{delist(12, 1), delist(10, 0), delist(11, 0)},
	}, nil).Once()
	client.EXPECT().BatchGetBlockHeaders(mock.Anything, []uint64{10, 11}).
		Return(headersFor([]uint64{10, 11}), nil).Once()

	batch, err := s.FetchEvents(context.Background(), "10")
	require.NoError(t, err)
	require.Equal(t, "12", batch.Next)
	require.Len(t, batch.Events, 2)
	for _, ev := range batch.Events {
		require.Equal(t, contract.Hex()+"::"+events.NameDelisted, ev.Kind)
	}
}

func TestFetchEvents_KeepsCrowdedFirstBlockWhole(t *testing.T) {
	s, client := newSource(t, func(c *config.SourceConfig) { c.PageSize = 2 })

	logs := make([]types.Log, 0, 3)
	for i := range uint(3) {
		logs = append(logs, testLog(t, s, events.NameDelisted, 10, i, []ethcommon.Hash{tokenTopic(int64(i)), addrTopic(alice)}))
	}

	client.EXPECT().GetFinalizedBlockHeader(mock.Anything).Return(header(100), nil).Once()
	client.EXPECT().BatchGetLogs(mock.Anything, mock.Anything).Return([][]types.Log{{}, {}, {}, logs}, nil).Once()
	client.EXPECT().BatchGetBlockHeaders(mock.Anything, []uint64{10}).Return(headersFor([]uint64{10}), nil).Once()

	batch, err := s.FetchEvents(context.Background(), "10")
	require.NoError(t, err)
	require.Equal(t, "11", batch.Next)
	require.Len(t, batch.Events, 3)
}

func TestFetchEvents_NarrowsRangeOnTooManyResults(t *testing.T) {
	s, client := newSource(t, nil)

	client.EXPECT().GetFinalizedBlockHeader(mock.Anything).Return(header(1000), nil).Once()
	client.EXPECT().BatchGetLogs(mock.Anything, mock.Anything).Return(nil, &tooManyResultsError{
		data: "Query returned more than 10000 results. Try with this block range [0x64, 0x78].",
	}).Once()
	client.EXPECT().BatchGetLogs(mock.Anything, mock.Anything).RunAndReturn(
		func(_ context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
			require.Equal(t, uint64(100), queries[0].FromBlock.Uint64())
			require.Equal(t, uint64(120), queries[0].ToBlock.Uint64())
			return make([][]types.Log, len(queries)), nil
		}).Once()

	batch, err := s.FetchEvents(context.Background(), "100")
	require.NoError(t, err)
	require.Equal(t, "121", batch.Next)
}

func TestFetchEvents_MalformedLogIsLeftForDecoder(t *testing.T) {
	s, client := newSource(t, nil)

	bad := testLog(t, s, events.NameListed, 20, 0, []ethcommon.Hash{tokenTopic(1)}, big.NewInt(5))

	client.EXPECT().GetFinalizedBlockHeader(mock.Anything).Return(header(50), nil).Once()
	client.EXPECT().BatchGetLogs(mock.Anything, mock.Anything).Return([][]types.Log{{}, {bad}, {}, {}}, nil).Once()
	client.EXPECT().BatchGetBlockHeaders(mock.Anything, []uint64{20}).Return(headersFor([]uint64{20}), nil).Once()

	batch, err := s.FetchEvents(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	require.JSONEq(t, `{}`, string(batch.Events[0].Payload))

	_, err = events.Decode(batch.Events[0])
	require.ErrorIs(t, err, events.ErrMalformedEvent)
}

func TestGetEntity(t *testing.T) {
	s, client := newSource(t, nil)
	ctx := context.Background()

	out, err := s.abi.Methods[getNFTMethod].Outputs.Pack("Seven", "lucky", "ipfs://7", alice, bob)
	require.NoError(t, err)

	client.EXPECT().CallContract(mock.Anything, mock.Anything, (*big.Int)(nil)).RunAndReturn(
		func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			require.Equal(t, contract, *msg.To)

			args, err := s.abi.Methods[getNFTMethod].Inputs.Unpack(msg.Data[4:])
			require.NoError(t, err)
			if args[0].(*big.Int).Int64() == 7 {
				return out, nil
			}
			return nil, errors.New("execution reverted: unknown token")
		})

	details, err := s.GetEntity(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, &source.EntityDetails{
		ID:          "7",
		Name:        "Seven",
		Description: "lucky",
		ImageRef:    "ipfs://7",
		Creator:     alice.Hex(),
		Owner:       bob.Hex(),
	}, details)

	_, err = s.GetEntity(ctx, "8")
	require.ErrorIs(t, err, source.ErrEntityNotFound)

	_, err = s.GetEntity(ctx, "not-a-number")
	require.ErrorContains(t, err, "invalid token id")
}

func TestDecodeLog_PayloadFields(t *testing.T) {
	s, _ := newSource(t, nil)

	l := testLog(t, s, events.NamePurchased, 1, 0, []ethcommon.Hash{tokenTopic(42), addrTopic(bob)}, alice, big.NewInt(1_000_000))

	payload, err := decodeLog(s.abi.Events[events.NamePurchased], &l)
	require.NoError(t, err)

	encoded, err := json.Marshal(payload)
	require.NoError(t, err)
	require.JSONEq(t, fmt.Sprintf(`{"token_id":"42","buyer":%q,"seller":%q,"price":"1000000"}`, bob.Hex(), alice.Hex()), string(encoded))
}
