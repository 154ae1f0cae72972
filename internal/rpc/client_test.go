package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

type jsonRPCRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// newJSONRPCServer answers single and batch JSON-RPC requests with handle's result.
// A non-zero status short-circuits the request with that HTTP status.
func newJSONRPCServer(t *testing.T, status func() int, handle func(req jsonRPCRequest) any) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := status(); code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")

		if bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
			var reqs []jsonRPCRequest
			require.NoError(t, json.Unmarshal(body, &reqs))

			resps := make([]jsonRPCResponse, len(reqs))
			for i, req := range reqs {
				resps[i] = jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: handle(req)}
			}
			require.NoError(t, json.NewEncoder(w).Encode(resps))
			return
		}

		var req jsonRPCRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.NoError(t, json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: handle(req)}))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func okStatus() int { return 0 }

func testHeader(number uint64) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Difficulty: big.NewInt(1),
		GasLimit:   30_000_000,
		Time:       1_700_000_000 + number,
	}
}

func dial(t *testing.T, url string, retry *config.RetryConfig) *Client {
	t.Helper()

	client, err := NewClient(context.Background(), url, retry, time.Second)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestClient_BatchGetLogs(t *testing.T) {
	contract := ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	topic := ethcommon.HexToHash("0x01")

	log := types.Log{
		Address:     contract,
		Topics:      []ethcommon.Hash{topic},
		Data:        []byte{0x01},
		BlockNumber: 10,
		TxHash:      ethcommon.HexToHash("0xbeef"),
		BlockHash:   ethcommon.HexToHash("0xb10c"),
		Index:       3,
	}

	srv := newJSONRPCServer(t, okStatus, func(req jsonRPCRequest) any {
		require.Equal(t, "eth_getLogs", req.Method)

		var filter map[string]any
		require.NoError(t, json.Unmarshal(req.Params[0], &filter))
		if filter["topics"] == nil {
			return []types.Log{}
		}
		return []types.Log{log}
	})

	client := dial(t, srv.URL, nil)

	results, err := client.BatchGetLogs(context.Background(), []ethereum.FilterQuery{
		{FromBlock: big.NewInt(1), ToBlock: big.NewInt(10), Addresses: []ethcommon.Address{contract}, Topics: [][]ethcommon.Hash{{topic}}},
		{FromBlock: big.NewInt(1), ToBlock: big.NewInt(10), Addresses: []ethcommon.Address{contract}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, results[0], 1)
	require.Empty(t, results[1])
	require.Equal(t, log.TxHash, results[0][0].TxHash)
	require.Equal(t, uint(3), results[0][0].Index)
}

func TestClient_BatchGetBlockHeaders(t *testing.T) {
	srv := newJSONRPCServer(t, okStatus, func(req jsonRPCRequest) any {
		require.Equal(t, "eth_getBlockByNumber", req.Method)

		var hexNum string
		require.NoError(t, json.Unmarshal(req.Params[0], &hexNum))
		num, err := common.ParseUint64orHex(&hexNum)
		require.NoError(t, err)

		return testHeader(num)
	})

	client := dial(t, srv.URL, nil)

	blockNums := make([]uint64, 150)
	for i := range blockNums {
		blockNums[i] = uint64(i + 1)
	}

	headers, err := client.BatchGetBlockHeaders(context.Background(), blockNums)
	require.NoError(t, err)
	require.Len(t, headers, len(blockNums))
	for i, header := range headers {
		require.Equal(t, blockNums[i], header.Number.Uint64())
		require.Equal(t, 1_700_000_000+blockNums[i], header.Time)
	}
}

func TestClient_BatchGetBlockHeaders_MissingBlock(t *testing.T) {
	srv := newJSONRPCServer(t, okStatus, func(jsonRPCRequest) any { return nil })

	client := dial(t, srv.URL, nil)

	_, err := client.BatchGetBlockHeaders(context.Background(), []uint64{7})
	require.ErrorContains(t, err, "block 7 not found")
}

func TestClient_CallContract(t *testing.T) {
	srv := newJSONRPCServer(t, okStatus, func(req jsonRPCRequest) any {
		require.Equal(t, "eth_call", req.Method)
		return "0x1234"
	})

	client := dial(t, srv.URL, nil)
	to := ethcommon.HexToAddress("0xaa")

	out, err := client.CallContract(context.Background(), ethereum.CallMsg{To: &to, Data: []byte{0x01}}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x12, 0x34}, out)
}

func TestClient_RetriesServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	status := func() int {
		if calls.Add(1) == 1 {
			return http.StatusServiceUnavailable
		}
		return 0
	}

	srv := newJSONRPCServer(t, status, func(jsonRPCRequest) any { return testHeader(42) })

	retry := &config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
	}
	client := dial(t, srv.URL, retry)

	header, err := client.GetLatestBlockHeader(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), header.Number.Uint64())
	require.Equal(t, int32(2), calls.Load())
}

func TestClient_SingleAttemptWithoutRetryConfig(t *testing.T) {
	var calls atomic.Int32
	status := func() int {
		calls.Add(1)
		return http.StatusServiceUnavailable
	}

	srv := newJSONRPCServer(t, status, func(jsonRPCRequest) any { return nil })
	client := dial(t, srv.URL, nil)

	_, err := client.GetFinalizedBlockHeader(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestToFilterArg(t *testing.T) {
	contract := ethcommon.HexToAddress("0x1234567890123456789012345678901234567890")
	other := ethcommon.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	topic := ethcommon.HexToHash("0x1111")
	blockHash := ethcommon.HexToHash("0xdeadbeef")

	tests := []struct {
		name     string
		query    ethereum.FilterQuery
		expected map[string]any
	}{
		{
			name: "single contract and range",
			query: ethereum.FilterQuery{
				FromBlock: big.NewInt(100),
				ToBlock:   big.NewInt(200),
				Addresses: []ethcommon.Address{contract},
				Topics:    [][]ethcommon.Hash{{topic}},
			},
			expected: map[string]any{
				"fromBlock": "0x64",
				"toBlock":   "0xc8",
				"address":   contract,
				"topics":    [][]ethcommon.Hash{{topic}},
			},
		},
		{
			name: "multiple addresses",
			query: ethereum.FilterQuery{
				Addresses: []ethcommon.Address{contract, other},
			},
			expected: map[string]any{
				"address": []ethcommon.Address{contract, other},
				"topics":  [][]ethcommon.Hash(nil),
			},
		},
		{
			name: "block hash wins over range",
			query: ethereum.FilterQuery{
				BlockHash: &blockHash,
				FromBlock: big.NewInt(1),
				ToBlock:   big.NewInt(2),
			},
			expected: map[string]any{
				"blockHash": blockHash,
				"topics":    [][]ethcommon.Hash(nil),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, toFilterArg(tt.query))
		})
	}
}

func TestToBlockNumArg(t *testing.T) {
	require.Equal(t, "0x0", toBlockNumArg(0))
	require.Equal(t, "0x3e8", toBlockNumArg(1000))
	require.Equal(t, "0x112a880", toBlockNumArg(18000000))
}
