package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	pkgrpc "github.com/goran-ethernal/MarketIndexor/pkg/rpc"
)

// Compile-time check to ensure Client implements pkgrpc.EthClient interface.
var _ pkgrpc.EthClient = (*Client)(nil)

const maxHeaderBatch = 100

// Client wraps the Ethereum RPC client with retries, request timeouts and metrics.
type Client struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	retry   *config.RetryConfig
	timeout time.Duration
}

// NewClient creates a new RPC client connected to the given endpoint.
// A nil retry config means every request is attempted once.
func NewClient(ctx context.Context, endpoint string, retry *config.RetryConfig, timeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	return &Client{
		eth:     ethclient.NewClient(rpcClient),
		rpc:     rpcClient,
		retry:   retry,
		timeout: timeout,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// do runs fn with per-attempt timeout, retries and request metrics.
func (c *Client) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() { MethodDuration(method, time.Since(start)) }()

	err := WithRetry(ctx, c.retry, method, func() error {
		MethodInc(method)

		attemptCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err != nil {
			MethodError(method, errorType(err))
		}
		return err
	})

	return err
}

// GetLatestBlockHeader retrieves the latest block header.
func (c *Client) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, nil)
}

// GetFinalizedBlockHeader retrieves the finalized block header.
func (c *Client) GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
}

// GetSafeBlockHeader retrieves the safe block header.
func (c *Client) GetSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, big.NewInt(int64(rpc.SafeBlockNumber)))
}

func (c *Client) headerByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.do(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, number)
		return err
	})

	return header, err
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNum *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = c.eth.CallContract(ctx, msg, blockNum)
		return err
	})

	return out, err
}

// BatchGetLogs retrieves logs for multiple filter queries in a single batch call.
func (c *Client) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
	var results [][]types.Log

	err := c.do(ctx, "eth_getLogs", func(ctx context.Context) error {
		batch := make([]rpc.BatchElem, len(queries))
		results = make([][]types.Log, len(queries))

		for i, query := range queries {
			batch[i] = rpc.BatchElem{
				Method: "eth_getLogs",
				Args:   []any{toFilterArg(query)},
				Result: &results[i],
			}
		}

		return c.batchCall(ctx, batch)
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers, at most maxHeaderBatch per call.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	allResults := make([]*types.Header, 0, len(blockNums))

	for i := 0; i < len(blockNums); i += maxHeaderBatch {
		chunk := blockNums[i:min(i+maxHeaderBatch, len(blockNums))]

		var results []*types.Header
		err := c.do(ctx, "eth_getBlockByNumber_batch", func(ctx context.Context) error {
			batch := make([]rpc.BatchElem, len(chunk))
			results = make([]*types.Header, len(chunk))

			for j, blockNum := range chunk {
				batch[j] = rpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(blockNum), false}, // false = don't include transactions
					Result: &results[j],
				}
			}

			return c.batchCall(ctx, batch)
		})
		if err != nil {
			return nil, err
		}

		for j, header := range results {
			if header == nil {
				return nil, fmt.Errorf("block %d not found", chunk[j])
			}
		}

		allResults = append(allResults, results...)
	}

	return allResults, nil
}

func (c *Client) batchCall(ctx context.Context, batch []rpc.BatchElem) error {
	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		return err
	}

	for _, elem := range batch {
		if elem.Error != nil {
			return elem.Error
		}
	}

	return nil
}

// toFilterArg converts ethereum.FilterQuery to the format expected by eth_getLogs.
func toFilterArg(q ethereum.FilterQuery) any {
	arg := map[string]any{
		"topics": q.Topics,
	}

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
	} else {
		if q.FromBlock != nil {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock.Uint64())
		}
		if q.ToBlock != nil {
			arg["toBlock"] = toBlockNumArg(q.ToBlock.Uint64())
		}
	}

	if len(q.Addresses) > 0 {
		if len(q.Addresses) == 1 {
			arg["address"] = q.Addresses[0]
		} else {
			arg["address"] = q.Addresses
		}
	}

	return arg
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
