package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	pkgrpc "github.com/goran-ethernal/MarketIndexor/pkg/rpc"
)

// Finality is the block tag used as the scan head.
type Finality string

const (
	FinalityFinalized Finality = "finalized"
	FinalitySafe      Finality = "safe"
	FinalityLatest    Finality = "latest"
)

// ParseFinality parses a finality tag. An empty string means finalized.
func ParseFinality(s string) (Finality, error) {
	switch f := Finality(s); f {
	case "":
		return FinalityFinalized, nil
	case FinalityFinalized, FinalitySafe, FinalityLatest:
		return f, nil
	default:
		return "", fmt.Errorf("invalid finality %q: must be one of finalized, safe, latest", s)
	}
}

// header returns the head header for the tag.
func (f Finality) header(ctx context.Context, client pkgrpc.EthClient) (*types.Header, error) {
	switch f {
	case FinalityLatest:
		return client.GetLatestBlockHeader(ctx)
	case FinalitySafe:
		return client.GetSafeBlockHeader(ctx)
	default:
		return client.GetFinalizedBlockHeader(ctx)
	}
}
