package evm

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

//go:embed marketplace.abi.json
var marketplaceABIJSON string

const getNFTMethod = "getNFT"

// ABI field name -> payload field name understood by the event decoder.
var payloadFields = map[string]string{
	"tokenId": "token_id",
	"creator": "creator",
	"name":    "name",
	"seller":  "seller",
	"buyer":   "buyer",
	"price":   "price",
}

// actorField is the payload field reported as the event sender.
var actorField = map[string]string{
	"NFTMinted":    "creator",
	"NFTListed":    "seller",
	"NFTPurchased": "buyer",
	"NFTDelisted":  "seller",
}

func parseMarketplaceABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(marketplaceABIJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse marketplace ABI: %w", err)
	}
	return parsed, nil
}

// decodeLog unpacks a marketplace log into payload fields with integers as decimal strings
// and addresses in checksum hex.
func decodeLog(event abi.Event, log *types.Log) (map[string]string, error) {
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("invalid %s log: expected %d topics, got %d",
			event.Name, len(indexed)+1, len(log.Topics))
	}

	values := make(map[string]any, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("invalid %s topics: %w", event.Name, err)
	}
	if err := event.Inputs.UnpackIntoMap(values, log.Data); err != nil {
		return nil, fmt.Errorf("invalid %s data: %w", event.Name, err)
	}

	payload := make(map[string]string, len(values))
	for name, value := range values {
		field, ok := payloadFields[name]
		if !ok {
			continue
		}

		switch v := value.(type) {
		case *big.Int:
			payload[field] = v.String()
		case common.Address:
			payload[field] = v.Hex()
		case string:
			payload[field] = v
		default:
			payload[field] = fmt.Sprintf("%v", v)
		}
	}

	return payload, nil
}
