package pubsub

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/utils"
)

var ErrMalformedLog = errors.New("malformed relayed log")

// decodeRelayed decodes one relayed log. It returns nil when the log falls
// outside q.
func decodeRelayed(q ethereum.FilterQuery, data []byte) (*types.Log, error) {
	l, err := utils.JsonDecodeByteStream[types.Log](data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	if !matches(q, *l) {
		return nil, nil
	}
	return l, nil
}

// matches applies the address and positional topic rules of eth_getLogs.
func matches(q ethereum.FilterQuery, l types.Log) bool {
	if len(q.Addresses) > 0 && !slices.Contains(q.Addresses, l.Address) {
		return false
	}
	if len(q.Topics) > len(l.Topics) {
		return false
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		if !slices.Contains(alternatives, l.Topics[i]) {
			return false
		}
	}
	return true
}
