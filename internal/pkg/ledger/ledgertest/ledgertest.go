// Package ledgertest builds ABI-encoded logs and receipts for tests.
package ledgertest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger"
)

var (
	Factory = common.HexToAddress("0x00000000000000000000000000000000000fac01")
	Hub     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func Contracts() ledger.Contracts {
	return ledger.Contracts{Factory: Factory, Hub: Hub}
}

func Decoder(t testing.TB) *ledger.Decoder {
	t.Helper()
	d, err := ledger.NewDecoder(Contracts())
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return d
}

// Log encodes event with args given in ABI declaration order.
func Log(t testing.TB, d *ledger.Decoder, event string, tx common.Hash, index uint, block uint64, args ...any) types.Log {
	t.Helper()
	ev, address, err := d.Event(event)
	if err != nil {
		t.Fatalf("event %s: %v", event, err)
	}
	if len(args) != len(ev.Inputs) {
		t.Fatalf("event %s takes %d args, got %d", event, len(ev.Inputs), len(args))
	}

	topics := []common.Hash{ev.ID}
	var data []any
	for i, input := range ev.Inputs {
		if input.Indexed {
			addr, ok := args[i].(common.Address)
			if !ok {
				t.Fatalf("indexed arg %s must be an address", input.Name)
			}
			topics = append(topics, common.BytesToHash(addr.Bytes()))
			continue
		}
		data = append(data, args[i])
	}

	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		t.Fatalf("pack %s: %v", event, err)
	}

	return types.Log{
		Address:     address,
		Topics:      topics,
		Data:        packed,
		BlockNumber: block,
		TxHash:      tx,
		Index:       index,
	}
}

func GameCreated(t testing.TB, d *ledger.Decoder, tx common.Hash, game, token, initiator common.Address, endTime int64, prize int64) types.Log {
	return Log(t, d, ledger.EventGameCreated, tx, 0, 1, game, token, initiator, big.NewInt(endTime), big.NewInt(prize))
}

func CommentAdded(t testing.TB, d *ledger.Decoder, tx common.Hash, index uint, game, author common.Address, message string, endTime int64, delta int64) types.Log {
	return Log(t, d, ledger.EventCommentAdded, tx, index, 2, game, author, message, big.NewInt(endTime), big.NewInt(delta))
}

func PrizeFunded(t testing.TB, d *ledger.Decoder, tx common.Hash, game, funder common.Address, amount int64, pool int64) types.Log {
	return Log(t, d, ledger.EventPrizeFunded, tx, 0, 3, game, funder, big.NewInt(amount), big.NewInt(pool))
}

func PrizeClaimed(t testing.TB, d *ledger.Decoder, tx common.Hash, game, winner common.Address, amount int64) types.Log {
	return Log(t, d, ledger.EventPrizeClaimed, tx, 0, 4, game, winner, big.NewInt(amount))
}

func Hash(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}
