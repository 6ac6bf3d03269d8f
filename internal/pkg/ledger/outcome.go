package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type OutcomeStatus int

const (
	OutcomeAbsent OutcomeStatus = iota
	OutcomeSuccess
	OutcomeFailure
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "absent"
	}
}

// Outcome is what the ledger knows about one operation reference.
type Outcome struct {
	Status      OutcomeStatus
	BlockNumber uint64
	Logs        []types.Log
}

type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ReceiptOutcomes resolves operation references through transaction receipts.
type ReceiptOutcomes struct {
	reader ReceiptReader
}

func NewReceiptOutcomes(reader ReceiptReader) *ReceiptOutcomes {
	return &ReceiptOutcomes{reader: reader}
}

func (o *ReceiptOutcomes) FetchOutcome(ctx context.Context, reference string) (Outcome, error) {
	if !IsReference(reference) {
		return Outcome{}, fmt.Errorf("malformed operation reference %q", reference)
	}

	receipt, err := o.reader.TransactionReceipt(ctx, common.HexToHash(reference))
	if errors.Is(err, ethereum.NotFound) {
		return Outcome{Status: OutcomeAbsent}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch receipt %s: %w", reference, err)
	}
	if receipt == nil {
		return Outcome{Status: OutcomeAbsent}, nil
	}

	outcome := Outcome{Status: OutcomeFailure}
	if receipt.BlockNumber != nil {
		outcome.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return outcome, nil
	}

	outcome.Status = OutcomeSuccess
	outcome.Logs = make([]types.Log, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		if l != nil {
			outcome.Logs = append(outcome.Logs, *l)
		}
	}
	return outcome, nil
}

// IsReference reports whether s looks like a 0x-prefixed 32 byte transaction hash.
func IsReference(s string) bool {
	if len(s) != 2+2*common.HashLength || !(s[:2] == "0x" || s[:2] == "0X") {
		return false
	}
	for _, c := range s[2:] {
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return false
		}
	}
	return true
}

// NormalizeReference lowercases a reference so lookups are case-insensitive.
func NormalizeReference(s string) string {
	return common.HexToHash(s).Hex()
}
