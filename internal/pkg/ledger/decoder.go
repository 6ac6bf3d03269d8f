package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidEvent  = errors.New("invalid ledger event")
	ErrEventNotFound = errors.New("ledger event not found")
)

// Contracts holds the two contract addresses events are accepted from.
type Contracts struct {
	Factory common.Address
	Hub     common.Address
}

// Decoder turns raw logs into typed events. Anything that does not match the
// expected contract, signature and argument layout is rejected.
type Decoder struct {
	contracts Contracts
	factory   abi.ABI
	hub       abi.ABI
}

func NewDecoder(contracts Contracts) (*Decoder, error) {
	factory, err := abi.JSON(strings.NewReader(factoryAbi))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	hub, err := abi.JSON(strings.NewReader(hubAbi))
	if err != nil {
		return nil, fmt.Errorf("parse hub abi: %w", err)
	}
	return &Decoder{contracts: contracts, factory: factory, hub: hub}, nil
}

func (d *Decoder) Contracts() Contracts {
	return d.contracts
}

// Query builds the subscription filter for one event family.
func (d *Decoder) Query(event string) (ethereum.FilterQuery, error) {
	contract, address, err := d.lookup(event)
	if err != nil {
		return ethereum.FilterQuery{}, err
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{contract.Events[event].ID}},
	}, nil
}

// Event returns the ABI description of event and the contract emitting it.
func (d *Decoder) Event(event string) (abi.Event, common.Address, error) {
	contract, address, err := d.lookup(event)
	if err != nil {
		return abi.Event{}, common.Address{}, err
	}
	return contract.Events[event], address, nil
}

func (d *Decoder) DecodeGameCreated(l types.Log) (GameCreated, error) {
	var raw rawGameCreated
	if err := d.unpack(EventGameCreated, l, &raw); err != nil {
		return GameCreated{}, err
	}
	if raw.Game == (common.Address{}) || raw.Token == (common.Address{}) || raw.Initiator == (common.Address{}) {
		return GameCreated{}, invalid(EventGameCreated, "zero address")
	}
	endTime, err := unixTime(raw.EndTime)
	if err != nil {
		return GameCreated{}, invalid(EventGameCreated, err.Error())
	}
	prize, err := amount(raw.PrizeAmount)
	if err != nil {
		return GameCreated{}, invalid(EventGameCreated, err.Error())
	}
	return GameCreated{
		LogRef:      refOf(l),
		Game:        raw.Game,
		Token:       raw.Token,
		Initiator:   raw.Initiator,
		EndTime:     endTime,
		PrizeAmount: prize,
	}, nil
}

func (d *Decoder) DecodeCommentAdded(l types.Log) (CommentAdded, error) {
	var raw rawCommentAdded
	if err := d.unpack(EventCommentAdded, l, &raw); err != nil {
		return CommentAdded{}, err
	}
	if raw.Game == (common.Address{}) || raw.Author == (common.Address{}) {
		return CommentAdded{}, invalid(EventCommentAdded, "zero address")
	}
	if strings.TrimSpace(raw.Message) == "" {
		return CommentAdded{}, invalid(EventCommentAdded, "empty message")
	}
	endTime, err := unixTime(raw.EndTime)
	if err != nil {
		return CommentAdded{}, invalid(EventCommentAdded, err.Error())
	}
	delta, err := amount(raw.PrizeDelta)
	if err != nil {
		return CommentAdded{}, invalid(EventCommentAdded, err.Error())
	}
	return CommentAdded{
		LogRef:     refOf(l),
		Game:       raw.Game,
		Author:     raw.Author,
		Message:    raw.Message,
		EndTime:    endTime,
		PrizeDelta: delta,
	}, nil
}

func (d *Decoder) DecodePrizeFunded(l types.Log) (PrizeFunded, error) {
	var raw rawPrizeFunded
	if err := d.unpack(EventPrizeFunded, l, &raw); err != nil {
		return PrizeFunded{}, err
	}
	if raw.Game == (common.Address{}) {
		return PrizeFunded{}, invalid(EventPrizeFunded, "zero address")
	}
	funded, err := amount(raw.Amount)
	if err != nil {
		return PrizeFunded{}, invalid(EventPrizeFunded, err.Error())
	}
	pool, err := amount(raw.PrizePool)
	if err != nil {
		return PrizeFunded{}, invalid(EventPrizeFunded, err.Error())
	}
	return PrizeFunded{
		LogRef:    refOf(l),
		Game:      raw.Game,
		Funder:    raw.Funder,
		Amount:    funded,
		PrizePool: pool,
	}, nil
}

func (d *Decoder) DecodePrizeClaimed(l types.Log) (PrizeClaimed, error) {
	var raw rawPrizeClaimed
	if err := d.unpack(EventPrizeClaimed, l, &raw); err != nil {
		return PrizeClaimed{}, err
	}
	if raw.Game == (common.Address{}) || raw.Winner == (common.Address{}) {
		return PrizeClaimed{}, invalid(EventPrizeClaimed, "zero address")
	}
	claimed, err := amount(raw.Amount)
	if err != nil {
		return PrizeClaimed{}, invalid(EventPrizeClaimed, err.Error())
	}
	return PrizeClaimed{
		LogRef: refOf(l),
		Game:   raw.Game,
		Winner: raw.Winner,
		Amount: claimed,
	}, nil
}

// Find returns the first log in logs that decodes cleanly and satisfies match.
// A nil match accepts any decoded event.
func Find[T any](logs []types.Log, decode func(types.Log) (T, error), match func(T) bool) (T, error) {
	for _, l := range logs {
		event, err := decode(l)
		if err != nil {
			continue
		}
		if match == nil || match(event) {
			return event, nil
		}
	}
	var zero T
	return zero, ErrEventNotFound
}

func (d *Decoder) lookup(event string) (abi.ABI, common.Address, error) {
	if _, ok := d.factory.Events[event]; ok {
		return d.factory, d.contracts.Factory, nil
	}
	if _, ok := d.hub.Events[event]; ok {
		return d.hub, d.contracts.Hub, nil
	}
	return abi.ABI{}, common.Address{}, fmt.Errorf("unknown event %q", event)
}

func (d *Decoder) unpack(event string, l types.Log, out any) error {
	contract, address, err := d.lookup(event)
	if err != nil {
		return err
	}
	if l.Removed {
		return invalid(event, "log removed by reorg")
	}
	if l.Address != address {
		return invalid(event, "unexpected contract "+l.Address.Hex())
	}
	ev := contract.Events[event]
	if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
		return invalid(event, "signature mismatch")
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(l.Topics)-1 != len(indexed) {
		return invalid(event, fmt.Sprintf("expected %d indexed topics, got %d", len(indexed), len(l.Topics)-1))
	}

	if err := contract.UnpackIntoInterface(out, event, l.Data); err != nil {
		return invalid(event, err.Error())
	}
	if err := abi.ParseTopics(out, indexed, l.Topics[1:]); err != nil {
		return invalid(event, err.Error())
	}
	return nil
}

func invalid(event string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidEvent, event, reason)
}

func refOf(l types.Log) LogRef {
	return LogRef{TxHash: l.TxHash, LogIndex: l.Index, BlockNumber: l.BlockNumber}
}

func unixTime(v *big.Int) (time.Time, error) {
	if v == nil || v.Sign() <= 0 || !v.IsInt64() {
		return time.Time{}, errors.New("end time out of range")
	}
	return time.Unix(v.Int64(), 0).UTC(), nil
}

func amount(v *big.Int) (decimal.Decimal, error) {
	if v == nil || v.Sign() < 0 {
		return decimal.Decimal{}, errors.New("amount out of range")
	}
	return decimal.NewFromBigInt(v, 0), nil
}
