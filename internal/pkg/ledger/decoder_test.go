package ledger_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger/ledgertest"
)

var (
	game      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	initiator = common.HexToAddress("0x3333333333333333333333333333333333333333")
	author    = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func TestDecodeGameCreated(t *testing.T) {
	d := ledgertest.Decoder(t)
	l := ledgertest.GameCreated(t, d, ledgertest.Hash(1), game, token, initiator, 1_700_000_000, 500)

	event, err := d.DecodeGameCreated(l)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Game != game || event.Token != token || event.Initiator != initiator {
		t.Fatalf("addresses not decoded: %+v", event)
	}
	if event.EndTime.Unix() != 1_700_000_000 {
		t.Fatalf("end time = %d", event.EndTime.Unix())
	}
	if event.PrizeAmount.String() != "500" {
		t.Fatalf("prize = %s", event.PrizeAmount)
	}
	if event.TxHash != ledgertest.Hash(1) {
		t.Fatalf("tx hash = %s", event.TxHash.Hex())
	}
}

func TestDecodeCommentAdded(t *testing.T) {
	d := ledgertest.Decoder(t)
	l := ledgertest.CommentAdded(t, d, ledgertest.Hash(2), 7, game, author, "gm", 1_700_000_600, 25)

	event, err := d.DecodeCommentAdded(l)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Author != author || event.Message != "gm" || event.LogIndex != 7 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.PrizeDelta.String() != "25" {
		t.Fatalf("delta = %s", event.PrizeDelta)
	}
}

func TestDecodeKeepsFullPrecision(t *testing.T) {
	d := ledgertest.Decoder(t)
	wei, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	l := ledgertest.Log(t, d, ledger.EventPrizeFunded, ledgertest.Hash(3), 0, 1, game, author, wei, wei)

	event, err := d.DecodePrizeFunded(l)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.PrizePool.String() != wei.String() {
		t.Fatalf("pool = %s, want %s", event.PrizePool, wei)
	}
}

func TestDecodeRejects(t *testing.T) {
	d := ledgertest.Decoder(t)
	valid := func() types.Log {
		return ledgertest.CommentAdded(t, d, ledgertest.Hash(4), 0, game, author, "hello", 1_700_000_000, 1)
	}

	tests := []struct {
		name   string
		mutate func(l *types.Log)
	}{
		{"wrong contract", func(l *types.Log) { l.Address = ledgertest.Factory }},
		{"wrong signature", func(l *types.Log) { l.Topics[0] = ledgertest.Hash(99) }},
		{"missing topic", func(l *types.Log) { l.Topics = l.Topics[:2] }},
		{"truncated data", func(l *types.Log) { l.Data = l.Data[:40] }},
		{"removed", func(l *types.Log) { l.Removed = true }},
		{"no topics", func(l *types.Log) { l.Topics = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := valid()
			tt.mutate(&l)
			if _, err := d.DecodeCommentAdded(l); !errors.Is(err, ledger.ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsInvalidValues(t *testing.T) {
	d := ledgertest.Decoder(t)

	empty := ledgertest.CommentAdded(t, d, ledgertest.Hash(5), 0, game, author, "   ", 1_700_000_000, 1)
	if _, err := d.DecodeCommentAdded(empty); !errors.Is(err, ledger.ErrInvalidEvent) {
		t.Fatalf("empty message accepted: %v", err)
	}

	zeroEnd := ledgertest.CommentAdded(t, d, ledgertest.Hash(6), 0, game, author, "hi", 0, 1)
	if _, err := d.DecodeCommentAdded(zeroEnd); !errors.Is(err, ledger.ErrInvalidEvent) {
		t.Fatalf("zero end time accepted: %v", err)
	}

	zeroGame := ledgertest.GameCreated(t, d, ledgertest.Hash(7), common.Address{}, token, initiator, 1_700_000_000, 0)
	if _, err := d.DecodeGameCreated(zeroGame); !errors.Is(err, ledger.ErrInvalidEvent) {
		t.Fatalf("zero game address accepted: %v", err)
	}
}

func TestFind(t *testing.T) {
	d := ledgertest.Decoder(t)
	other := common.HexToAddress("0x5555555555555555555555555555555555555555")
	logs := []types.Log{
		ledgertest.GameCreated(t, d, ledgertest.Hash(8), game, token, initiator, 1_700_000_000, 0),
		ledgertest.PrizeClaimed(t, d, ledgertest.Hash(8), other, author, 10),
		ledgertest.PrizeClaimed(t, d, ledgertest.Hash(8), game, author, 20),
	}

	claimed, err := ledger.Find(logs, d.DecodePrizeClaimed, func(e ledger.PrizeClaimed) bool { return e.Game == game })
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if claimed.Amount.String() != "20" {
		t.Fatalf("matched wrong log: %+v", claimed)
	}

	_, err = ledger.Find(logs, d.DecodeCommentAdded, nil)
	if !errors.Is(err, ledger.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	d := ledgertest.Decoder(t)
	q, err := d.Query(ledger.EventGameCreated)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(q.Addresses) != 1 || q.Addresses[0] != ledgertest.Factory {
		t.Fatalf("addresses = %v", q.Addresses)
	}
	ev, _, _ := d.Event(ledger.EventGameCreated)
	if len(q.Topics) != 1 || q.Topics[0][0] != ev.ID {
		t.Fatalf("topics = %v", q.Topics)
	}

	if _, err := d.Query("Nope"); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
