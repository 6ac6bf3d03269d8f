package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kollektive-hackathon/lastcall-backend/internal/game"
	"github.com/kollektive-hackathon/lastcall-backend/internal/operation"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/database/dbtest"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger/ledgertest"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/metrics"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/model"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/txctx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	gameA   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	creator = common.HexToAddress("0x3333333333333333333333333333333333333333")
	alice   = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

const startTime = int64(1_700_000_000)

type fakeOutcomes struct {
	mu       sync.Mutex
	outcomes map[string]func() (ledger.Outcome, error)
	calls    map[string]int
}

func newFakeOutcomes() *fakeOutcomes {
	return &fakeOutcomes{
		outcomes: map[string]func() (ledger.Outcome, error){},
		calls:    map[string]int{},
	}
}

func (f *fakeOutcomes) set(reference string, fn func() (ledger.Outcome, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[reference] = fn
}

func (f *fakeOutcomes) succeed(reference string, logs ...types.Log) {
	f.set(reference, func() (ledger.Outcome, error) {
		return ledger.Outcome{Status: ledger.OutcomeSuccess, BlockNumber: 42, Logs: logs}, nil
	})
}

func (f *fakeOutcomes) FetchOutcome(_ context.Context, reference string) (ledger.Outcome, error) {
	f.mu.Lock()
	fn, ok := f.outcomes[reference]
	f.calls[reference]++
	f.mu.Unlock()
	if !ok {
		return ledger.Outcome{Status: ledger.OutcomeAbsent}, nil
	}
	return fn()
}

type harness struct {
	db         *gorm.DB
	games      *game.Repository
	operations *operation.Repository
	decoder    *ledger.Decoder
	outcomes   *fakeOutcomes
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
	db := dbtest.New(t)
	tx := txctx.NewManager(db)
	games := game.NewRepository(tx)
	operations := operation.NewRepository(tx)
	decoder := ledgertest.Decoder(t)
	outcomes := newFakeOutcomes()
	r := New(tx, operations, games, game.NewPublisher(games, nil), outcomes, decoder, Options{
		MaxRetry:   10,
		RowTimeout: time.Second,
	})
	return &harness{db: db, games: games, operations: operations, decoder: decoder, outcomes: outcomes, reconciler: r}
}

func (h *harness) register(t *testing.T, reference string, kind model.OperationKind) {
	t.Helper()
	if _, _, err := h.operations.Upsert(context.Background(), reference, gameA.Hex(), kind); err != nil {
		t.Fatalf("register %s: %v", reference, err)
	}
}

func (h *harness) createGame(t *testing.T, prize int64) {
	t.Helper()
	l := ledgertest.GameCreated(t, h.decoder, ledgertest.Hash(1), gameA, token, creator, startTime, prize)
	event, err := h.decoder.DecodeGameCreated(l)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := h.games.CreateGames(context.Background(), []ledger.GameCreated{event}); err != nil {
		t.Fatalf("create game: %v", err)
	}
}

func (h *harness) operation(t *testing.T, reference string) *model.PendingOperation {
	t.Helper()
	op, err := h.operations.Get(context.Background(), reference)
	if err != nil {
		t.Fatalf("get %s: %v", reference, err)
	}
	return op
}

func (h *harness) game(t *testing.T) *model.Game {
	t.Helper()
	g, err := h.games.GetGame(context.Background(), gameA.Hex())
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	return g
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if !h.reconciler.Tick(context.Background()) {
		t.Fatal("tick skipped")
	}
}

func TestRetriesAreBounded(t *testing.T) {
	h := newHarness(t)
	ref := ledgertest.Hash(100).Hex()
	h.register(t, ref, model.KindPrizeFunded)

	for i := 1; i < 10; i++ {
		h.tick(t)
		op := h.operation(t, ref)
		if op.Status != model.OperationPending || op.RetryCount != i {
			t.Fatalf("after tick %d: status=%s retry=%d", i, op.Status, op.RetryCount)
		}
	}

	h.tick(t)
	op := h.operation(t, ref)
	if op.Status != model.OperationFailed || op.RetryCount != 10 {
		t.Fatalf("after tick 10: status=%s retry=%d", op.Status, op.RetryCount)
	}
	if op.LastError == nil || !strings.Contains(*op.LastError, "retry budget exhausted") {
		t.Fatalf("last error = %v", op.LastError)
	}

	h.tick(t)
	if h.outcomes.calls[ref] != 10 {
		t.Fatalf("failed operation polled again: %d calls", h.outcomes.calls[ref])
	}
}

func TestUnknownKindFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	ref := ledgertest.Hash(101).Hex()
	op := model.PendingOperation{
		Reference:   ref,
		GameAddress: gameA.Hex(),
		Kind:        "BURN_TOKENS",
		Status:      model.OperationPending,
	}
	if err := h.db.Create(&op).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	h.tick(t)

	got := h.operation(t, ref)
	if got.Status != model.OperationFailed || got.RetryCount != 0 {
		t.Fatalf("status=%s retry=%d", got.Status, got.RetryCount)
	}
	if h.outcomes.calls[ref] != 0 {
		t.Fatal("ledger queried for unknown kind")
	}
}

func TestRevertedTransactionFails(t *testing.T) {
	h := newHarness(t)
	ref := ledgertest.Hash(102).Hex()
	h.register(t, ref, model.KindPrizeClaimed)
	h.outcomes.set(ref, func() (ledger.Outcome, error) {
		return ledger.Outcome{Status: ledger.OutcomeFailure, BlockNumber: 9}, nil
	})

	h.tick(t)

	op := h.operation(t, ref)
	if op.Status != model.OperationFailed || op.RetryCount != 1 {
		t.Fatalf("status=%s retry=%d", op.Status, op.RetryCount)
	}
}

func TestClaimConfirmedEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.createGame(t, 100)
	ref := ledgertest.Hash(103).Hex()
	h.register(t, ref, model.KindPrizeClaimed)

	h.tick(t)
	if op := h.operation(t, ref); op.Status != model.OperationPending || op.RetryCount != 1 {
		t.Fatalf("after absent: status=%s retry=%d", op.Status, op.RetryCount)
	}

	h.outcomes.succeed(ref, ledgertest.PrizeClaimed(t, h.decoder, common.HexToHash(ref), gameA, alice, 100))
	h.tick(t)

	op := h.operation(t, ref)
	if op.Status != model.OperationConfirmed {
		t.Fatalf("status = %s", op.Status)
	}
	g := h.game(t)
	if !g.Claimed || !g.Ended || !g.PrizeAmount.IsZero() {
		t.Fatalf("game = %+v", g)
	}
}

func TestGameCreatedConfirmation(t *testing.T) {
	h := newHarness(t)
	ref := ledgertest.Hash(104).Hex()
	h.register(t, ref, model.KindGameCreated)
	l := ledgertest.GameCreated(t, h.decoder, common.HexToHash(ref), gameA, token, creator, startTime, 250)
	h.outcomes.succeed(ref, l)

	h.tick(t)

	if op := h.operation(t, ref); op.Status != model.OperationConfirmed {
		t.Fatalf("status = %s", op.Status)
	}
	if g := h.game(t); !g.PrizeAmount.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("prize = %s", g.PrizeAmount)
	}
}

func TestGameCreatedAlreadyIngestedStillConfirms(t *testing.T) {
	h := newHarness(t)
	h.createGame(t, 100)
	ref := ledgertest.Hash(105).Hex()
	h.register(t, ref, model.KindGameCreated)
	h.outcomes.succeed(ref, ledgertest.GameCreated(t, h.decoder, ledgertest.Hash(1), gameA, token, creator, startTime, 100))

	h.tick(t)

	if op := h.operation(t, ref); op.Status != model.OperationConfirmed {
		t.Fatalf("status = %s", op.Status)
	}
}

func TestCommentConfirmationDoesNotDoubleApply(t *testing.T) {
	h := newHarness(t)
	h.createGame(t, 100)
	ref := ledgertest.Hash(106).Hex()
	h.register(t, ref, model.KindCommentAdded)

	l := ledgertest.CommentAdded(t, h.decoder, common.HexToHash(ref), 0, gameA, alice, "gm", startTime+60, 25)
	event, err := h.decoder.DecodeCommentAdded(l)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// already delivered by the live subscription
	if _, err := h.games.RecordComment(context.Background(), event); err != nil {
		t.Fatalf("record: %v", err)
	}

	h.outcomes.succeed(ref, l)
	h.tick(t)

	if op := h.operation(t, ref); op.Status != model.OperationConfirmed {
		t.Fatalf("status = %s", op.Status)
	}
	if g := h.game(t); !g.PrizeAmount.Equal(decimal.NewFromInt(125)) {
		t.Fatalf("prize = %s, want 125", g.PrizeAmount)
	}
}

func TestPrizeFundedSetsPool(t *testing.T) {
	h := newHarness(t)
	h.createGame(t, 100)
	ref := ledgertest.Hash(107).Hex()
	h.register(t, ref, model.KindPrizeFunded)
	h.outcomes.succeed(ref, ledgertest.PrizeFunded(t, h.decoder, common.HexToHash(ref), gameA, alice, 40, 140))

	h.tick(t)

	if op := h.operation(t, ref); op.Status != model.OperationConfirmed {
		t.Fatalf("status = %s", op.Status)
	}
	if g := h.game(t); !g.PrizeAmount.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("prize = %s", g.PrizeAmount)
	}
}

func TestSuccessWithoutMatchingEventIsRetried(t *testing.T) {
	h := newHarness(t)
	h.createGame(t, 100)
	ref := ledgertest.Hash(108).Hex()
	h.register(t, ref, model.KindPrizeClaimed)
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	h.outcomes.succeed(ref, ledgertest.PrizeClaimed(t, h.decoder, common.HexToHash(ref), other, alice, 100))

	h.tick(t)

	op := h.operation(t, ref)
	if op.Status != model.OperationPending || op.RetryCount != 1 {
		t.Fatalf("status=%s retry=%d", op.Status, op.RetryCount)
	}
	if g := h.game(t); g.Claimed {
		t.Fatal("game claimed without a matching event")
	}
}

func TestFailingRowDoesNotAbortTick(t *testing.T) {
	h := newHarness(t)
	h.createGame(t, 100)
	panicking := ledgertest.Hash(109).Hex()
	broken := ledgertest.Hash(110).Hex()
	healthy := ledgertest.Hash(111).Hex()
	h.register(t, panicking, model.KindPrizeFunded)
	h.register(t, broken, model.KindPrizeFunded)
	h.register(t, healthy, model.KindPrizeFunded)

	h.outcomes.set(panicking, func() (ledger.Outcome, error) { panic("nil receipt") })
	h.outcomes.set(broken, func() (ledger.Outcome, error) { return ledger.Outcome{}, errors.New("rpc timeout") })
	h.outcomes.succeed(healthy, ledgertest.PrizeFunded(t, h.decoder, common.HexToHash(healthy), gameA, alice, 10, 110))

	h.tick(t)

	for _, ref := range []string{panicking, broken} {
		if op := h.operation(t, ref); op.Status != model.OperationPending || op.RetryCount != 1 {
			t.Fatalf("%s: status=%s retry=%d", ref, op.Status, op.RetryCount)
		}
	}
	if op := h.operation(t, healthy); op.Status != model.OperationConfirmed {
		t.Fatalf("healthy status = %s", op.Status)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	h := newHarness(t)
	ref := ledgertest.Hash(112).Hex()
	h.register(t, ref, model.KindPrizeFunded)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.outcomes.set(ref, func() (ledger.Outcome, error) {
		close(entered)
		<-release
		return ledger.Outcome{Status: ledger.OutcomeAbsent}, nil
	})

	done := make(chan bool)
	go func() { done <- h.reconciler.Tick(context.Background()) }()
	<-entered

	skippedBefore := testutil.ToFloat64(metrics.ReconcilerTicksSkipped)
	if h.reconciler.Tick(context.Background()) {
		t.Fatal("overlapping tick ran")
	}
	if got := testutil.ToFloat64(metrics.ReconcilerTicksSkipped); got != skippedBefore+1 {
		t.Fatalf("skipped counter = %v, want %v", got, skippedBefore+1)
	}

	close(release)
	if !<-done {
		t.Fatal("first tick reported skipped")
	}
	if op := h.operation(t, ref); op.RetryCount != 1 {
		t.Fatalf("retry = %d, want 1", op.RetryCount)
	}
}

func TestPrizeFundedKeepsLaterComments(t *testing.T) {
	h := newHarness(t)
	h.createGame(t, 100)
	ref := ledgertest.Hash(113).Hex()
	h.register(t, ref, model.KindPrizeFunded)

	// the watcher applies a comment mined after the funding before the tick runs
	l := ledgertest.CommentAdded(t, h.decoder, ledgertest.Hash(114), 0, gameA, alice, "gm", startTime+60, 60)
	event, err := h.decoder.DecodeCommentAdded(l)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := h.games.RecordComment(context.Background(), event); err != nil {
		t.Fatalf("record: %v", err)
	}

	h.outcomes.succeed(ref, ledgertest.PrizeFunded(t, h.decoder, common.HexToHash(ref), gameA, alice, 40, 140))
	h.tick(t)

	if op := h.operation(t, ref); op.Status != model.OperationConfirmed {
		t.Fatalf("status = %s", op.Status)
	}
	if g := h.game(t); !g.PrizeAmount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("prize = %s, want 200", g.PrizeAmount)
	}
}

func TestGameMutationWaitsForUnknownGame(t *testing.T) {
	tests := []struct {
		name string
		kind model.OperationKind
		log  func(t *testing.T, h *harness, ref string) types.Log
	}{
		{"claim", model.KindPrizeClaimed, func(t *testing.T, h *harness, ref string) types.Log {
			return ledgertest.PrizeClaimed(t, h.decoder, common.HexToHash(ref), gameA, alice, 100)
		}},
		{"funding", model.KindPrizeFunded, func(t *testing.T, h *harness, ref string) types.Log {
			return ledgertest.PrizeFunded(t, h.decoder, common.HexToHash(ref), gameA, alice, 40, 140)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ref := ledgertest.Hash(115).Hex()
			h.register(t, ref, tt.kind)
			h.outcomes.succeed(ref, tt.log(t, h, ref))

			h.tick(t)

			op := h.operation(t, ref)
			if op.Status != model.OperationPending || op.RetryCount != 1 {
				t.Fatalf("without game: status=%s retry=%d", op.Status, op.RetryCount)
			}
			if op.LastError == nil || !strings.Contains(*op.LastError, game.ErrGameNotFound.Error()) {
				t.Fatalf("last error = %v", op.LastError)
			}

			h.createGame(t, 100)
			h.tick(t)

			if op := h.operation(t, ref); op.Status != model.OperationConfirmed {
				t.Fatalf("after game arrived: status = %s", op.Status)
			}
			g := h.game(t)
			switch tt.kind {
			case model.KindPrizeClaimed:
				if !g.Claimed || !g.PrizeAmount.IsZero() {
					t.Fatalf("claim not applied: %+v", g)
				}
			case model.KindPrizeFunded:
				if !g.PrizeAmount.Equal(decimal.NewFromInt(140)) {
					t.Fatalf("prize = %s, want 140", g.PrizeAmount)
				}
			}
		})
	}
}
