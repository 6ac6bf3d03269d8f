package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kollektive-hackathon/lastcall-backend/internal/game"
	"github.com/kollektive-hackathon/lastcall-backend/internal/operation"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/metrics"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/model"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/txctx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	DefaultMaxRetry   = 10
	DefaultRowTimeout = 10 * time.Second
)

type OutcomeFetcher interface {
	FetchOutcome(ctx context.Context, reference string) (ledger.Outcome, error)
}

type Options struct {
	MaxRetry   int
	RowTimeout time.Duration
}

// Reconciler confirms registered operations against the ledger. Only one
// tick runs at a time within the process.
type Reconciler struct {
	tx         *txctx.Manager
	operations *operation.Repository
	games      *game.Repository
	publisher  *game.Publisher
	outcomes   OutcomeFetcher
	decoder    *ledger.Decoder
	maxRetry   int
	rowTimeout time.Duration

	running atomic.Bool
}

func New(
	tx *txctx.Manager,
	operations *operation.Repository,
	games *game.Repository,
	publisher *game.Publisher,
	outcomes OutcomeFetcher,
	decoder *ledger.Decoder,
	opts Options,
) *Reconciler {
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = DefaultMaxRetry
	}
	if opts.RowTimeout <= 0 {
		opts.RowTimeout = DefaultRowTimeout
	}
	return &Reconciler{
		tx:         tx,
		operations: operations,
		games:      games,
		publisher:  publisher,
		outcomes:   outcomes,
		decoder:    decoder,
		maxRetry:   opts.MaxRetry,
		rowTimeout: opts.RowTimeout,
	}
}

// Tick runs one reconciliation pass. It returns false without doing anything
// when another pass is still in flight.
func (r *Reconciler) Tick(ctx context.Context) bool {
	if !r.running.CompareAndSwap(false, true) {
		metrics.ReconcilerTicksSkipped.Inc()
		log.Debug().Msg("Reconciliation tick skipped, previous tick still running")
		return false
	}
	defer r.running.Store(false)

	timer := prometheus.NewTimer(metrics.ReconcilerTickDuration)
	defer timer.ObserveDuration()

	ops, err := r.operations.ListPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Cannot load pending operations")
		return true
	}

	for _, op := range ops {
		if ctx.Err() != nil {
			log.Info().Int("remaining", len(ops)).Msg("Reconciliation tick interrupted")
			break
		}
		r.reconcile(ctx, op)
	}
	return true
}

// reconcile settles one row. Every failure here ends in the retry path so the
// rest of the tick keeps going.
func (r *Reconciler) reconcile(ctx context.Context, op model.PendingOperation) {
	logger := log.With().Str("reference", op.Reference).Str("kind", string(op.Kind)).Logger()

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("Recovered while reconciling operation")
			r.retry(ctx, op, fmt.Sprintf("unexpected failure: %v", p))
		}
	}()

	if !op.Kind.Known() {
		r.fail(ctx, op, fmt.Sprintf("unknown operation kind %q", op.Kind))
		return
	}

	rowCtx, cancel := context.WithTimeout(ctx, r.rowTimeout)
	outcome, err := r.outcomes.FetchOutcome(rowCtx, op.Reference)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("Outcome lookup failed")
		r.retry(ctx, op, err.Error())
		return
	}

	switch outcome.Status {
	case ledger.OutcomeAbsent:
		r.retry(ctx, op, "outcome not yet available")
		return
	case ledger.OutcomeFailure:
		r.reverted(ctx, op, outcome)
		return
	}

	announce, err := r.apply(ctx, op, outcome)
	if err != nil {
		logger.Warn().Err(err).Msg("Cannot apply confirmed operation")
		r.retry(ctx, op, err.Error())
		return
	}

	metrics.ReconcilerOperations.WithLabelValues(string(op.Kind), metrics.ResultConfirmed).Inc()
	logger.Info().Uint64("block", outcome.BlockNumber).Msg("Operation confirmed")
	if announce != "" {
		r.publisher.Announce(ctx, announce, nil)
	}
}

// apply performs the kind-specific mutation and the confirmation in one
// transaction. It returns the game address to announce, if any.
func (r *Reconciler) apply(ctx context.Context, op model.PendingOperation, outcome ledger.Outcome) (string, error) {
	var announce string

	err := r.tx.WithTransaction(ctx, txctx.Default, func(ctx context.Context) error {
		var err error
		switch op.Kind {
		case model.KindGameCreated:
			announce, err = r.applyGameCreated(ctx, op, outcome)
		case model.KindCommentAdded:
			announce, err = r.applyCommentAdded(ctx, op, outcome)
		case model.KindPrizeFunded:
			announce, err = r.applyPrizeFunded(ctx, op, outcome)
		case model.KindPrizeClaimed:
			announce, err = r.applyPrizeClaimed(ctx, op, outcome)
		default:
			err = fmt.Errorf("unknown operation kind %q", op.Kind)
		}
		if err != nil {
			return err
		}
		return r.operations.TransitionStatus(ctx, op.Reference, model.OperationConfirmed, "")
	})
	return announce, err
}

func (r *Reconciler) applyGameCreated(ctx context.Context, op model.PendingOperation, outcome ledger.Outcome) (string, error) {
	event, err := ledger.Find(outcome.Logs, r.decoder.DecodeGameCreated, func(e ledger.GameCreated) bool {
		return op.GameAddress == "" || e.Game.Hex() == op.GameAddress
	})
	if err != nil {
		return "", err
	}

	_, err = r.games.CreateGames(ctx, []ledger.GameCreated{event})
	if err != nil && !errors.Is(err, game.ErrGameExists) {
		return "", err
	}
	return event.Game.Hex(), nil
}

func (r *Reconciler) applyCommentAdded(ctx context.Context, op model.PendingOperation, outcome ledger.Outcome) (string, error) {
	event, err := ledger.Find(outcome.Logs, r.decoder.DecodeCommentAdded, func(e ledger.CommentAdded) bool {
		return e.Game.Hex() == op.GameAddress
	})
	if err != nil {
		return "", err
	}

	if _, err := r.games.RecordComment(ctx, event); err != nil {
		return "", err
	}
	return event.Game.Hex(), nil
}

// applyPrizeFunded adds the funded amount on top of the stored prize; the
// event's pool total is only current as of the funding block.
func (r *Reconciler) applyPrizeFunded(ctx context.Context, op model.PendingOperation, outcome ledger.Outcome) (string, error) {
	event, err := ledger.Find(outcome.Logs, r.decoder.DecodePrizeFunded, func(e ledger.PrizeFunded) bool {
		return e.Game.Hex() == op.GameAddress
	})
	if err != nil {
		return "", err
	}

	touched, err := r.games.UpdateGameState(ctx, op.GameAddress, game.GameStateUpdate{PrizeDelta: &event.Amount})
	if err != nil {
		return "", err
	}
	if !touched {
		return "", fmt.Errorf("%w: %s", game.ErrGameNotFound, op.GameAddress)
	}
	return op.GameAddress, nil
}

func (r *Reconciler) applyPrizeClaimed(ctx context.Context, op model.PendingOperation, outcome ledger.Outcome) (string, error) {
	if _, err := ledger.Find(outcome.Logs, r.decoder.DecodePrizeClaimed, func(e ledger.PrizeClaimed) bool {
		return e.Game.Hex() == op.GameAddress
	}); err != nil {
		return "", err
	}

	done := true
	zero := decimal.Zero
	touched, err := r.games.UpdateGameState(ctx, op.GameAddress, game.GameStateUpdate{
		PrizeAmount: &zero,
		Claimed:     &done,
		Ended:       &done,
	})
	if err != nil {
		return "", err
	}
	if !touched {
		return "", fmt.Errorf("%w: %s", game.ErrGameNotFound, op.GameAddress)
	}
	return op.GameAddress, nil
}

// retry charges one attempt to op and fails it once the budget is spent.
func (r *Reconciler) retry(ctx context.Context, op model.PendingOperation, reason string) {
	retryCount, err := r.operations.IncrementRetry(ctx, op.Reference, reason)
	if err != nil {
		log.Error().Err(err).Str("reference", op.Reference).Msg("Cannot record retry")
		return
	}

	if retryCount >= r.maxRetry {
		r.fail(ctx, op, fmt.Sprintf("retry budget exhausted after %d attempts: %s", retryCount, reason))
		return
	}

	metrics.ReconcilerOperations.WithLabelValues(string(op.Kind), metrics.ResultRetry).Inc()
	log.Debug().Str("reference", op.Reference).Int("retryCount", retryCount).Str("reason", reason).Msg("Operation left pending")
}

// reverted handles a receipt the ledger marked as failed: the attempt is
// counted and the operation is closed, a reverted transaction never succeeds.
func (r *Reconciler) reverted(ctx context.Context, op model.PendingOperation, outcome ledger.Outcome) {
	reason := fmt.Sprintf("transaction reverted in block %d", outcome.BlockNumber)
	if _, err := r.operations.IncrementRetry(ctx, op.Reference, reason); err != nil {
		log.Error().Err(err).Str("reference", op.Reference).Msg("Cannot record retry")
		return
	}
	r.fail(ctx, op, reason)
}

func (r *Reconciler) fail(ctx context.Context, op model.PendingOperation, reason string) {
	if err := r.operations.TransitionStatus(ctx, op.Reference, model.OperationFailed, reason); err != nil {
		log.Error().Err(err).Str("reference", op.Reference).Msg("Cannot mark operation failed")
		return
	}
	metrics.ReconcilerOperations.WithLabelValues(string(op.Kind), metrics.ResultFailed).Inc()
	log.Warn().Str("reference", op.Reference).Str("kind", string(op.Kind)).Str("reason", reason).Msg("Operation failed")
}
