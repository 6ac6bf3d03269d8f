package watcher

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kollektive-hackathon/lastcall-backend/internal/game"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/metrics"
	"github.com/rs/zerolog/log"
)

func (w *Watcher) handleGameCreated(ctx context.Context, batch []types.Log) {
	events := make([]ledger.GameCreated, 0, len(batch))
	for _, l := range batch {
		event, err := w.decoder.DecodeGameCreated(l)
		if err != nil {
			metrics.WatcherEvents.WithLabelValues(ledger.EventGameCreated, metrics.ResultInvalid).Inc()
			log.Warn().Err(err).Str("tx", l.TxHash.Hex()).Uint("logIndex", l.Index).Msg("Dropping malformed GameCreated log")
			continue
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return
	}

	created, err := w.games.CreateGames(ctx, events)
	for _, cause := range unwrapAll(err) {
		result := metrics.ResultError
		if errors.Is(cause, game.ErrGameExists) {
			result = metrics.ResultDuplicate
		}
		metrics.WatcherEvents.WithLabelValues(ledger.EventGameCreated, result).Inc()
		log.Warn().Err(cause).Msg("GameCreated event not applied")
	}

	for _, g := range created {
		metrics.WatcherEvents.WithLabelValues(ledger.EventGameCreated, metrics.ResultApplied).Inc()
		log.Info().Str("game", g.Address).Str("token", g.TokenAddress).Msg("Game created")
		w.publisher.Announce(ctx, g.Address, nil)
	}
}

// handleCommentAdded applies comments one by one in delivery order; every
// comment moves the prize, deadline and last player of its game.
func (w *Watcher) handleCommentAdded(ctx context.Context, batch []types.Log) {
	for _, l := range batch {
		event, err := w.decoder.DecodeCommentAdded(l)
		if err != nil {
			metrics.WatcherEvents.WithLabelValues(ledger.EventCommentAdded, metrics.ResultInvalid).Inc()
			log.Warn().Err(err).Str("tx", l.TxHash.Hex()).Uint("logIndex", l.Index).Msg("Dropping malformed CommentAdded log")
			continue
		}

		res, err := w.games.RecordComment(ctx, event)
		if err != nil {
			metrics.WatcherEvents.WithLabelValues(ledger.EventCommentAdded, metrics.ResultError).Inc()
			log.Error().Err(err).Str("game", event.Game.Hex()).Msg("CommentAdded event rolled back")
			continue
		}
		if res.Duplicate {
			metrics.WatcherEvents.WithLabelValues(ledger.EventCommentAdded, metrics.ResultDuplicate).Inc()
			continue
		}

		metrics.WatcherEvents.WithLabelValues(ledger.EventCommentAdded, metrics.ResultApplied).Inc()
		if res.GameFound {
			comment := res.Comment
			w.publisher.Announce(ctx, comment.GameAddress, &comment)
		}
	}
}

func unwrapAll(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
