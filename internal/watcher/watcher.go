package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jpillora/backoff"
	"github.com/kollektive-hackathon/lastcall-backend/internal/game"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/metrics"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	Disconnected State = iota
	Subscribing
	Listening
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Listening:
		return "listening"
	default:
		return "disconnected"
	}
}

var errSubscriptionClosed = errors.New("subscription closed by ledger")

type Options struct {
	SubscribeTimeout time.Duration
	BatchSize        int
	BackoffMin       time.Duration
	BackoffMax       time.Duration
}

func (o Options) withDefaults() Options {
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = 15 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Minute
	}
	return o
}

type stream struct {
	event     string
	query     ethereum.FilterQuery
	handle    func(ctx context.Context, logs []types.Log)
	state     atomic.Int32
	lastBlock atomic.Uint64
}

func (s *stream) setState(state State) {
	if State(s.state.Swap(int32(state))) != state {
		log.Debug().Str("stream", s.event).Str("state", state.String()).Msg("Watcher stream state changed")
	}
}

// Watcher keeps one live subscription per event family and applies every
// delivered batch to the game store.
type Watcher struct {
	subscriber ledger.LogSubscriber
	decoder    *ledger.Decoder
	games      *game.Repository
	publisher  *game.Publisher
	opts       Options

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	streams []*stream
}

func New(subscriber ledger.LogSubscriber, decoder *ledger.Decoder, games *game.Repository, publisher *game.Publisher, opts Options) *Watcher {
	return &Watcher{
		subscriber: subscriber,
		decoder:    decoder,
		games:      games,
		publisher:  publisher,
		opts:       opts.withDefaults(),
	}
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return errors.New("watcher already started")
	}

	gameQuery, err := w.decoder.Query(ledger.EventGameCreated)
	if err != nil {
		return err
	}
	commentQuery, err := w.decoder.Query(ledger.EventCommentAdded)
	if err != nil {
		return err
	}

	w.streams = []*stream{
		{event: ledger.EventGameCreated, query: gameQuery, handle: w.handleGameCreated},
		{event: ledger.EventCommentAdded, query: commentQuery, handle: w.handleCommentAdded},
	}

	ctx, w.cancel = context.WithCancel(ctx)
	for _, s := range w.streams {
		w.wg.Add(1)
		go func(s *stream) {
			defer w.wg.Done()
			w.run(ctx, s)
		}(s)
	}

	log.Info().Msg("Ledger watcher started")
	return nil
}

// Stop unsubscribes every stream and waits for in-flight batches to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	log.Info().Msg("Ledger watcher stopped")
}

// State reports the least advanced stream.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.streams) == 0 {
		return Disconnected
	}
	lowest := Listening
	for _, s := range w.streams {
		if state := State(s.state.Load()); state < lowest {
			lowest = state
		}
	}
	return lowest
}

func (w *Watcher) run(ctx context.Context, s *stream) {
	b := &backoff.Backoff{
		Min:    w.opts.BackoffMin,
		Max:    w.opts.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for ctx.Err() == nil {
		s.setState(Subscribing)
		sub, logs, err := w.subscribe(ctx, s)
		if err != nil {
			s.setState(Disconnected)
			delay := b.Duration()
			log.Warn().Err(err).Str("stream", s.event).Dur("retryIn", delay).Msg("Ledger subscription failed")
			if !sleep(ctx, delay) {
				break
			}
			continue
		}

		s.setState(Listening)
		b.Reset()
		w.backfill(ctx, s)

		err = w.listen(ctx, s, sub, logs)
		sub.Unsubscribe()
		s.setState(Disconnected)
		if err == nil {
			break
		}

		metrics.WatcherReconnects.WithLabelValues(s.event).Inc()
		delay := b.Duration()
		log.Warn().Err(err).Str("stream", s.event).Dur("retryIn", delay).Msg("Ledger subscription dropped, reconnecting")
		if !sleep(ctx, delay) {
			break
		}
	}

	s.setState(Disconnected)
}

func (w *Watcher) subscribe(ctx context.Context, s *stream) (ethereum.Subscription, chan types.Log, error) {
	logs := make(chan types.Log, w.opts.BatchSize)

	subCtx, cancel := context.WithTimeout(ctx, w.opts.SubscribeTimeout)
	defer cancel()

	sub, err := w.subscriber.SubscribeFilterLogs(subCtx, s.query, logs)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", s.event, err)
	}
	return sub, logs, nil
}

// backfill replays logs from the last block seen before a reconnect. Effects
// are idempotent, so the overlap with the live subscription is harmless.
func (w *Watcher) backfill(ctx context.Context, s *stream) {
	from := s.lastBlock.Load()
	if from == 0 {
		return
	}
	filterer, ok := w.subscriber.(ledger.LogBackfiller)
	if !ok {
		return
	}

	q := s.query
	q.FromBlock = new(big.Int).SetUint64(from)

	fetchCtx, cancel := context.WithTimeout(ctx, w.opts.SubscribeTimeout)
	logs, err := filterer.FilterLogs(fetchCtx, q)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("stream", s.event).Uint64("fromBlock", from).Msg("Backfill after reconnect failed")
		return
	}
	if len(logs) == 0 {
		return
	}

	log.Info().Str("stream", s.event).Uint64("fromBlock", from).Int("logs", len(logs)).Msg("Backfilling missed ledger logs")
	for start := 0; start < len(logs); start += w.opts.BatchSize {
		end := min(start+w.opts.BatchSize, len(logs))
		w.dispatch(ctx, s, logs[start:end])
	}
}

func (w *Watcher) listen(ctx context.Context, s *stream, sub ethereum.Subscription, logs <-chan types.Log) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return err
		case l := <-logs:
			batch := []types.Log{l}
		drain:
			for len(batch) < w.opts.BatchSize {
				select {
				case next := <-logs:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			w.dispatch(ctx, s, batch)
		}
	}
}

// dispatch is the barrier between a batch and the ingestion loop: nothing a
// single batch does may stop the stream.
func (w *Watcher) dispatch(ctx context.Context, s *stream, batch []types.Log) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WatcherEvents.WithLabelValues(s.event, metrics.ResultError).Add(float64(len(batch)))
			log.Error().Interface("panic", r).Str("stream", s.event).Int("batch", len(batch)).Msg("Recovered while handling ledger batch")
		}
		w.ack(ctx, batch)
	}()

	for _, l := range batch {
		if l.BlockNumber > s.lastBlock.Load() {
			s.lastBlock.Store(l.BlockNumber)
		}
	}
	s.handle(ctx, batch)
}

// ack confirms a handled batch to subscribers that redeliver unconfirmed logs.
// A batch cut short by shutdown stays unconfirmed and comes back on restart.
func (w *Watcher) ack(ctx context.Context, batch []types.Log) {
	acker, ok := w.subscriber.(ledger.LogAcker)
	if !ok || ctx.Err() != nil {
		return
	}
	acker.AckLogs(batch)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
