package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

// acker is the part of *pubsub.Message the relay settles deliveries with.
type acker interface {
	Ack()
	Nack()
}

type logKey struct {
	txHash common.Hash
	index  uint
}

type pendingMessage struct {
	subscriptionId string
	msg            acker
}

// LogRelay reads ledger logs that an upstream indexer republishes as JSON
// onto Pub/Sub. Each contract address is served by its own subscription.
// Messages are acked only once the consumer confirms the log through AckLogs.
type LogRelay struct {
	client *pubsub.Client
	routes map[common.Address]string

	mu      sync.Mutex
	pending map[logKey][]pendingMessage
}

func NewLogRelay(ctx context.Context, projectID string, routes map[common.Address]string) (*LogRelay, error) {
	if projectID == "" {
		return nil, errors.New("pubsub relay requires a project id")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	log.Info().Str("projectId", projectID).Int("routes", len(routes)).Msg("Successful pubsub init")
	return &LogRelay{client: client, routes: routes, pending: map[logKey][]pendingMessage{}}, nil
}

// SubscribeFilterLogs starts receiving from the subscription routed to the
// first address of q. Messages are handled one at a time so logs reach ch in
// delivery order.
func (r *LogRelay) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	subscriptionId, err := r.route(q)
	if err != nil {
		return nil, err
	}

	sub := r.client.Subscription(subscriptionId)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", subscriptionId, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", subscriptionId)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1

	receiveCtx, cancel := context.WithCancel(context.Background())
	rs := &relaySubscription{
		cancel: cancel,
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		release: func() {
			r.release(subscriptionId)
		},
	}

	go func() {
		defer close(rs.done)
		err := sub.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			r.handleMessage(ctx, subscriptionId, q, msg.ID, msg.Data, msg, ch)
		})
		if err != nil && receiveCtx.Err() == nil {
			log.Error().Err(err).Str("subscription", subscriptionId).Msg("Subscriber error")
			rs.errs <- err
		}
		close(rs.errs)
	}()

	log.Info().Str("subscription", subscriptionId).Msg("Receiving relayed ledger logs")
	return rs, nil
}

// AckLogs acks the messages that carried logs.
func (r *LogRelay) AckLogs(logs []types.Log) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range logs {
		key := logKey{txHash: l.TxHash, index: l.Index}
		waiting := r.pending[key]
		if len(waiting) == 0 {
			continue
		}
		waiting[0].msg.Ack()
		if len(waiting) == 1 {
			delete(r.pending, key)
		} else {
			r.pending[key] = waiting[1:]
		}
	}
}

func (r *LogRelay) Close() error {
	return r.client.Close()
}

func (r *LogRelay) route(q ethereum.FilterQuery) (string, error) {
	if len(q.Addresses) == 0 {
		return "", errors.New("pubsub relay needs a contract address to route the query")
	}
	subscriptionId, ok := r.routes[q.Addresses[0]]
	if !ok || subscriptionId == "" {
		return "", fmt.Errorf("no subscription configured for contract %s", q.Addresses[0].Hex())
	}
	return subscriptionId, nil
}

func (r *LogRelay) handleMessage(ctx context.Context, subscriptionId string, q ethereum.FilterQuery, messageId string, data []byte, msg acker, ch chan<- types.Log) {
	l, err := decodeRelayed(q, data)
	if err != nil {
		log.Warn().Err(err).Str("subscription", subscriptionId).Str("messageId", messageId).Msg("Dropping malformed relayed log")
		msg.Ack()
		return
	}
	if l == nil {
		log.Debug().Str("subscription", subscriptionId).Str("messageId", messageId).Msg("Relayed log outside filter")
		msg.Ack()
		return
	}

	key := logKey{txHash: l.TxHash, index: l.Index}
	r.mu.Lock()
	r.pending[key] = append(r.pending[key], pendingMessage{subscriptionId: subscriptionId, msg: msg})
	r.mu.Unlock()

	select {
	case ch <- *l:
	case <-ctx.Done():
		r.forget(key, msg)
		msg.Nack()
	}
}

// forget drops msg from the pending set without settling it.
func (r *LogRelay) forget(key logKey, msg acker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiting := r.pending[key]
	for i, p := range waiting {
		if p.msg == msg {
			waiting = append(waiting[:i:i], waiting[i+1:]...)
			break
		}
	}
	if len(waiting) == 0 {
		delete(r.pending, key)
		return
	}
	r.pending[key] = waiting
}

// release nacks every message of subscriptionId still waiting for the
// consumer, so Pub/Sub redelivers it.
func (r *LogRelay) release(subscriptionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for key, waiting := range r.pending {
		kept := waiting[:0]
		for _, p := range waiting {
			if p.subscriptionId == subscriptionId {
				p.msg.Nack()
				released++
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(r.pending, key)
		} else {
			r.pending[key] = kept
		}
	}
	if released > 0 {
		log.Info().Str("subscription", subscriptionId).Int("messages", released).Msg("Released unapplied relayed logs for redelivery")
	}
}

type relaySubscription struct {
	once    sync.Once
	cancel  context.CancelFunc
	errs    chan error
	done    chan struct{}
	release func()
}

func (s *relaySubscription) Err() <-chan error {
	return s.errs
}

func (s *relaySubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.release()
		<-s.done
		// a handler may have parked one more message while Receive wound down
		s.release()
	})
}
