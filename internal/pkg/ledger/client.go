package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

// LogSubscriber is the push side of the ledger. *ethclient.Client satisfies it.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// LogBackfiller is implemented by subscribers that can also answer historical
// log queries, used to close gaps after a reconnect.
type LogBackfiller interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LogAcker is implemented by subscribers whose deliveries stay unconfirmed
// until the consumer has applied them. Logs never acked are redelivered.
type LogAcker interface {
	AckLogs(logs []types.Log)
}

// Dial connects to a websocket (or IPC) RPC endpoint; log subscriptions need
// a streaming transport.
func Dial(ctx context.Context, rpcUrl string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("dial ledger %s: %w", rpcUrl, err)
	}
	chainId, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	log.Info().Str("chainId", chainId.String()).Msg("Connected to ledger")
	return client, nil
}
