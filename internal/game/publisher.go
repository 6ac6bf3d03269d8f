package game

import (
	"context"

	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/model"
	"github.com/rs/zerolog/log"
)

const GameUpdatedType = "GAME_UPDATED"

// Notifier fans an event out to listeners of topic.
type Notifier interface {
	Publish(topic string, event any)
}

type GameUpdated struct {
	Type    string         `json:"type"`
	Game    model.Game     `json:"game"`
	Comment *model.Comment `json:"comment,omitempty"`
}

// Publisher announces committed game changes. It must only be called after
// the transaction that made the change has finished.
type Publisher struct {
	games    *Repository
	notifier Notifier
}

func NewPublisher(games *Repository, notifier Notifier) *Publisher {
	return &Publisher{games: games, notifier: notifier}
}

func (p *Publisher) Announce(ctx context.Context, address string, comment *model.Comment) {
	if p == nil || p.notifier == nil {
		return
	}
	game, err := p.games.GetGame(ctx, address)
	if err != nil {
		log.Debug().Err(err).Str("game", address).Msg("Skipping game update notification")
		return
	}
	p.notifier.Publish(address, GameUpdated{Type: GameUpdatedType, Game: *game, Comment: comment})
}
