package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/model"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/txctx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrGameExists   = errors.New("game already exists")
	ErrGameNotFound = errors.New("game not found")
)

// CommentResult describes what RecordComment did with one event.
type CommentResult struct {
	Comment   model.Comment
	Duplicate bool
	GameFound bool
}

// GameStateUpdate carries the fields the reconciler may overwrite. Nil fields
// are left untouched. PrizeDelta is added to the stored prize and cannot be
// combined with PrizeAmount.
type GameStateUpdate struct {
	PrizeAmount *decimal.Decimal
	PrizeDelta  *decimal.Decimal
	EndTime     *time.Time
	LastPlayer  *string
	Ended       *bool
	Claimed     *bool
}

type Repository struct {
	tx *txctx.Manager
}

func NewRepository(tx *txctx.Manager) *Repository {
	return &Repository{tx: tx}
}

// CreateGames inserts one row per event. Rows are independent: a duplicate
// address is reported in the joined error while the rest are still inserted.
func (r *Repository) CreateGames(ctx context.Context, events []ledger.GameCreated) ([]model.Game, error) {
	var created []model.Game
	var errs []error

	for _, event := range events {
		timeNow := time.Now().UTC()
		game := model.Game{
			Address:       event.Game.Hex(),
			TokenAddress:  event.Token.Hex(),
			Initiator:     event.Initiator.Hex(),
			EndTime:       event.EndTime,
			PrizeAmount:   event.PrizeAmount,
			CreatedTxHash: event.TxHash.Hex(),
			TimeCreated:   timeNow,
			TimeUpdated:   timeNow,
		}

		result := r.tx.DB(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "address"}}, DoNothing: true}).
			Create(&game)
		if result.Error != nil {
			errs = append(errs, fmt.Errorf("create game %s: %w", game.Address, result.Error))
			continue
		}
		if result.RowsAffected == 0 {
			errs = append(errs, fmt.Errorf("create game %s: %w", game.Address, ErrGameExists))
			continue
		}
		created = append(created, game)
	}

	return created, errors.Join(errs...)
}

// RecordComment stores the comment snapshot and applies its delta to the game
// as one unit. Replaying an already recorded log is a no-op.
func (r *Repository) RecordComment(ctx context.Context, event ledger.CommentAdded) (CommentResult, error) {
	var res CommentResult

	err := r.tx.WithTransaction(ctx, txctx.Default, func(ctx context.Context) error {
		db := r.tx.DB(ctx)
		address := event.Game.Hex()

		var game model.Game
		q := db.Where("address = ?", address)
		if db.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.Take(&game).Error
		switch {
		case err == nil:
			res.GameFound = true
		case errors.Is(err, gorm.ErrRecordNotFound):
			log.Warn().Str("game", address).Str("tx", event.TxHash.Hex()).Msg("Comment for unknown game, game state left untouched")
		default:
			return err
		}

		prize := event.PrizeDelta
		endTime := event.EndTime
		if res.GameFound {
			prize = game.PrizeAmount.Add(event.PrizeDelta)
			endTime = nextEndTime(game, event.EndTime)
		}

		comment := model.Comment{
			GameAddress:     address,
			Author:          event.Author.Hex(),
			Message:         event.Message,
			EndTimeSnapshot: endTime,
			PrizeSnapshot:   prize,
			TxHash:          event.TxHash.Hex(),
			LogIndex:        event.LogIndex,
			TimeCreated:     time.Now().UTC(),
		}
		result := db.
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}}, DoNothing: true}).
			Create(&comment)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			res.Duplicate = true
			return nil
		}
		res.Comment = comment

		if !res.GameFound {
			return nil
		}

		return db.Model(&model.Game{}).
			Where("address = ?", address).
			Updates(map[string]any{
				"prize_amount": prize,
				"end_time":     endTime,
				"last_player":  event.Author.Hex(),
				"time_updated": time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return CommentResult{}, fmt.Errorf("record comment %s/%d: %w", event.TxHash.Hex(), event.LogIndex, err)
	}
	return res, nil
}

// UpdateGameState overwrites the given fields. A missing game is not an error;
// the returned flag reports whether a row was touched.
func (r *Repository) UpdateGameState(ctx context.Context, address string, update GameStateUpdate) (bool, error) {
	if update.PrizeAmount != nil && update.PrizeDelta != nil {
		return false, fmt.Errorf("update game %s: prize amount and prize delta are exclusive", address)
	}
	if update.PrizeDelta != nil && update.PrizeDelta.IsNegative() {
		return false, fmt.Errorf("update game %s: negative prize delta %s", address, update.PrizeDelta)
	}

	fields := map[string]any{}
	if update.PrizeAmount != nil {
		fields["prize_amount"] = *update.PrizeAmount
	}
	if update.PrizeDelta != nil {
		fields["prize_amount"] = gorm.Expr("prize_amount + ?", *update.PrizeDelta)
	}
	if update.EndTime != nil {
		fields["end_time"] = *update.EndTime
	}
	if update.LastPlayer != nil {
		fields["last_player"] = *update.LastPlayer
	}
	if update.Ended != nil {
		fields["ended"] = *update.Ended
	}
	if update.Claimed != nil {
		fields["claimed"] = *update.Claimed
	}
	if len(fields) == 0 {
		return false, nil
	}
	fields["time_updated"] = time.Now().UTC()

	result := r.tx.DB(ctx).
		Model(&model.Game{}).
		Where("address = ?", address).
		Updates(fields)
	if result.Error != nil {
		return false, fmt.Errorf("update game %s: %w", address, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) GetGame(ctx context.Context, address string) (*model.Game, error) {
	var game model.Game
	err := r.tx.DB(ctx).Where("address = ?", address).Take(&game).Error
	if err != nil {
		return nil, err
	}
	return &game, nil
}

func (r *Repository) ListComments(ctx context.Context, address string, limit int, offset int) ([]model.Comment, int64, error) {
	var comments []model.Comment
	var total int64

	err := r.tx.WithTransaction(ctx, txctx.ReadOnly, func(ctx context.Context) error {
		db := r.tx.DB(ctx)
		if err := db.Model(&model.Comment{}).Where("game_address = ?", address).Count(&total).Error; err != nil {
			return err
		}
		return db.Where("game_address = ?", address).
			Order("id DESC").
			Limit(limit).
			Offset(offset).
			Find(&comments).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

// nextEndTime never moves the deadline backwards and freezes it once ended.
func nextEndTime(game model.Game, proposed time.Time) time.Time {
	if game.Ended || !proposed.After(game.EndTime) {
		return game.EndTime
	}
	return proposed
}
