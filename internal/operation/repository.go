package operation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/model"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/txctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidTransition = errors.New("invalid operation status transition")

type Repository struct {
	tx *txctx.Manager
}

func NewRepository(tx *txctx.Manager) *Repository {
	return &Repository{tx: tx}
}

// Upsert records reference as pending, or returns the row already stored under
// it. created reports which of the two happened.
func (r *Repository) Upsert(ctx context.Context, reference string, gameAddress string, kind model.OperationKind) (model.PendingOperation, bool, error) {
	var op model.PendingOperation
	var created bool

	err := r.tx.WithTransaction(ctx, txctx.Default, func(ctx context.Context) error {
		db := r.tx.DB(ctx)
		timeNow := time.Now().UTC()
		op = model.PendingOperation{
			Reference:   reference,
			GameAddress: gameAddress,
			Kind:        kind,
			Status:      model.OperationPending,
			TimeCreated: timeNow,
			TimeUpdated: timeNow,
		}

		result := db.
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "reference"}}, DoNothing: true}).
			Create(&op)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			created = true
			return nil
		}

		op = model.PendingOperation{}
		return db.Where("reference = ?", reference).Take(&op).Error
	})
	if err != nil {
		return model.PendingOperation{}, false, fmt.Errorf("upsert operation %s: %w", reference, err)
	}
	return op, created, nil
}

func (r *Repository) Get(ctx context.Context, reference string) (*model.PendingOperation, error) {
	var op model.PendingOperation
	if err := r.tx.DB(ctx).Where("reference = ?", reference).Take(&op).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// ListPending returns every pending operation, oldest first.
func (r *Repository) ListPending(ctx context.Context) ([]model.PendingOperation, error) {
	var ops []model.PendingOperation
	err := r.tx.DB(ctx).
		Where("status = ?", model.OperationPending).
		Order("time_created ASC, id ASC").
		Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	return ops, nil
}

// TransitionStatus moves a pending operation to a terminal status. Rows that
// already left pending are never touched again.
func (r *Repository) TransitionStatus(ctx context.Context, reference string, status model.OperationStatus, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, reference, status)
	}

	fields := map[string]any{
		"status":       status,
		"time_updated": time.Now().UTC(),
	}
	if reason != "" {
		fields["last_error"] = reason
	}

	result := r.tx.DB(ctx).
		Model(&model.PendingOperation{}).
		Where("reference = ? AND status = ?", reference, model.OperationPending).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("transition operation %s: %w", reference, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s is not pending", ErrInvalidTransition, reference)
	}
	return nil
}

// IncrementRetry bumps the retry counter of a pending operation, records
// reason and returns the new count.
func (r *Repository) IncrementRetry(ctx context.Context, reference string, reason string) (int, error) {
	var retryCount int

	err := r.tx.WithTransaction(ctx, txctx.Default, func(ctx context.Context) error {
		db := r.tx.DB(ctx)
		result := db.Model(&model.PendingOperation{}).
			Where("reference = ? AND status = ?", reference, model.OperationPending).
			Updates(map[string]any{
				"retry_count":  gorm.Expr("retry_count + 1"),
				"last_error":   reason,
				"time_updated": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		var op model.PendingOperation
		if err := db.Select("retry_count").Where("reference = ?", reference).Take(&op).Error; err != nil {
			return err
		}
		retryCount = op.RetryCount
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment retry %s: %w", reference, err)
	}
	return retryCount, nil
}
