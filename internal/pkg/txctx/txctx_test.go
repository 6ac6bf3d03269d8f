package txctx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/database/dbtest"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/model"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/txctx"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func newManager(t *testing.T) (*txctx.Manager, *gorm.DB) {
	db := dbtest.New(t)
	return txctx.NewManager(db), db
}

func insertGame(ctx context.Context, m *txctx.Manager, address string) error {
	now := time.Now().UTC()
	return m.DB(ctx).Create(&model.Game{
		Address:      address,
		TokenAddress: "0x2222222222222222222222222222222222222222",
		Initiator:    "0x3333333333333333333333333333333333333333",
		EndTime:      now,
		PrizeAmount:  decimal.NewFromInt(1),
		TimeCreated:  now,
		TimeUpdated:  now,
	}).Error
}

func countGames(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.Game{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestCommitAndRollback(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()

	err := m.WithTransaction(ctx, txctx.Default, func(ctx context.Context) error {
		return insertGame(ctx, m, "0x1111111111111111111111111111111111111111")
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	boom := errors.New("boom")
	err = m.WithTransaction(ctx, txctx.Default, func(ctx context.Context) error {
		if err := insertGame(ctx, m, "0x1212121212121212121212121212121212121212"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	if n := countGames(t, db); n != 1 {
		t.Fatalf("games = %d, want 1", n)
	}
}

func TestPanicRollsBackAndPropagates(t *testing.T) {
	m, db := newManager(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic swallowed")
			}
		}()
		_ = m.WithTransaction(context.Background(), txctx.Default, func(ctx context.Context) error {
			if err := insertGame(ctx, m, "0x1111111111111111111111111111111111111111"); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	}()

	if n := countGames(t, db); n != 0 {
		t.Fatalf("games = %d after panic", n)
	}
}

func TestNestedCallJoinsOuterTransaction(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()

	if _, ok := txctx.FromContext(ctx); ok {
		t.Fatal("transaction reported on bare context")
	}

	err := m.WithTransaction(ctx, txctx.Default, func(outer context.Context) error {
		outerTx, ok := txctx.FromContext(outer)
		if !ok {
			t.Fatal("no transaction inside WithTransaction")
		}
		if err := insertGame(outer, m, "0x1111111111111111111111111111111111111111"); err != nil {
			return err
		}
		inner := m.WithTransaction(outer, txctx.Options{Isolation: txctx.Serializable}, func(inner context.Context) error {
			innerTx, _ := txctx.FromContext(inner)
			if innerTx != outerTx {
				t.Error("nested call opened a second transaction")
			}
			return insertGame(inner, m, "0x1212121212121212121212121212121212121212")
		})
		if inner != nil {
			return inner
		}
		return errors.New("abort outer")
	})
	if err == nil {
		t.Fatal("outer error lost")
	}

	// the inner work belonged to the outer unit and rolled back with it
	if n := countGames(t, db); n != 0 {
		t.Fatalf("games = %d, want 0", n)
	}
}

func TestWritableInsideReadOnlyFails(t *testing.T) {
	m, _ := newManager(t)

	err := m.WithTransaction(context.Background(), txctx.ReadOnly, func(ctx context.Context) error {
		if err := m.WithTransaction(ctx, txctx.ReadOnly, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("read-only inside read-only: %v", err)
		}
		return m.WithTransaction(ctx, txctx.Default, func(context.Context) error {
			t.Fatal("writable body ran inside read-only transaction")
			return nil
		})
	})
	if !errors.Is(err, txctx.ErrReadOnlyTransaction) {
		t.Fatalf("err = %v", err)
	}
}

func TestTransactionalWrapper(t *testing.T) {
	m, db := newManager(t)
	create := txctx.Transactional(m, txctx.Default, func(ctx context.Context) error {
		if _, ok := txctx.FromContext(ctx); !ok {
			t.Error("wrapped function ran without a transaction")
		}
		return insertGame(ctx, m, "0x1111111111111111111111111111111111111111")
	})

	if err := create(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n := countGames(t, db); n != 1 {
		t.Fatalf("games = %d", n)
	}
}

func TestIsolationString(t *testing.T) {
	tests := map[txctx.Isolation]string{
		txctx.ReadCommitted:  "READ_COMMITTED",
		txctx.RepeatableRead: "REPEATABLE_READ",
		txctx.Serializable:   "SERIALIZABLE",
	}
	for isolation, want := range tests {
		if got := isolation.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", isolation, got, want)
		}
	}
}
