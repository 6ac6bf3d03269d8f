package txctx

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/gorm"
)

var ErrReadOnlyTransaction = errors.New("writable transaction requested inside a read-only transaction")

type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
	Serializable
)

func (i Isolation) sqlLevel() sql.IsolationLevel {
	switch i {
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelReadCommitted
	}
}

func (i Isolation) String() string {
	switch i {
	case RepeatableRead:
		return "REPEATABLE_READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ_COMMITTED"
	}
}

type Options struct {
	Isolation Isolation
	ReadOnly  bool
}

var (
	Default  = Options{Isolation: ReadCommitted}
	ReadOnly = Options{Isolation: ReadCommitted, ReadOnly: true}
)

type activeTx struct {
	db   *gorm.DB
	opts Options
}

type txKey struct{}

// FromContext returns the transaction bound to ctx by WithTransaction, if any.
func FromContext(ctx context.Context) (*gorm.DB, bool) {
	active, ok := ctx.Value(txKey{}).(*activeTx)
	if !ok {
		return nil, false
	}
	return active.db, true
}

// Manager hands out transactions scoped to one logical operation. Code running
// inside WithTransaction resolves its handle through DB and never sees the pool
// directly.
type Manager struct {
	db *gorm.DB
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// DB returns the active transaction for ctx, or the auto-committing pool handle.
func (m *Manager) DB(ctx context.Context) *gorm.DB {
	if tx, ok := FromContext(ctx); ok {
		return tx
	}
	return m.db.WithContext(ctx)
}

// WithTransaction runs fn inside a single transaction. It commits when fn
// returns nil and rolls back on error or panic. A call made while ctx already
// carries a transaction joins that transaction instead of opening another.
func (m *Manager) WithTransaction(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	if active, ok := ctx.Value(txKey{}).(*activeTx); ok {
		if active.opts.ReadOnly && !opts.ReadOnly {
			return ErrReadOnlyTransaction
		}
		return fn(ctx)
	}

	txOptions := &sql.TxOptions{
		Isolation: opts.Isolation.sqlLevel(),
		ReadOnly:  opts.ReadOnly,
	}
	// sqlite only knows serializable transactions
	if m.db.Dialector.Name() == "sqlite" {
		txOptions = nil
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := context.WithValue(ctx, txKey{}, &activeTx{db: tx, opts: opts})
		return fn(scoped)
	}, txOptions)
}

// Transactional wraps fn so every call runs inside WithTransaction with opts.
func Transactional(m *Manager, opts Options, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return m.WithTransaction(ctx, opts, fn)
	}
}
