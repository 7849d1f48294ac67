package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiverhq/quiver/internal/storage"
)

// Adapter implements storage.Adapter on a pgx pool.
type Adapter struct {
	pool *pgxpool.Pool
}

// NewAdapter wraps an open connection.
func NewAdapter(conn *Connection) *Adapter {
	return &Adapter{pool: conn.Pool}
}

// WithTransaction runs fn inside one database transaction.
func (a *Adapter) WithTransaction(ctx context.Context, fn func(storage.Transaction) error) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := &transaction{tx: tx}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(t); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// transaction implements storage.Transaction over one pgx.Tx.
type transaction struct {
	tx    pgx.Tx
	depth int
}

// WithNested runs fn inside a savepoint so a failure rolls back only fn's
// writes.
func (t *transaction) WithNested(ctx context.Context, fn func() error) error {
	t.depth++
	name := fmt.Sprintf("sp_%d", t.depth)
	defer func() { t.depth-- }()

	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("nested error: %v, savepoint rollback error: %v", err, rbErr)
		}
		return err
	}
	if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// mapError translates pgx failures onto the storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", storage.ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}
