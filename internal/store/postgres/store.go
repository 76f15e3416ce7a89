// Package postgres implements the ledger store on PostgreSQL. Mutating units
// run inside one transaction holding per-user advisory locks, which
// serializes issuance, consumption and transfer for a user across every
// service instance sharing the database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"resona/internal/ledger"
)

// Store implements ledger.Store on *sql.DB.
type Store struct {
	db *sql.DB
}

// New migrates the schema and returns the store.
func New(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return store, nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("postgres: begin read tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&unit{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Update runs fn in a transaction that first takes an advisory lock per user,
// in sorted id order so cross-user units (transfers) cannot deadlock. The
// locks release with the transaction, covering the whole read-check-mutate
// sequence.
func (s *Store) Update(ctx context.Context, userIDs []uuid.UUID, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range sortedUnique(userIDs) {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, id.String()); err != nil {
			return fmt.Errorf("postgres: acquire user lock: %w", err)
		}
	}

	if err := fn(&unit{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })

	deduped := out[:0]
	for i, id := range out {
		if i == 0 || id != out[i-1] {
			deduped = append(deduped, id)
		}
	}
	return deduped
}
