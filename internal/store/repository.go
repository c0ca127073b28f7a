/**
 * @description
 * This file defines the `Repository` interface, the storage adapter consumed by the
 * authentication, ledger and account-operation logic. Defining it as an interface
 * decouples the business rules from PostgreSQL and lets tests run against the
 * in-memory implementation.
 *
 * @dependencies
 * - github.com/google/uuid: account and entry identifiers.
 * - internal/domain: the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/transfa/atm-cli/internal/domain"
)

// AtomicFunc is run inside one commit/rollback-guarded unit. The repository it
// receives is bound to that unit; using the outer repository inside fn escapes it.
type AtomicFunc func(ctx context.Context, repo Repository) error

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	FindAccountByName(ctx context.Context, name string) (*domain.Account, error)
	FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	// UpdateBalance adds delta to the balance and returns the new balance. It fails
	// with an insufficient-funds error instead of letting the balance go negative.
	UpdateBalance(ctx context.Context, id uuid.UUID, delta int64) (int64, error)
	// LockAccounts takes row locks in a fixed order for the rest of the atomic unit.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) error

	// Ledger methods
	InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	QueryLedger(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.HistoryItem, error)

	RunAtomic(ctx context.Context, fn AtomicFunc) error
}
