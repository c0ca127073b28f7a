/**
 * @description
 * This file contains the ledger rules. Every balance-affecting operation appends
 * entries through Ledger.Append, which enforces the entry invariants before they
 * reach storage; History serves the reverse-chronological read model.
 *
 * @notes
 * - Append takes the repository explicitly so it can run inside an atomic unit.
 */
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/atm-cli/internal/domain"
	"github.com/transfa/atm-cli/internal/store"
)

// Ledger appends and queries immutable ledger entries.
type Ledger struct {
	defaultLimit int
	newID        func() uuid.UUID
	now          func() time.Time
}

func NewLedger(defaultLimit int) *Ledger {
	if defaultLimit <= 0 {
		defaultLimit = domain.DefaultHistoryLimit
	}
	return &Ledger{defaultLimit: defaultLimit, newID: uuid.New, now: time.Now}
}

// Append validates entry and inserts it through repo.
func (l *Ledger) Append(ctx context.Context, repo store.Repository, entry *domain.LedgerEntry) error {
	if entry == nil {
		return domain.ValidationError("ledger entry is required")
	}
	if entry.Amount <= 0 {
		return domain.ValidationError("ledger amount must be positive")
	}
	if !entry.Kind.Valid() {
		return domain.ValidationError(fmt.Sprintf("unknown ledger entry kind %q", entry.Kind))
	}
	if entry.Kind.IsTransfer() != (entry.CounterpartyID != nil) {
		return domain.ValidationError("counterparty must be set for transfers only")
	}
	if entry.CounterpartyID != nil && *entry.CounterpartyID == entry.AccountID {
		return domain.SelfTransferError()
	}
	if entry.ID == uuid.Nil {
		entry.ID = l.newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	if err := repo.InsertLedgerEntry(ctx, entry); err != nil {
		return domain.StorageError("insert ledger entry", err)
	}
	return nil
}

// History returns the newest entries for accountID. A non-positive limit uses the
// ledger's default.
func (l *Ledger) History(ctx context.Context, repo store.Repository, accountID uuid.UUID, limit int) ([]domain.HistoryItem, error) {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	items, err := repo.QueryLedger(ctx, accountID, limit)
	if err != nil {
		return nil, domain.StorageError("query ledger", err)
	}
	return items, nil
}
