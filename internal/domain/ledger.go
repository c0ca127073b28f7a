/**
 * @description
 * This file defines the ledger models: the immutable entries written for every
 * balance-affecting operation and the read model used for history screens.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind is the type of a ledger entry.
type EntryKind string

const (
	EntryDeposit     EntryKind = "deposit"
	EntryWithdraw    EntryKind = "withdraw"
	EntryTransferOut EntryKind = "transfer_out"
	EntryTransferIn  EntryKind = "transfer_in"
)

// DefaultHistoryLimit is the number of entries shown when no limit is configured.
const DefaultHistoryLimit = 20

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryDeposit, EntryWithdraw, EntryTransferOut, EntryTransferIn:
		return true
	}
	return false
}

// IsTransfer reports whether the kind carries a counterparty.
func (k EntryKind) IsTransfer() bool {
	return k == EntryTransferOut || k == EntryTransferIn
}

// LedgerEntry is one append-only record in the `ledger_entries` table.
type LedgerEntry struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	Kind           EntryKind  `json:"kind"`
	Amount         int64      `json:"amount"`
	CounterpartyID *uuid.UUID `json:"counterparty_id,omitempty"`
	Description    string     `json:"description"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HistoryItem is a ledger entry annotated with the counterparty's display name.
type HistoryItem struct {
	LedgerEntry
	CounterpartyName *string `json:"counterparty_name,omitempty"`
}

// WithdrawalPlan is the validated effect of a withdrawal awaiting confirmation.
type WithdrawalPlan struct {
	AccountID uuid.UUID
	Amount    int64
	Balance   int64 // balance observed when the plan was made
}

// TransferPlan is the validated effect of a transfer awaiting confirmation.
type TransferPlan struct {
	SenderID      uuid.UUID
	SenderName    string
	RecipientID   uuid.UUID
	RecipientName string
	Amount        int64
}
