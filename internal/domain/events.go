/**
 * @description
 * This file defines the payloads published to the message broker after a
 * balance-affecting operation commits.
 *
 * @notes
 * - Events are notifications only; the ledger in the database stays the
 *   source of truth.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEvent is published once per committed deposit, withdrawal or transfer.
type LedgerEvent struct {
	EventID        uuid.UUID  `json:"event_id"`
	Kind           EntryKind  `json:"kind"`
	AccountID      uuid.UUID  `json:"account_id"`
	CounterpartyID *uuid.UUID `json:"counterparty_id,omitempty"`
	Amount         int64      `json:"amount"`
	Balance        int64      `json:"balance"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// RoutingKey returns the topic routing key for the event.
func (e LedgerEvent) RoutingKey() string {
	if e.Kind.IsTransfer() {
		return "ledger.transfer"
	}
	return "ledger." + string(e.Kind)
}
