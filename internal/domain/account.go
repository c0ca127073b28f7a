/**
 * @description
 * This file defines the core domain model for an Account within the ATM simulator.
 * It represents the structure of an account as stored in the `accounts` table.
 *
 * @notes
 * - Balances are stored as `int64` in the smallest currency unit to avoid
 *   floating-point drift.
 * - The PIN is only ever held as a one-way bcrypt hash.
 */
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account represents a registered user's identity and balance record.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	PINHash   string    `json:"-"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeName trims surrounding whitespace from a display name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// SameName reports whether two display names refer to the same account.
// Names are unique case-insensitively.
func SameName(a, b string) bool {
	return strings.EqualFold(NormalizeName(a), NormalizeName(b))
}

// Session carries the authenticated account through one interactive run.
type Session struct {
	Account *Account
}

// NewSession starts a session for an authenticated account.
func NewSession(account *Account) *Session {
	return &Session{Account: account}
}

// AccountID returns the id of the session's account, or uuid.Nil for an empty session.
func (s *Session) AccountID() uuid.UUID {
	if s == nil || s.Account == nil {
		return uuid.Nil
	}
	return s.Account.ID
}

// Refresh replaces the cached account after a committed operation.
func (s *Session) Refresh(account *Account) {
	if s == nil || account == nil {
		return
	}
	s.Account = account
}
