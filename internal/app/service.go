/**
 * @description
 * This file contains the core business logic for the ATM CLI. The `Service` struct
 * orchestrates authentication and all money movement, coordinating between the
 * storage repository, the ledger rules and the message broker.
 *
 * Key features:
 * - Every balance mutation and its ledger entries run inside one atomic unit.
 * - Withdrawals and transfers are split into a pure Prepare step and a commit step so
 *   the interaction layer owns the confirmation gate.
 * - Committed operations publish a LedgerEvent; publish failures are only logged.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/atm-cli/internal/domain"
	"github.com/transfa/atm-cli/internal/store"
	"github.com/transfa/atm-cli/pkg/rabbitmq"
)

const (
	DescriptionDeposit      = "Cash deposit"
	DescriptionWithdraw     = "Cash withdrawal"
	DescriptionTransferTo   = "Transfer to "
	DescriptionTransferFrom = "Transfer from "
)

// Options carries the optional collaborators and tunables of a Service.
type Options struct {
	Limiter          LoginLimiter
	EventExchange    string
	HistoryLimit     int
	LoginMaxAttempts int
	LoginWindow      time.Duration
	Logger           *slog.Logger
}

// Service provides the account operations of the ATM.
type Service struct {
	repo             store.Repository
	hasher           PINHasher
	limiter          LoginLimiter
	ledger           *Ledger
	events           rabbitmq.Publisher
	exchange         string
	loginMaxAttempts int
	loginWindow      time.Duration
	logger           *slog.Logger
	now              func() time.Time
	newID            func() uuid.UUID
}

// NewService creates a new service instance. A nil producer disables events.
func NewService(repo store.Repository, hasher PINHasher, producer rabbitmq.Publisher, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	exchange := opts.EventExchange
	if exchange == "" {
		exchange = "atm_events"
	}
	maxAttempts := opts.LoginMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	window := opts.LoginWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Service{
		repo:             repo,
		hasher:           hasher,
		limiter:          opts.Limiter,
		ledger:           NewLedger(opts.HistoryLimit),
		events:           producer,
		exchange:         exchange,
		loginMaxAttempts: maxAttempts,
		loginWindow:      window,
		logger:           logger,
		now:              time.Now,
		newID:            uuid.New,
	}
}

func requireSession(sess *domain.Session) error {
	if sess.AccountID() == uuid.Nil {
		return domain.AuthError("not logged in")
	}
	return nil
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return domain.ValidationError("amount must be greater than zero")
	}
	return nil
}

// CheckBalance reads the current account state and refreshes the session with it.
func (s *Service) CheckBalance(ctx context.Context, sess *domain.Session) (*domain.Account, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccountByID(ctx, sess.AccountID())
	if err != nil {
		return nil, domain.StorageError("check balance", err)
	}
	sess.Refresh(account)
	return account, nil
}

// Deposit credits amount to the session's account.
func (s *Service) Deposit(ctx context.Context, sess *domain.Session, amount int64) (*domain.Account, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	accountID := sess.AccountID()
	now := s.now().UTC()
	var updated *domain.Account
	err := s.repo.RunAtomic(ctx, func(ctx context.Context, tx store.Repository) error {
		if _, err := tx.UpdateBalance(ctx, accountID, amount); err != nil {
			return err
		}
		if err := s.ledger.Append(ctx, tx, &domain.LedgerEntry{
			AccountID:   accountID,
			Kind:        domain.EntryDeposit,
			Amount:      amount,
			Description: DescriptionDeposit,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		account, err := tx.FindAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		s.logger.Error("deposit failed", "component", "account_ops", "account_id", accountID, "amount", amount, "error", err)
		return nil, domain.StorageError("deposit", err)
	}

	sess.Refresh(updated)
	s.publish(ctx, domain.LedgerEvent{
		Kind:       domain.EntryDeposit,
		AccountID:  accountID,
		Amount:     amount,
		Balance:    updated.Balance,
		OccurredAt: now,
	})
	return updated, nil
}

// PrepareWithdrawal validates a withdrawal against the current balance without
// mutating anything.
func (s *Service) PrepareWithdrawal(ctx context.Context, sess *domain.Session, amount int64) (*domain.WithdrawalPlan, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	account, err := s.CheckBalance(ctx, sess)
	if err != nil {
		return nil, err
	}
	if amount > account.Balance {
		return nil, domain.InsufficientFundsError(account.Balance, amount)
	}
	return &domain.WithdrawalPlan{AccountID: account.ID, Amount: amount, Balance: account.Balance}, nil
}

// Withdraw commits a confirmed withdrawal plan. The balance is re-checked under the
// row lock, so a plan that went stale fails with insufficient funds.
func (s *Service) Withdraw(ctx context.Context, sess *domain.Session, plan *domain.WithdrawalPlan) (*domain.Account, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if plan == nil || plan.AccountID != sess.AccountID() {
		return nil, domain.ValidationError("withdrawal does not belong to this session")
	}
	if err := validateAmount(plan.Amount); err != nil {
		return nil, err
	}

	accountID := plan.AccountID
	now := s.now().UTC()
	var updated *domain.Account
	err := s.repo.RunAtomic(ctx, func(ctx context.Context, tx store.Repository) error {
		if err := tx.LockAccounts(ctx, accountID); err != nil {
			return err
		}
		if _, err := tx.UpdateBalance(ctx, accountID, -plan.Amount); err != nil {
			return err
		}
		if err := s.ledger.Append(ctx, tx, &domain.LedgerEntry{
			AccountID:   accountID,
			Kind:        domain.EntryWithdraw,
			Amount:      plan.Amount,
			Description: DescriptionWithdraw,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		account, err := tx.FindAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		s.logger.Warn("withdrawal failed", "component", "account_ops", "account_id", accountID, "amount", plan.Amount, "error", err)
		return nil, domain.StorageError("withdraw", err)
	}

	sess.Refresh(updated)
	s.publish(ctx, domain.LedgerEvent{
		Kind:       domain.EntryWithdraw,
		AccountID:  accountID,
		Amount:     plan.Amount,
		Balance:    updated.Balance,
		OccurredAt: now,
	})
	return updated, nil
}

// PrepareTransfer resolves the recipient and validates the transfer without
// mutating anything.
func (s *Service) PrepareTransfer(ctx context.Context, sess *domain.Session, recipientName string, amount int64) (*domain.TransferPlan, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	name := domain.NormalizeName(recipientName)
	if name == "" {
		return nil, domain.ValidationError("recipient name is required")
	}
	if domain.SameName(name, sess.Account.Name) {
		return nil, domain.SelfTransferError()
	}

	recipient, err := s.repo.FindAccountByName(ctx, name)
	if err != nil {
		return nil, domain.StorageError("find recipient", err)
	}
	if recipient.ID == sess.AccountID() {
		return nil, domain.SelfTransferError()
	}

	sender, err := s.CheckBalance(ctx, sess)
	if err != nil {
		return nil, err
	}
	if amount > sender.Balance {
		return nil, domain.InsufficientFundsError(sender.Balance, amount)
	}

	return &domain.TransferPlan{
		SenderID:      sender.ID,
		SenderName:    sender.Name,
		RecipientID:   recipient.ID,
		RecipientName: recipient.Name,
		Amount:        amount,
	}, nil
}

// Transfer commits a confirmed transfer plan as one all-or-nothing unit. Any failure
// is reported as a transfer-failed error wrapping the cause.
func (s *Service) Transfer(ctx context.Context, sess *domain.Session, plan *domain.TransferPlan) (*domain.Account, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if plan == nil || plan.SenderID != sess.AccountID() {
		return nil, domain.ValidationError("transfer does not belong to this session")
	}
	if err := validateAmount(plan.Amount); err != nil {
		return nil, err
	}
	if plan.RecipientID == plan.SenderID {
		return nil, domain.SelfTransferError()
	}

	senderID, recipientID := plan.SenderID, plan.RecipientID
	now := s.now().UTC()
	var updated *domain.Account
	err := s.repo.RunAtomic(ctx, func(ctx context.Context, tx store.Repository) error {
		if err := tx.LockAccounts(ctx, senderID, recipientID); err != nil {
			return err
		}
		if _, err := tx.UpdateBalance(ctx, senderID, -plan.Amount); err != nil {
			return err
		}
		if _, err := tx.UpdateBalance(ctx, recipientID, plan.Amount); err != nil {
			return err
		}
		if err := s.ledger.Append(ctx, tx, &domain.LedgerEntry{
			AccountID:      senderID,
			Kind:           domain.EntryTransferOut,
			Amount:         plan.Amount,
			CounterpartyID: &recipientID,
			Description:    DescriptionTransferTo + plan.RecipientName,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if err := s.ledger.Append(ctx, tx, &domain.LedgerEntry{
			AccountID:      recipientID,
			Kind:           domain.EntryTransferIn,
			Amount:         plan.Amount,
			CounterpartyID: &senderID,
			Description:    DescriptionTransferFrom + plan.SenderName,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		account, err := tx.FindAccountByID(ctx, senderID)
		if err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		s.logger.Error("transfer rolled back", "component", "account_ops", "sender_id", senderID, "recipient_id", recipientID, "amount", plan.Amount, "error", err)
		return nil, domain.TransferFailedError(err)
	}

	sess.Refresh(updated)
	s.logger.Info("transfer committed", "component", "account_ops", "sender_id", senderID, "recipient_id", recipientID, "amount", plan.Amount)
	s.publish(ctx, domain.LedgerEvent{
		Kind:           domain.EntryTransferOut,
		AccountID:      senderID,
		CounterpartyID: &recipientID,
		Amount:         plan.Amount,
		Balance:        updated.Balance,
		OccurredAt:     now,
	})
	return updated, nil
}

// History returns the newest ledger entries of the session's account.
func (s *Service) History(ctx context.Context, sess *domain.Session, limit int) ([]domain.HistoryItem, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, s.repo, sess.AccountID(), limit)
}

func (s *Service) publish(ctx context.Context, event domain.LedgerEvent) {
	if s.events == nil {
		return
	}
	event.EventID = s.newID()
	if err := s.events.Publish(ctx, s.exchange, event.RoutingKey(), event); err != nil {
		s.logger.Warn("failed to publish ledger event", "component", "account_ops", "routing_key", event.RoutingKey(), "error", err)
	}
}
