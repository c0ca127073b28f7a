package app

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/transfa/atm-cli/internal/domain"
)

const (
	pinLength     = 4
	maxNameLength = 64
	loginScope    = "login"
)

func validatePIN(pin string) error {
	if len(pin) != pinLength {
		return domain.ValidationError("PIN must be exactly 4 digits")
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return domain.ValidationError("PIN must be exactly 4 digits")
		}
	}
	return nil
}

func validateName(name string) (string, error) {
	trimmed := domain.NormalizeName(name)
	if trimmed == "" {
		return "", domain.ValidationError("name is required")
	}
	if utf8.RuneCountInString(trimmed) > maxNameLength {
		return "", domain.ValidationError(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	return trimmed, nil
}

// Register creates a new account with a zero balance.
func (s *Service) Register(ctx context.Context, name, pin string) (*domain.Account, error) {
	trimmed, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if err := validatePIN(pin); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(pin)
	if err != nil {
		return nil, domain.StorageError("hash pin", err)
	}

	account, err := s.repo.CreateAccount(ctx, &domain.Account{
		ID:      s.newID(),
		Name:    trimmed,
		PINHash: hash,
		Balance: 0,
	})
	if err != nil {
		return nil, domain.StorageError("create account", err)
	}

	s.logger.Info("account registered", "component", "auth", "account_id", account.ID)
	return account, nil
}

// Login verifies name and PIN and starts a session. Attempts are throttled per name
// when a limiter is configured; limiter outages never block a login.
func (s *Service) Login(ctx context.Context, name, pin string) (*domain.Session, error) {
	trimmed, err := validateName(name)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, loginScope, trimmed, s.loginMaxAttempts, s.loginWindow)
		if err != nil {
			s.logger.Warn("login limiter unavailable", "component", "auth", "error", err)
		} else if count > s.loginMaxAttempts {
			s.logger.Warn("login throttled", "component", "auth", "attempts", count)
			return nil, domain.AuthError(fmt.Sprintf("too many login attempts; try again in %d seconds", retryAfter))
		}
	}

	account, err := s.repo.FindAccountByName(ctx, trimmed)
	if err != nil {
		return nil, domain.StorageError("find account", err)
	}

	ok, err := s.hasher.Verify(pin, account.PINHash)
	if err != nil {
		return nil, domain.StorageError("verify pin", err)
	}
	if !ok {
		return nil, domain.AuthError("incorrect PIN")
	}

	if s.limiter != nil {
		if err := s.limiter.ResetRateLimit(ctx, loginScope, trimmed); err != nil {
			s.logger.Warn("failed to reset login limiter", "component", "auth", "error", err)
		}
	}

	s.logger.Debug("login succeeded", "component", "auth", "account_id", account.ID)
	return domain.NewSession(account), nil
}
