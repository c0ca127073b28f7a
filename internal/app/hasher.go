package app

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PINHasher derives and checks one-way PIN credentials.
type PINHasher interface {
	Hash(pin string) (string, error)
	Verify(pin, hash string) (bool, error)
}

// BcryptHasher hashes PINs with bcrypt at a tunable cost.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Hash(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), h.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports a mismatch as (false, nil); only malformed hashes return an error.
func (h *BcryptHasher) Verify(pin, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
