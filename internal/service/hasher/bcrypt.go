package hasher

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt password hasher
// Password is pre-hashed with sha256: bcrypt silently truncates input longer than 72 bytes
type BcryptHasher struct {
	// Work factor. Zero means bcrypt.DefaultCost
	Cost int
}

func NewBcrypt(cost int) (BcryptHasher, error) {
	if cost != 0 && (cost < bcrypt.MinCost || cost > bcrypt.MaxCost) {
		return BcryptHasher{}, fmt.Errorf("bcrypt cost must be in range [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	return BcryptHasher{Cost: cost}, nil
}

func (h BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}

	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedPassword string, password string) (bool, error) {
	sum := sha256.Sum256([]byte(password))
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt hash is not valid: %w", err)
	}
}
