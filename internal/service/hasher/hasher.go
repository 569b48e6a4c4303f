package hasher

import (
	"fmt"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate salted hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	// Mismatch is not an error: (false, nil) returned. Error means the hash itself is broken
	Compare(hashedPassword string, password string) (bool, error)
}

const (
	AlgBcrypt = "bcrypt"
	AlgArgon2 = "argon2"
)

// Used if nothing else is configured
var Default PasswordHasher = BcryptHasher{}

// Build hasher by algorithm name
// cost is the work factor: bcrypt cost or argon2 time (iterations). Zero means default
func New(alg string, cost int) (PasswordHasher, error) {
	if cost < 0 {
		return nil, fmt.Errorf("work factor must not be negative, got %d", cost)
	}

	switch alg {
	case "", AlgBcrypt:
		h, err := NewBcrypt(cost)
		if err != nil {
			return nil, err
		}
		return h, nil
	case AlgArgon2:
		h, err := NewArgon2(Argon2Params{Time: uint32(cost)})
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown password hashing algorithm %q", alg)
	}
}
