package hasher

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	defaultArgon2Time        uint32 = 2
	defaultArgon2Memory      uint32 = 64 * 1024
	defaultArgon2Parallelism uint8  = 2
	argon2SaltLength                = 16
	argon2KeyLength          uint32 = 32
)

// Argon2id parameters. Zero values replaced with defaults
type Argon2Params struct {
	Time        uint32
	Memory      uint32 // KiB
	Parallelism uint8
}

// Argon2id hasher. Hashes are encoded in PHC string format:
// $argon2id$v=19$m=65536,t=2,p=2$<salt>$<hash>
type Argon2Hasher struct {
	params Argon2Params
}

func NewArgon2(p Argon2Params) (*Argon2Hasher, error) {
	if p.Time == 0 {
		p.Time = defaultArgon2Time
	}
	if p.Memory == 0 {
		p.Memory = defaultArgon2Memory
	}
	if p.Parallelism == 0 {
		p.Parallelism = defaultArgon2Parallelism
	}
	if p.Memory < 8*uint32(p.Parallelism) {
		return nil, errors.New("argon2 memory must be at least 8 KiB per thread")
	}

	return &Argon2Hasher{params: p}, nil
}

func (h *Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}

	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("error while generating salt. Err: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, argon2KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare uses parameters stored in the hash, so hashes made with older params still verify
func (h *Argon2Hasher) Compare(hashedPassword string, password string) (bool, error) {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, errors.New("argon2 hash has invalid format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errors.New("argon2 hash has unsupported version")
	}

	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return false, fmt.Errorf("argon2 hash has invalid params: %w", err)
	}
	if p.Time == 0 || p.Parallelism == 0 {
		return false, errors.New("argon2 hash has invalid params")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("argon2 hash has invalid salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false, errors.New("argon2 hash has invalid key")
	}

	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, uint32(len(expected)))

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
