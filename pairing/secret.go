package pairing

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
)

// SecretSize is the fixed capacity of a pairing secret in bytes.
const SecretSize = 64

// Secret is the opaque credential a successful pairing produces. The
// transport layer presents it on subsequent authenticated requests, and
// callers may persist it to re-pair without user interaction.
type Secret struct {
	data [SecretSize]byte
	used int
}

// NewSecret copies up to SecretSize bytes of key material into a secret.
func NewSecret(material []byte) (*Secret, error) {
	if len(material) > SecretSize {
		return nil, fmt.Errorf("secret material exceeds %d bytes", SecretSize)
	}
	s := &Secret{used: len(material)}
	copy(s.data[:], material)
	return s, nil
}

// ParseSecret restores a secret from its hex form, the format String
// produces and CLI flags carry.
func ParseSecret(encoded string) (*Secret, error) {
	material, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed secret encoding: %w", err)
	}
	return NewSecret(material)
}

// Bytes returns an owned copy of the key material. The caller is
// responsible for wiping the copy when done with it.
func (s *Secret) Bytes() []byte {
	out := make([]byte, s.used)
	copy(out, s.data[:s.used])
	return out
}

// Len returns the number of key material bytes in use.
func (s *Secret) Len() int { return s.used }

// IsEmpty reports whether the secret carries no key material, which is
// what the clear scheme produces.
func (s *Secret) IsEmpty() bool { return s.used == 0 }

// String encodes the key material as hex for persistence.
func (s *Secret) String() string {
	return hex.EncodeToString(s.data[:s.used])
}

// Equal compares two secrets in constant time.
func (s *Secret) Equal(other *Secret) bool {
	if other == nil || s.used != other.used {
		return false
	}
	return subtle.ConstantTimeCompare(s.data[:s.used], other.data[:other.used]) == 1
}

// Wipe erases the key material. The secret is unusable afterwards.
func (s *Secret) Wipe() error {
	if s == nil {
		return errors.New("cannot wipe nil secret")
	}
	zeros := make([]byte, SecretSize)
	subtle.ConstantTimeCompare(s.data[:], zeros)
	copy(s.data[:], zeros)
	s.used = 0
	runtime.KeepAlive(s)
	return nil
}
