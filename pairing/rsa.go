package pairing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"fmt"

	"github.com/sirupsen/logrus"
)

// rsaKeySize is the AES-128 session key plus IV carried in the secret.
const (
	rsaAESKeySize = 16
	rsaAESIVSize  = 16
)

// rsaNegotiator implements the first-generation AirPort Express scheme:
// a random AES-128 session key is sealed to the receiver's well-known RSA
// public key and announced alongside the stream parameters. The secret
// retains the raw key and IV so the audio path can encrypt chunks and a
// later Repair can reuse the same session key.
type rsaNegotiator struct {
	ex           Exchanger
	receiverKey  *rsa.PublicKey
	pinRequired  bool
	pinRequested bool
}

func newRSANegotiator(ex Exchanger, opts Options) (*rsaNegotiator, error) {
	if len(opts.ReceiverRSAKey) == 0 {
		return nil, fmt.Errorf("rsa pairing requires the receiver public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(opts.ReceiverRSAKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse receiver RSA key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("receiver key is not an RSA public key")
	}
	return &rsaNegotiator{ex: ex, receiverKey: pub, pinRequired: opts.PinRequired}, nil
}

func (r *rsaNegotiator) Scheme() Scheme { return SchemeRSA }

// RequestPin asks the receiver to display its pairing PIN.
func (r *rsaNegotiator) RequestPin() error {
	if err := r.ex.RequestPin(); err != nil {
		return fmt.Errorf("pin request failed: %w", err)
	}
	r.pinRequested = true
	return nil
}

// Pair generates the AES session key, seals it to the receiver key and
// submits it. The returned secret holds key followed by IV.
func (r *rsaNegotiator) Pair(pin string) (*Secret, error) {
	if r.pinRequired && (!r.pinRequested || pin == "") {
		return nil, ErrPinRequired
	}

	material := make([]byte, rsaAESKeySize+rsaAESIVSize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}

	sealed, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, r.receiverKey, material[:rsaAESKeySize], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to seal session key: %w", err)
	}

	if _, err := r.ex.Exchange("rsa-setup", sealed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairingRejected, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Pair",
		"scheme":   "rsa",
	}).Info("RSA pairing completed")

	return NewSecret(material)
}

// Repair reuses the cached session key: the sealed key is resubmitted so
// the receiver installs the same session without a fresh key generation.
func (r *rsaNegotiator) Repair(cached *Secret) (*Secret, error) {
	if cached == nil || cached.IsEmpty() {
		return nil, ErrNoCachedSecret
	}
	material := cached.Bytes()
	if len(material) < rsaAESKeySize {
		return nil, fmt.Errorf("%w: cached material too short", ErrNoCachedSecret)
	}

	sealed, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, r.receiverKey, material[:rsaAESKeySize], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to seal cached session key: %w", err)
	}
	if _, err := r.ex.Exchange("rsa-setup", sealed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairingRejected, err)
	}
	return NewSecret(material)
}
