package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// sapNegotiator runs the secure association handshake used by MFi-SAP
// and FairPlay-SAP receivers: a two-message Noise-IK exchange over the
// control connection, authenticated by the receiver's long-term
// curve25519 key. A PIN, when the receiver demands one, is mixed into
// the handshake as the prologue so a wrong PIN fails authentication
// instead of leaking a comparable transcript.
type sapNegotiator struct {
	scheme       Scheme
	ex           Exchanger
	staticKey    noise.DHKey
	receiverKey  [32]byte
	pinRequired  bool
	pinRequested bool
}

func newSAPNegotiator(scheme Scheme, ex Exchanger, opts Options) (*sapNegotiator, error) {
	var zero [32]byte
	if opts.ReceiverStaticKey == zero {
		return nil, fmt.Errorf("%s pairing requires the receiver static key", scheme)
	}

	staticKey, err := loadStaticKey(opts.StaticKey)
	if err != nil {
		return nil, err
	}

	return &sapNegotiator{
		scheme:      scheme,
		ex:          ex,
		staticKey:   staticKey,
		receiverKey: opts.ReceiverStaticKey,
		pinRequired: opts.PinRequired,
	}, nil
}

// loadStaticKey derives the client DH key pair, either from a pinned
// private key or freshly generated.
func loadStaticKey(pinned [32]byte) (noise.DHKey, error) {
	var zero [32]byte
	if pinned == zero {
		cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
		key, err := cs.GenerateKeypair(rand.Reader)
		if err != nil {
			return noise.DHKey{}, fmt.Errorf("failed to generate static key: %w", err)
		}
		return key, nil
	}

	public, err := curve25519.X25519(pinned[:], curve25519.Basepoint)
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("invalid pinned static key: %w", err)
	}
	return noise.DHKey{Private: pinned[:], Public: public}, nil
}

func (s *sapNegotiator) Scheme() Scheme { return s.scheme }

// RequestPin asks the receiver to display its pairing PIN.
func (s *sapNegotiator) RequestPin() error {
	if err := s.ex.RequestPin(); err != nil {
		return fmt.Errorf("pin request failed: %w", err)
	}
	s.pinRequested = true
	return nil
}

// Pair runs the two-message handshake and derives the session secret
// from the handshake transcript.
func (s *sapNegotiator) Pair(pin string) (*Secret, error) {
	if s.pinRequired && (!s.pinRequested || pin == "") {
		return nil, ErrPinRequired
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		Prologue:      []byte(pin),
		StaticKeypair: s.staticKey,
		PeerStatic:    s.receiverKey[:],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to write handshake message: %w", err)
	}

	response, err := s.ex.Exchange("sap-setup", msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairingRejected, err)
	}

	_, cs1, cs2, err := hs.ReadMessage(nil, response)
	if err != nil {
		return nil, fmt.Errorf("%w: handshake response invalid: %v", ErrPairingRejected, err)
	}
	if cs1 == nil || cs2 == nil {
		return nil, fmt.Errorf("%w: handshake incomplete after response", ErrPairingRejected)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Pair",
		"scheme":   s.scheme.String(),
	}).Info("SAP handshake completed")

	return s.deriveSecret(hs.ChannelBinding())
}

// Repair derives a fresh session secret from the cached one without an
// interactive handshake: a key-confirmation proof goes to the receiver
// and the new secret is expanded from the cached material plus the
// receiver's nonce.
func (s *sapNegotiator) Repair(cached *Secret) (*Secret, error) {
	if cached == nil || cached.IsEmpty() {
		return nil, ErrNoCachedSecret
	}

	material := cached.Bytes()
	proof := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte("sap-verify")), proof); err != nil {
		return nil, fmt.Errorf("failed to derive verification proof: %w", err)
	}

	nonce, err := s.ex.Exchange("sap-verify", proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairingRejected, err)
	}

	return s.deriveSecret(append(material, nonce...))
}

// deriveSecret expands handshake output into the fixed-size secret: the
// first half binds the transcript, the second half carries the client
// static public key the receiver associates the session with.
func (s *sapNegotiator) deriveSecret(input []byte) (*Secret, error) {
	material := make([]byte, SecretSize)
	r := hkdf.New(sha256.New, input, nil, []byte("raop-session-secret"))
	if _, err := io.ReadFull(r, material[:32]); err != nil {
		return nil, fmt.Errorf("failed to derive session secret: %w", err)
	}
	copy(material[32:], s.staticKey.Public)
	return NewSecret(material)
}
