// Package pairing implements the authentication and key-exchange phase a
// RAOP session must complete before streaming is permitted.
//
// The package is polymorphic over the crypto schemes receivers advertise:
// Clear (no authentication), RSA (AirPort Express key transport), and the
// SAP handshake family (MFi-SAP and FairPlay-SAP), which are run as a
// two-message Noise-IK exchange over the session's control connection.
// The cryptographic details of each exchange stay inside this package;
// the rest of the client only consumes the resulting Secret.
//
// A scheme that gates pairing behind an on-screen PIN requires
// RequestPin first, which asks the receiver to display one; Pair then
// mixes the PIN into the exchange.
package pairing

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Scheme selects which pairing negotiation runs before streaming.
type Scheme int

const (
	// SchemeClear performs no authentication and yields an empty secret.
	SchemeClear Scheme = iota
	// SchemeRSA seals a random AES session key to the receiver's RSA
	// public key (first generation AirPort Express receivers).
	SchemeRSA
	// SchemeFairPlay is the table-driven FairPlay v2 exchange. Only its
	// state-machine role is modeled; the blob tables are receiver
	// firmware specific and not implemented.
	SchemeFairPlay
	// SchemeMFiSAP is the MFi secure association protocol handshake.
	SchemeMFiSAP
	// SchemeFairPlaySAP combines FairPlay with the SAP handshake.
	SchemeFairPlaySAP
)

// String returns the scheme name used in logs and SDP attributes.
func (s Scheme) String() string {
	switch s {
	case SchemeClear:
		return "clear"
	case SchemeRSA:
		return "rsa"
	case SchemeFairPlay:
		return "fairplay"
	case SchemeMFiSAP:
		return "mfisap"
	case SchemeFairPlaySAP:
		return "fairplaysap"
	default:
		return "unknown"
	}
}

// Exchanger carries pairing messages to the receiver and back. The
// session's control connection implements it; tests provide fakes.
type Exchanger interface {
	// Exchange sends one pairing step payload and returns the
	// receiver's response body.
	Exchange(step string, payload []byte) ([]byte, error)

	// RequestPin asks the receiver to display a pairing PIN
	// out-of-band.
	RequestPin() error
}

// Negotiator runs one pairing scheme to completion.
//
// Implementations are not safe for concurrent use; the session serializes
// access the same way it serializes all other control operations.
type Negotiator interface {
	// Scheme identifies the negotiation variant.
	Scheme() Scheme

	// RequestPin triggers the receiver's PIN display. Schemes that
	// never use a PIN accept the call as a no-op.
	RequestPin() error

	// Pair runs the full interactive exchange and returns the session
	// secret. Schemes gated behind a PIN fail with ErrPinRequired
	// until RequestPin has been called and a pin is supplied.
	Pair(pin string) (*Secret, error)

	// Repair re-establishes a session secret from a previously cached
	// one without user interaction. Fails with ErrNoCachedSecret when
	// cached is nil.
	Repair(cached *Secret) (*Secret, error)
}

// Options carries the per-scheme parameters a negotiation may need.
type Options struct {
	// ReceiverRSAKey is the receiver's RSA public key in PKIX DER form,
	// required by SchemeRSA.
	ReceiverRSAKey []byte

	// ReceiverStaticKey is the receiver's long-term curve25519 public
	// key, required by the SAP schemes.
	ReceiverStaticKey [32]byte

	// StaticKey optionally pins the client's long-term curve25519
	// private key; a fresh key is generated when zero.
	StaticKey [32]byte

	// PinRequired marks receivers configured to gate pairing behind an
	// on-screen PIN.
	PinRequired bool
}

// New builds the negotiator for a scheme.
//
// Parameters:
//   - scheme: The pairing variant the receiver advertised
//   - ex: Control-connection message carrier
//   - opts: Per-scheme key material and flags
//
// Returns:
//   - Negotiator: The scheme-specific negotiator
//   - error: ErrUnsupportedScheme for variants this client cannot run
func New(scheme Scheme, ex Exchanger, opts Options) (Negotiator, error) {
	logrus.WithFields(logrus.Fields{
		"function": "New",
		"scheme":   scheme.String(),
	}).Debug("Creating pairing negotiator")

	if ex == nil {
		return nil, fmt.Errorf("exchanger cannot be nil")
	}

	switch scheme {
	case SchemeClear:
		return &clearNegotiator{}, nil
	case SchemeRSA:
		return newRSANegotiator(ex, opts)
	case SchemeMFiSAP, SchemeFairPlaySAP:
		return newSAPNegotiator(scheme, ex, opts)
	case SchemeFairPlay:
		// fp-setup needs firmware-specific cipher tables.
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedScheme, scheme)
	}
}
