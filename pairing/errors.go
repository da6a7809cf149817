package pairing

import "errors"

// Sentinel errors for pairing operations.
// These errors enable reliable classification using errors.Is().

var (
	// ErrPinRequired indicates a PIN-gated scheme was paired before
	// RequestPin, or without supplying the displayed PIN.
	ErrPinRequired = errors.New("pairing pin required")

	// ErrNoCachedSecret indicates Repair was called without a
	// previously established secret.
	ErrNoCachedSecret = errors.New("no cached pairing secret")

	// ErrUnsupportedScheme indicates the receiver advertised a scheme
	// this client cannot negotiate.
	ErrUnsupportedScheme = errors.New("unsupported pairing scheme")

	// ErrPairingRejected indicates the receiver refused the exchange,
	// typically because of a wrong PIN or password.
	ErrPairingRejected = errors.New("pairing rejected by receiver")
)
