package pairing

import "github.com/sirupsen/logrus"

// clearNegotiator is the no-authentication scheme: pairing trivially
// succeeds with an empty secret and streaming proceeds unencrypted.
type clearNegotiator struct{}

func (c *clearNegotiator) Scheme() Scheme { return SchemeClear }

// RequestPin is a no-op; the clear scheme never uses a PIN.
func (c *clearNegotiator) RequestPin() error { return nil }

// Pair succeeds immediately with an empty secret.
func (c *clearNegotiator) Pair(pin string) (*Secret, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Pair",
		"scheme":   "clear",
	}).Debug("Clear pairing completed with empty secret")
	return &Secret{}, nil
}

// Repair succeeds with an empty secret whether or not one was cached;
// there is nothing to re-establish.
func (c *clearNegotiator) Repair(cached *Secret) (*Secret, error) {
	return &Secret{}, nil
}
