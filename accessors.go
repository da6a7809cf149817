package raop

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/raop/pairing"
	"github.com/opd-ai/raop/timing"
)

// The accessors below read snapshot values under the session lock and
// never touch the network, so they are safe to call from any goroutine
// concurrently with the send loop. Sanitize is the one exception with a
// mutating side effect, documented on the method.

// Latency returns the session's effective latency in frames: the value
// every DAC-time calculation is built on. Always use this accessor
// rather than the configured value; the receiver may have raised it.
func (c *Client) Latency() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latency == 0 {
		// Not connected yet; report what the session will at least get.
		return timing.EffectiveLatency(c.cfg.LatencyFrames, 0)
	}
	return c.latency
}

// SampleRate returns the session's sample rate in Hz.
func (c *Client) SampleRate() uint32 {
	return c.cfg.SampleRate
}

// State returns the current position in the streaming state machine.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Secret returns an owned copy of the pairing secret, or nil before a
// successful Pair. The caller is responsible for wiping the copy.
func (c *Client) Secret() *pairing.Secret {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copySecret(c.secret)
}

// IsConnected reports whether the control connection is established.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// IsPlaying reports whether frames are flowing against a live timeline.
func (c *Client) IsPlaying() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateStreaming
}

// IsSane reports whether the session's state is internally consistent:
// a connected session must hold a control channel and a live timeline
// must have a start context. It performs no network I/O.
func (c *Client) IsSane() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isSaneLocked()
}

func (c *Client) isSaneLocked() bool {
	if c.connected && c.control == nil {
		return false
	}
	if !c.connected && c.state != StateDown {
		return false
	}
	if c.state == StateStreaming && !c.started {
		return false
	}
	return true
}

// Sanitize runs a liveness check on the session and forces the state
// machine to Down when it finds the connection unrecoverable. This is
// the one accessor with a mutating side effect: callers use it to
// recover from stale connections without crashing the send loop.
//
// Returns true when the session is healthy.
func (c *Client) Sanitize() bool {
	c.mu.Lock()
	if !c.isSaneLocked() {
		c.forceDownLocked("inconsistent session state")
		c.mu.Unlock()
		return false
	}
	control := c.control
	c.mu.Unlock()

	if control == nil {
		return true
	}

	// Probe the control connection without holding the session lock: a
	// receiver that times out must not stall the send loop or the other
	// accessors for the duration of the round trip.
	if err := control.Options(); err != nil {
		c.mu.Lock()
		c.forceDownLocked(err.Error())
		c.mu.Unlock()
		return false
	}
	return true
}

func (c *Client) forceDownLocked(reason string) {
	logrus.WithFields(logrus.Fields{
		"function": "Sanitize",
		"reason":   reason,
	}).Warn("Forcing session down")

	if c.audio != nil {
		c.audio.Close()
	}
	if c.controlOut != nil {
		c.controlOut.Close()
	}
	c.connected = false
	c.control = nil
	c.negotiator = nil
	c.state = StateDown
	c.started = false
}
