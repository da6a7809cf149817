package raop

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/raop/pairing"
	"github.com/opd-ai/raop/timing"
	"github.com/opd-ai/raop/transport"
)

// Client is a RAOP session with one receiver.
//
// All mutable session state is guarded by a single mutex: the send loop
// and the control surface may run on different goroutines, and Stop or
// Disconnect from a second goroutine must make an in-flight SendChunk
// fail promptly instead of blocking. The pure time-base conversions in
// package timing need no synchronization.
type Client struct {
	cfg   Config
	clock timing.ClockSource

	mu sync.RWMutex

	// connection
	connected  bool
	control    ControlChannel
	audio      transport.Transport
	controlOut transport.Transport
	remoteAddr net.IP
	audioAddr  net.Addr
	ctrlAddr   net.Addr

	// pairing
	negotiator pairing.Negotiator
	secret     *pairing.Secret

	// stream parameters resolved at connect time
	latency uint32
	ssrc    uint32

	// state machine and start context
	state         State
	seq           uint16
	syncSeq       uint16
	started       bool
	paused        bool
	pauseOccurred bool
	firstPacket   bool
	startNTP      timing.NtpTime   // render time of frame zero
	startTs       timing.Timestamp // render timestamp of frame zero
	framesSent    uint64
}

// New creates a session from the configuration. No network activity
// happens until Connect.
func New(cfg Config) (*Client, error) {
	effective, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	var ssrcBytes [4]byte
	if _, err := rand.Read(ssrcBytes[:]); err != nil {
		return nil, fmt.Errorf("failed to generate SSRC: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"codec":       effective.Codec.String(),
		"crypto":      effective.Crypto.String(),
		"sample_rate": effective.SampleRate,
		"chunk":       effective.ChunkFrames,
	}).Info("Creating RAOP session")

	return &Client{
		cfg:   effective,
		clock: effective.Clock,
		ssrc:  binary.BigEndian.Uint32(ssrcBytes[:]),
		state: StateDown,
	}, nil
}

// Connect establishes the session: it binds the local UDP ports,
// negotiates the receiver's ports and latency through the control
// channel, starts the render pipeline and leaves the session Flushed.
//
// Parameters:
//   - control: The RTSP control connection, already established
//   - host: The receiver's address; the Setup response carries the
//     receiver's audio and control ports
//
// Returns:
//   - error: ErrAlreadyConnected, or the underlying setup failure
func (c *Client) Connect(control ControlChannel, host net.IP) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}
	if control == nil {
		return fmt.Errorf("%w: control channel cannot be nil", ErrInvalidConfig)
	}

	audio := c.cfg.AudioTransport
	if audio == nil {
		bound, err := transport.NewUDPTransport(c.cfg.LocalIP, c.cfg.PortBase, c.cfg.PortRange)
		if err != nil {
			return fmt.Errorf("failed to bind audio port: %w", err)
		}
		audio = bound
	}
	controlOut := c.cfg.ControlTransport
	if controlOut == nil {
		bound, err := transport.NewUDPTransport(c.cfg.LocalIP, c.cfg.PortBase, c.cfg.PortRange)
		if err != nil {
			audio.Close()
			return fmt.Errorf("failed to bind control port: %w", err)
		}
		controlOut = bound
	}

	audioPort, controlPort, serverLatency, err := control.Setup(udpPort(audio), udpPort(controlOut))
	if err != nil {
		audio.Close()
		controlOut.Close()
		return fmt.Errorf("stream setup failed: %w", err)
	}

	c.latency = timing.EffectiveLatency(c.cfg.LatencyFrames, serverLatency)

	negotiator, err := pairing.New(c.cfg.Crypto, control, c.pairingOptions())
	if err != nil {
		audio.Close()
		controlOut.Close()
		return err
	}

	now := c.clock.NowNTP()
	if err := control.Record(c.seq, timing.NtpToTs(now, c.cfg.SampleRate)); err != nil {
		audio.Close()
		controlOut.Close()
		return fmt.Errorf("record failed: %w", err)
	}

	c.control = control
	c.audio = audio
	c.controlOut = controlOut
	c.remoteAddr = host
	c.audioAddr = &net.UDPAddr{IP: host, Port: int(audioPort)}
	c.ctrlAddr = &net.UDPAddr{IP: host, Port: int(controlPort)}
	c.negotiator = negotiator
	c.connected = true
	c.state = StateFlushed
	c.started = false
	c.paused = false
	c.pauseOccurred = false

	logrus.WithFields(logrus.Fields{
		"function":     "Connect",
		"host":         host.String(),
		"audio_port":   audioPort,
		"control_port": controlPort,
		"latency":      c.latency,
	}).Info("Session connected")

	return nil
}

// pairingOptions merges the auth flag into the per-scheme options: a
// password-protected receiver gates pairing behind a PIN prompt.
func (c *Client) pairingOptions() pairing.Options {
	opts := c.cfg.Pairing
	if c.cfg.Auth {
		opts.PinRequired = true
	}
	return opts
}

// Disconnect tears the session down on the receiver, closes the UDP
// ports and returns the state machine to Down. The pairing secret
// survives for a later Repair.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	var errs []error
	if err := c.control.Teardown(); err != nil {
		errs = append(errs, fmt.Errorf("teardown failed: %w", err))
	}
	if err := c.audio.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.controlOut.Close(); err != nil {
		errs = append(errs, err)
	}

	c.connected = false
	c.control = nil
	c.negotiator = nil
	c.state = StateDown
	c.started = false

	logrus.WithFields(logrus.Fields{
		"function": "Disconnect",
	}).Info("Session disconnected")

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// RequestPin asks the receiver to display a pairing PIN. PIN-gated
// schemes require this before Pair.
func (c *Client) RequestPin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	return c.negotiator.RequestPin()
}

// Pair runs the configured pairing scheme and stores the resulting
// secret. When the configured initial volume lies in the audible range
// (or is the mute sentinel) it is pushed immediately afterwards; any
// other value skips the push.
//
// Returns:
//   - *pairing.Secret: An owned copy of the secret, for persistence
//   - error: pairing.ErrPinRequired and friends, retryable via Pair
func (c *Client) Pair(pin string) (*pairing.Secret, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}

	secret, err := c.negotiator.Pair(pin)
	if err != nil {
		return nil, err
	}
	c.secret = secret

	logrus.WithFields(logrus.Fields{
		"function": "Pair",
		"scheme":   c.cfg.Crypto.String(),
	}).Info("Pairing completed")

	c.pushInitialVolumeLocked()
	return copySecret(secret), nil
}

// Repair re-establishes the session secret from the cached one without
// user interaction. The cache is the secret of the last successful Pair,
// or Config.CachedSecret when the session never paired.
func (c *Client) Repair() (*pairing.Secret, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}

	cached := c.secret
	if cached == nil && c.cfg.CachedSecret != "" {
		parsed, err := pairing.ParseSecret(c.cfg.CachedSecret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pairing.ErrNoCachedSecret, err)
		}
		cached = parsed
	}

	secret, err := c.negotiator.Repair(cached)
	if err != nil {
		return nil, err
	}
	c.secret = secret

	c.pushInitialVolumeLocked()
	return copySecret(secret), nil
}

// pushInitialVolumeLocked pushes the configured volume after pairing if
// it is within the settable range. Failure is logged, not surfaced: an
// unset volume does not invalidate a fresh pairing.
func (c *Client) pushInitialVolumeLocked() {
	if !volumeInRange(c.cfg.Volume) {
		return
	}
	if err := c.setVolumeLocked(c.cfg.Volume); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "pushInitialVolume",
			"volume":   c.cfg.Volume,
			"error":    err.Error(),
		}).Warn("Initial volume push failed")
	}
}

// Keepalive issues a protocol no-op so the receiver keeps the session
// open. It never touches timing state; failures are non-fatal and the
// caller decides whether to retry.
func (c *Client) Keepalive() error {
	c.mu.RLock()
	control := c.control
	c.mu.RUnlock()

	if control == nil {
		return ErrNotConnected
	}
	if err := control.Options(); err != nil {
		return fmt.Errorf("keepalive failed: %w", err)
	}
	return nil
}

// SetVolume pushes a volume in the receiver's dB scale: (-30, 0] or
// VolumeMute.
func (c *Client) SetVolume(vol float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setVolumeLocked(vol)
}

func (c *Client) setVolumeLocked(vol float64) error {
	if c.control == nil {
		return ErrNotConnected
	}
	body := fmt.Sprintf("volume: %f\r\n", vol)
	return c.control.SetParameter("text/parameters", []byte(body))
}

// SetProgress reports playback position to the receiver's UI. Elapsed
// and duration are wall-clock intervals of the current track.
func (c *Client) SetProgressMs(elapsedMs, durationMs uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.control == nil {
		return ErrNotConnected
	}
	if !c.started {
		return ErrInvalidState
	}

	rate := c.cfg.SampleRate
	elapsed := timing.MsToTs(uint64(elapsedMs), rate)
	duration := timing.MsToTs(uint64(durationMs), rate)

	current := c.startTs + timing.Timestamp(c.framesSent)
	start := current - elapsed
	end := start + duration

	body := fmt.Sprintf("progress: %d/%d/%d\r\n", uint32(start), uint32(current), uint32(end))
	return c.control.SetParameter("text/parameters", []byte(body))
}

// SetMetadata pushes a DAAP metadata record (title, artist, album). The
// record bytes are opaque to the client.
func (c *Client) SetMetadata(record []byte) error {
	c.mu.RLock()
	control := c.control
	c.mu.RUnlock()

	if control == nil {
		return ErrNotConnected
	}
	return control.SetParameter("application/x-dmap-tagged", record)
}

// SetArtwork pushes cover art with its content type.
func (c *Client) SetArtwork(contentType string, image []byte) error {
	c.mu.RLock()
	control := c.control
	c.mu.RUnlock()

	if control == nil {
		return ErrNotConnected
	}
	return control.SetParameter(contentType, image)
}

// udpPort extracts the bound port from a transport, zero when the local
// address is not UDP (test doubles).
func udpPort(t transport.Transport) uint16 {
	if addr, ok := t.LocalAddr().(*net.UDPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

// copySecret hands the caller an owned copy, per the ownership contract
// of the secret accessor.
func copySecret(s *pairing.Secret) *pairing.Secret {
	if s == nil {
		return nil
	}
	out, err := pairing.NewSecret(s.Bytes())
	if err != nil {
		return nil
	}
	return out
}
