// Package raop implements a client for RAOP, the AirPlay remote audio
// output protocol: it negotiates authentication with a receiver, keeps
// the local audio clock bound to the receiver's render clock, and paces
// PCM/ALAC/AAC chunks so each one renders at an exact NTP time.
//
// The design follows a caller-driven model: one goroutine owns the send
// loop and polls AcceptFrames, handing a chunk to SendChunk whenever the
// gate opens. The gate is a cooperative throttle, never a blocking wait.
// Control operations and the read accessors are safe to call from other
// goroutines concurrently with the send loop.
//
// Example:
//
//	client, err := raop.New(raop.Config{SampleRate: 44100})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Connect(control, host); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := client.Pair(""); err != nil {
//	    log.Fatal(err)
//	}
//	client.StartAt(clock.NowNTP() + timing.MsToNtp(500))
//	for {
//	    if client.AcceptFrames() {
//	        playtime, err := client.SendChunk(nextChunk())
//	        ...
//	    }
//	}
package raop

import (
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/opd-ai/raop/pairing"
	"github.com/opd-ai/raop/timing"
	"github.com/opd-ai/raop/transport"
)

// MaxSamplesPerChunk is the largest number of sample frames one audio
// packet may carry.
const MaxSamplesPerChunk = 352

// Codec identifies the payload a session announces. The codec selects
// the frame size and rate assumptions the pacing gate runs on; encoding
// itself happens upstream of SendChunk.
type Codec int

const (
	// CodecPCM is uncompressed signed 16-bit PCM.
	CodecPCM Codec = iota
	// CodecALACRaw is pre-encoded ALAC passed through unchanged.
	CodecALACRaw
	// CodecALAC is ALAC framed by the caller per chunk.
	CodecALAC
	// CodecAAC is AAC-LC.
	CodecAAC
	// CodecAACELD is AAC-ELD, the low-delay profile.
	CodecAACELD
)

// String returns the codec name used in logs.
func (c Codec) String() string {
	switch c {
	case CodecPCM:
		return "pcm"
	case CodecALACRaw:
		return "alac-raw"
	case CodecALAC:
		return "alac"
	case CodecAAC:
		return "aac"
	case CodecAACELD:
		return "aac-eld"
	default:
		return "unknown"
	}
}

// ControlChannel is the session's view of the RTSP control connection.
// The textual handshake lives behind this interface; the client drives
// the verbs and owns all timing decisions. A ControlChannel also carries
// the pairing exchange (pairing.Exchanger).
//
// Implementations must tolerate calls from multiple goroutines: the
// session serializes state transitions, but keepalives and parameter
// updates may race with them.
type ControlChannel interface {
	pairing.Exchanger

	// Setup announces the stream and negotiates the port pair. It
	// returns the receiver's audio and control ports and the latency
	// in frames the receiver requests (zero when it states none).
	Setup(localAudioPort, localControlPort uint16) (audioPort, controlPort uint16, latency uint32, err error)

	// Record starts the receiver's render pipeline at the given
	// sequence number and RTP timestamp.
	Record(seq uint16, ts timing.Timestamp) error

	// Flush discards everything the receiver has buffered beyond the
	// given sequence/timestamp pair.
	Flush(seq uint16, ts timing.Timestamp) error

	// SetParameter pushes a volume, progress or metadata record.
	SetParameter(contentType string, body []byte) error

	// Options is the protocol-level no-op used as a keepalive.
	Options() error

	// Teardown ends the session on the receiver.
	Teardown() error
}

// Config carries the immutable parameters a session is created with.
// Malformed configuration fails New outright; a session never exists
// half-initialized.
type Config struct {
	// LocalIP is the interface to bind the UDP ports on. Defaults to
	// the unspecified address.
	LocalIP net.IP

	// PortBase and PortRange bound the local UDP port hunt. A zero
	// PortBase lets the OS choose.
	PortBase  uint16
	PortRange uint16

	// DACPID and ActiveRemote identify this client to remote control
	// surfaces. Both are generated when empty.
	DACPID       string
	ActiveRemote string

	// Codec selects the payload framing. Defaults to PCM.
	Codec Codec

	// ChunkFrames is the number of sample frames per chunk, at most
	// MaxSamplesPerChunk. Defaults to MaxSamplesPerChunk.
	ChunkFrames uint32

	// LatencyFrames raises the session's minimum latency above the
	// protocol floor of timing.MinLatencyFrames.
	LatencyFrames uint32

	// Crypto selects the pairing scheme. Defaults to clear.
	Crypto pairing.Scheme

	// Pairing carries the per-scheme key material.
	Pairing pairing.Options

	// Auth marks receivers that demand password authentication on the
	// control channel; Password is forwarded to it.
	Auth     bool
	Password string

	// CachedSecret restores a secret from a previous session (hex, as
	// produced by Secret.String) so Repair can skip interaction.
	CachedSecret string

	// SampleRate, SampleSize and Channels describe the stream.
	// Defaults: 44100 Hz, 16 bit, 2 channels.
	SampleRate uint32
	SampleSize uint32
	Channels   uint32

	// Volume is pushed right after a successful (re)pair when it lies
	// in the audible range (-30, 0] or equals VolumeMute. Any other
	// value means "do not set", and so does the zero value: a
	// default-constructed session never touches the receiver volume.
	// Push full volume (0 dB) with SetVolume after pairing instead.
	Volume float64

	// Clock overrides the wall clock, for tests. Defaults to the
	// system clock.
	Clock timing.ClockSource

	// AudioTransport and ControlTransport override the UDP sockets
	// Connect would otherwise bind, for tests and embedding.
	AudioTransport   transport.Transport
	ControlTransport transport.Transport
}

// VolumeMute is the sentinel volume value receivers interpret as mute.
const VolumeMute = -144

// VolumeUnset is the effective default for Config.Volume: it lies outside
// the settable range, so pairing leaves the receiver volume untouched.
const VolumeUnset = 1

// withDefaults validates the configuration and fills defaults, returning
// the effective copy.
func (c Config) withDefaults() (Config, error) {
	if c.SampleRate == 0 {
		c.SampleRate = 44100
	}
	if c.SampleSize == 0 {
		c.SampleSize = 16
	}
	if c.SampleSize != 8 && c.SampleSize != 16 {
		return c, fmt.Errorf("%w: sample size %d", ErrInvalidConfig, c.SampleSize)
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
	if c.Channels > 2 {
		return c, fmt.Errorf("%w: %d channels", ErrInvalidConfig, c.Channels)
	}
	if c.ChunkFrames == 0 {
		c.ChunkFrames = MaxSamplesPerChunk
	}
	if c.ChunkFrames > MaxSamplesPerChunk {
		return c, fmt.Errorf("%w: chunk of %d frames exceeds %d", ErrInvalidConfig, c.ChunkFrames, MaxSamplesPerChunk)
	}
	if c.LocalIP == nil {
		c.LocalIP = net.IPv4zero
	}
	if c.DACPID == "" {
		c.DACPID = uuid.NewString()
	}
	if c.ActiveRemote == "" {
		c.ActiveRemote = uuid.NewString()
	}
	if c.Clock == nil {
		c.Clock = timing.SystemClock{}
	}
	if c.Volume == 0 {
		// 0 dB is also the float zero value; an explicit full-volume
		// push goes through SetVolume, never through the default.
		c.Volume = VolumeUnset
	}
	return c, nil
}

// FloatVolume maps a 0-100 percent volume to the receiver's dB scale:
// zero is the mute sentinel, 100 is full volume, values in between scale
// linearly across (-30, 0].
func FloatVolume(percent int) float64 {
	switch {
	case percent <= 0:
		return VolumeMute
	case percent >= 100:
		return 0
	default:
		return -30 + float64(percent)*0.3
	}
}

// volumeInRange reports whether an initial volume should be pushed after
// pairing: audible range (-30, 0] or the mute sentinel.
func volumeInRange(vol float64) bool {
	return (vol > -30 && vol <= 0) || vol == VolumeMute
}
