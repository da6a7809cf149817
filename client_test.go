package raop

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/raop/timing"
)

// fakeClock is a settable clock so pacing decisions are deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now timing.NtpTime
}

func newFakeClock() *fakeClock {
	// An arbitrary point well into the NTP era.
	return &fakeClock{now: timing.MsToNtp(3_900_000_000_000)}
}

func (f *fakeClock) NowNTP() timing.NtpTime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t timing.NtpTime) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *fakeClock) AdvanceMs(ms uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += timing.MsToNtp(ms)
}

type paramCall struct {
	contentType string
	body        string
}

// mockControl is a scripted control channel.
type mockControl struct {
	mu            sync.Mutex
	serverLatency uint32
	setupErr      error
	recordErr     error
	flushErr      error
	optionsErr    error
	optionsGate   chan struct{}
	flushCalls    int
	recordCalls   int
	optionsCalls  int
	teardownCalls int
	params        []paramCall
	pinRequests   int
}

func (m *mockControl) Setup(localAudio, localControl uint16) (uint16, uint16, uint32, error) {
	if m.setupErr != nil {
		return 0, 0, 0, m.setupErr
	}
	return 6000, 6001, m.serverLatency, nil
}

func (m *mockControl) Record(seq uint16, ts timing.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCalls++
	return m.recordErr
}

func (m *mockControl) Flush(seq uint16, ts timing.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushCalls++
	return m.flushErr
}

func (m *mockControl) SetParameter(contentType string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = append(m.params, paramCall{contentType, string(body)})
	return nil
}

func (m *mockControl) Options() error {
	m.mu.Lock()
	m.optionsCalls++
	gate := m.optionsGate
	err := m.optionsErr
	m.mu.Unlock()

	// An opened gate models a receiver that answers slowly.
	if gate != nil {
		<-gate
	}
	return err
}

func (m *mockControl) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownCalls++
	return nil
}

func (m *mockControl) Exchange(step string, payload []byte) ([]byte, error) {
	return nil, nil
}

func (m *mockControl) RequestPin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinRequests++
	return nil
}

func (m *mockControl) lastParam() (paramCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.params) == 0 {
		return paramCall{}, false
	}
	return m.params[len(m.params)-1], true
}

// mockAddr satisfies net.Addr without a real socket.
type mockAddr struct{ name string }

func (a mockAddr) Network() string { return "udp" }
func (a mockAddr) String() string  { return a.name }

// mockTransport records every packet handed to it.
type mockTransport struct {
	mu      sync.Mutex
	packets [][]byte
	sendErr error
	closed  bool
}

func (m *mockTransport) Send(data []byte, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.packets = append(m.packets, buf)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) LocalAddr() net.Addr { return mockAddr{"mock:0"} }

func (m *mockTransport) sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.packets))
	copy(out, m.packets)
	return out
}

// newTestClient builds a connected client on mocks.
func newTestClient(t *testing.T, cfg Config) (*Client, *mockControl, *mockTransport, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	audio := &mockTransport{}
	ctl := &mockTransport{}
	cfg.Clock = clock
	cfg.AudioTransport = audio
	cfg.ControlTransport = ctl

	client, err := New(cfg)
	require.NoError(t, err)

	control := &mockControl{}
	require.NoError(t, client.Connect(control, net.IPv4(192, 168, 1, 40)))
	return client, control, audio, clock
}

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"Defaults are valid", Config{}, false},
		{"Chunk at the maximum", Config{ChunkFrames: MaxSamplesPerChunk}, false},
		{"Chunk above the maximum", Config{ChunkFrames: MaxSamplesPerChunk + 1}, true},
		{"Unsupported sample size", Config{SampleSize: 24}, true},
		{"Too many channels", Config{Channels: 6}, true},
		{"Mono 8-bit", Config{Channels: 1, SampleSize: 8}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewFillsIdentifiers(t *testing.T) {
	client, err := New(Config{})
	require.NoError(t, err)
	assert.NotEmpty(t, client.cfg.DACPID)
	assert.NotEmpty(t, client.cfg.ActiveRemote)
	assert.Equal(t, uint32(44100), client.cfg.SampleRate)
	assert.Equal(t, uint32(MaxSamplesPerChunk), client.cfg.ChunkFrames)
	assert.Equal(t, float64(VolumeUnset), client.cfg.Volume,
		"the zero value must not read as a full-volume request")
}

func TestConnectLifecycle(t *testing.T) {
	client, control, _, _ := newTestClient(t, Config{})

	assert.True(t, client.IsConnected())
	assert.Equal(t, StateFlushed, client.State())
	assert.Equal(t, 1, control.recordCalls)
	assert.Equal(t, uint32(timing.MinLatencyFrames), client.Latency())

	assert.ErrorIs(t, client.Connect(control, net.IPv4zero), ErrAlreadyConnected)

	require.NoError(t, client.Disconnect())
	assert.False(t, client.IsConnected())
	assert.Equal(t, StateDown, client.State())
	assert.Equal(t, 1, control.teardownCalls)

	// Disconnecting an already-down session is a no-op.
	assert.NoError(t, client.Disconnect())
}

func TestConnectUsesServerLatency(t *testing.T) {
	clock := newFakeClock()
	client, err := New(Config{
		Clock:            clock,
		AudioTransport:   &mockTransport{},
		ControlTransport: &mockTransport{},
	})
	require.NoError(t, err)

	control := &mockControl{serverLatency: 22050}
	require.NoError(t, client.Connect(control, net.IPv4zero))
	assert.Equal(t, uint32(22050), client.Latency())
}

func TestConnectSetupFailure(t *testing.T) {
	client, err := New(Config{
		Clock:            newFakeClock(),
		AudioTransport:   &mockTransport{},
		ControlTransport: &mockTransport{},
	})
	require.NoError(t, err)

	control := &mockControl{setupErr: errors.New("refused")}
	err = client.Connect(control, net.IPv4zero)
	assert.Error(t, err)
	assert.False(t, client.IsConnected())
	assert.Equal(t, StateDown, client.State())
}

func TestPairClearYieldsEmptySecret(t *testing.T) {
	client, _, _, _ := newTestClient(t, Config{Volume: 12})

	secret, err := client.Pair("")
	require.NoError(t, err)
	assert.True(t, secret.IsEmpty())

	held := client.Secret()
	require.NotNil(t, held)
	assert.True(t, held.IsEmpty())
}

func TestPairPushesInitialVolume(t *testing.T) {
	tests := []struct {
		name     string
		volume   float64
		wantPush bool
	}{
		{"Audible volume", -20, true},
		{"Near full volume", -0.5, true},
		{"Mute sentinel", VolumeMute, true},
		{"Zero value stays unset", 0, false},
		{"Below audible range", -40, false},
		{"Above range", 5, false},
		{"Boundary -30 excluded", -30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, control, _, _ := newTestClient(t, Config{Volume: tt.volume})
			_, err := client.Pair("")
			require.NoError(t, err)

			param, pushed := control.lastParam()
			assert.Equal(t, tt.wantPush, pushed)
			if tt.wantPush {
				assert.Equal(t, "text/parameters", param.contentType)
				assert.Contains(t, param.body, "volume:")
			}
		})
	}
}

func TestPairBeforeConnect(t *testing.T) {
	client, err := New(Config{})
	require.NoError(t, err)

	_, err = client.Pair("")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, client.RequestPin(), ErrNotConnected)
}

func TestRepairClear(t *testing.T) {
	client, _, _, _ := newTestClient(t, Config{})

	_, err := client.Pair("")
	require.NoError(t, err)

	secret, err := client.Repair()
	require.NoError(t, err)
	assert.True(t, secret.IsEmpty())
}

func TestSecretOwnershipTransfer(t *testing.T) {
	client, _, _, _ := newTestClient(t, Config{})
	_, err := client.Pair("")
	require.NoError(t, err)

	first := client.Secret()
	second := client.Secret()
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotSame(t, first, second, "each read hands out its own copy")
}

func TestKeepalive(t *testing.T) {
	client, control, _, _ := newTestClient(t, Config{})

	require.NoError(t, client.Keepalive())
	assert.Equal(t, 1, control.optionsCalls)

	control.optionsErr = errors.New("timeout")
	assert.Error(t, client.Keepalive(), "keepalive failure is surfaced, caller retries")
	assert.True(t, client.IsConnected(), "keepalive failure is non-fatal")
}

func TestSetVolume(t *testing.T) {
	client, control, _, _ := newTestClient(t, Config{})

	require.NoError(t, client.SetVolume(-14.5))
	param, ok := control.lastParam()
	require.True(t, ok)
	assert.Equal(t, "text/parameters", param.contentType)
	assert.Equal(t, "volume: -14.500000\r\n", param.body)
}

func TestFloatVolume(t *testing.T) {
	assert.Equal(t, float64(VolumeMute), FloatVolume(0))
	assert.Equal(t, float64(VolumeMute), FloatVolume(-5))
	assert.Equal(t, 0.0, FloatVolume(100))
	assert.Equal(t, 0.0, FloatVolume(150))
	assert.InDelta(t, -15.0, FloatVolume(50), 1e-9)
	assert.True(t, volumeInRange(FloatVolume(1)))
	assert.True(t, volumeInRange(FloatVolume(100)))
	assert.True(t, volumeInRange(FloatVolume(0)))
}

func TestSetMetadataAndArtwork(t *testing.T) {
	client, control, _, _ := newTestClient(t, Config{})

	require.NoError(t, client.SetMetadata([]byte{0x6d, 0x6c, 0x69, 0x74}))
	param, _ := control.lastParam()
	assert.Equal(t, "application/x-dmap-tagged", param.contentType)

	require.NoError(t, client.SetArtwork("image/jpeg", []byte{0xFF, 0xD8}))
	param, _ = control.lastParam()
	assert.Equal(t, "image/jpeg", param.contentType)
}

func TestSetProgress(t *testing.T) {
	client, control, _, clock := newTestClient(t, Config{})
	_, err := client.Pair("")
	require.NoError(t, err)

	assert.ErrorIs(t, client.SetProgressMs(0, 1000), ErrInvalidState,
		"progress needs a timeline")

	require.NoError(t, client.StartAt(clock.NowNTP()))
	require.NoError(t, client.SetProgressMs(1000, 180000))

	param, ok := control.lastParam()
	require.True(t, ok)
	assert.Contains(t, param.body, "progress: ")

	var start, current, end uint32
	_, err = fmt.Sscanf(param.body, "progress: %d/%d/%d\r\n", &start, &current, &end)
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), current-start, "one second elapsed")
	assert.Equal(t, uint32(44100*180), end-start, "three minute track")
}

func TestSanitize(t *testing.T) {
	client, control, _, _ := newTestClient(t, Config{})

	assert.True(t, client.IsSane())
	assert.True(t, client.Sanitize())

	control.optionsErr = errors.New("connection reset")
	assert.False(t, client.Sanitize(), "stale connection is detected")
	assert.Equal(t, StateDown, client.State())
	assert.False(t, client.IsConnected())

	// A sanitized-down session is sane again: Down with no connection.
	assert.True(t, client.IsSane())
}

func TestSanitizeProbeDoesNotHoldSessionLock(t *testing.T) {
	client, control, _, _ := newTestClient(t, Config{})

	gate := make(chan struct{})
	control.mu.Lock()
	control.optionsGate = gate
	control.mu.Unlock()

	done := make(chan bool, 1)
	go func() { done <- client.Sanitize() }()

	require.Eventually(t, func() bool {
		control.mu.Lock()
		defer control.mu.Unlock()
		return control.optionsCalls == 1
	}, time.Second, time.Millisecond, "probe never reached the receiver")

	// The probe is parked on the receiver round trip; accessors and the
	// send path must not be stalled behind it.
	assert.Equal(t, StateFlushed, client.State())
	assert.True(t, client.IsConnected())
	assert.False(t, client.AcceptFrames())

	close(gate)
	assert.True(t, <-done)
}

func TestSanitizeBeforeConnect(t *testing.T) {
	client, err := New(Config{})
	require.NoError(t, err)
	assert.True(t, client.IsSane())
	assert.True(t, client.Sanitize())
}
