package raop

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/raop/timing"
	"github.com/opd-ai/raop/transport"
)

// StartAt anchors the stream timeline: the first frame of the next
// streaming epoch renders on the receiver exactly at startTime. The gate
// anticipates the receiver latency internally, so AcceptFrames opens at
// startTime minus the latency and the first chunk arrives just in time.
//
// Legal only from Flushed. Resets the frame counter; the session moves
// to Streaming on the first successful SendChunk.
func (c *Client) StartAt(startTime timing.NtpTime) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	if c.state != StateFlushed {
		return fmt.Errorf("%w: start_at from %s", ErrInvalidState, c.state)
	}
	if c.secret == nil {
		return ErrNotPaired
	}

	c.startNTP = startTime
	c.startTs = timing.NtpToTs(startTime, c.cfg.SampleRate)
	c.framesSent = 0
	c.started = true
	c.paused = false
	c.pauseOccurred = false
	c.firstPacket = true

	logrus.WithFields(logrus.Fields{
		"function": "StartAt",
		"start":    startTime.String(),
		"start_ts": uint32(c.startTs),
	}).Info("Stream timeline anchored")

	return nil
}

// AcceptFrames reports whether the receiver is ready for one more chunk.
// The caller polls it from the send loop and calls SendChunk only when
// it returns true; the gate itself never sleeps and has no side effects
// beyond reading the clock, so it is safe to poll at high frequency.
//
// The decision compares how far the wall clock has advanced past the
// timeline anchor against how many frames have already been sent: a
// session may run at most the receiver latency ahead of render time,
// which is exactly the receiver's buffer depth.
func (c *Client) AcceptFrames() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.started {
		return false
	}
	if c.state != StateStreaming && c.state != StateFlushed {
		return false
	}

	nowTs := timing.NtpToTs(c.clock.NowNTP(), c.cfg.SampleRate)
	next := c.startTs + timing.Timestamp(c.framesSent)
	horizon := nowTs + timing.Timestamp(c.latency)
	return !horizon.Before(next)
}

// SendChunk stamps one chunk of samples with the next sequence number
// and RTP timestamp and hands it to the audio transport.
//
// The chunk may carry at most the configured frame count; oversized
// chunks fail without touching the frame counter. The session must be
// Streaming, or Flushed with a live start context (first chunk after
// StartAt, or resume after Pause).
//
// Parameters:
//   - samples: Raw sample bytes for one chunk (frame = all channels)
//
// Returns:
//   - timing.NtpTime: The NTP time this chunk renders at the receiver
//   - error: ErrChunkTooLarge, ErrInvalidState, or a transport failure
func (c *Client) SendChunk(samples []byte) (timing.NtpTime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return 0, ErrNotConnected
	}

	frameBytes := c.cfg.Channels * c.cfg.SampleSize / 8
	frames := uint32(len(samples)) / frameBytes
	if frames > c.cfg.ChunkFrames {
		return 0, fmt.Errorf("%w: %d frames > %d", ErrChunkTooLarge, frames, c.cfg.ChunkFrames)
	}

	switch c.state {
	case StateStreaming:
		// timeline is live
	case StateFlushed:
		if !c.started {
			return 0, fmt.Errorf("%w: no start context", ErrInvalidState)
		}
		if c.paused {
			c.rebaseAfterPauseLocked()
		}
		c.state = StateStreaming
		c.firstPacket = true
	default:
		return 0, fmt.Errorf("%w: send_chunk from %s", ErrInvalidState, c.state)
	}

	offset := timing.Timestamp(c.framesSent)
	ts := c.startTs + offset

	if c.firstPacket {
		if err := c.sendSyncLocked(ts, true); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SendChunk",
				"error":    err.Error(),
			}).Warn("Initial sync packet failed")
		}
	}

	pkt := transport.NewAudioPacket(c.seq, ts, c.ssrc, samples, c.firstPacket)
	data, err := pkt.Marshal()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal audio packet: %w", err)
	}
	if err := c.audio.Send(data, c.audioAddr); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotAccepting, err)
	}

	c.seq++
	c.firstPacket = false
	c.framesSent += uint64(frames)

	playtime := c.startNTP + timing.TsToNtp(offset, c.cfg.SampleRate)
	return playtime, nil
}

// rebaseAfterPauseLocked shifts the timeline anchor so the resumed
// stream issues its next frame now and renders it one latency later.
// The frame counter is untouched: frame-based elapsed stays continuous
// across the pause, which is why it is the only method trusted once a
// pause has occurred.
func (c *Client) rebaseAfterPauseLocked() {
	now := c.clock.NowNTP()
	nowTs := timing.NtpToTs(now, c.cfg.SampleRate)
	c.startTs = nowTs + timing.Timestamp(c.latency) - timing.Timestamp(c.framesSent)
	c.startNTP = now + timing.TsToNtp(timing.Timestamp(c.latency), c.cfg.SampleRate) -
		timing.TsToNtp(timing.Timestamp(c.framesSent), c.cfg.SampleRate)
	c.paused = false

	logrus.WithFields(logrus.Fields{
		"function": "rebaseAfterPause",
		"start_ts": uint32(c.startTs),
		"frames":   c.framesSent,
	}).Debug("Timeline rebased after pause")
}

// sendSyncLocked emits a sync packet binding the current head of the
// timeline to the wall clock. The receiver renders sample (head -
// latency) at the embedded NTP time, which keeps its clock locked to the
// timeline regardless of network jitter on the audio path.
func (c *Client) sendSyncLocked(head timing.Timestamp, first bool) error {
	renderAt := c.startNTP + timing.TsToNtp(head-c.startTs, c.cfg.SampleRate)
	sendAt := renderAt - timing.TsToNtp(timing.Timestamp(c.latency), c.cfg.SampleRate)

	pkt := transport.NewSyncPacket(c.syncSeq, sendAt, head, timing.Timestamp(c.latency), first)
	c.syncSeq++
	return c.controlOut.Send(pkt.Marshal(), c.ctrlAddr)
}

// SendSync emits a periodic sync packet for the current timeline head.
// Send loops call it about once per second while streaming.
func (c *Client) SendSync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	if c.state != StateStreaming {
		return fmt.Errorf("%w: sync from %s", ErrInvalidState, c.state)
	}
	return c.sendSyncLocked(c.startTs+timing.Timestamp(c.framesSent), false)
}

// Flush tells the receiver to discard buffered audio. Idempotent: from
// Flushed or Down it is a no-op success, and from Flushing it retries
// the unacknowledged flush rather than corrupting state. The start
// context survives, so a paused stream can still resume afterwards.
func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDown || c.state == StateFlushed {
		return nil
	}
	if !c.connected {
		return ErrNotConnected
	}

	c.state = StateFlushing
	ts := c.startTs + timing.Timestamp(c.framesSent)
	if err := c.control.Flush(c.seq, ts); err != nil {
		// The receiver did not acknowledge; stay Flushing so the
		// caller can retry.
		return fmt.Errorf("flush failed: %w", err)
	}
	c.state = StateFlushed

	logrus.WithFields(logrus.Fields{
		"function": "Flush",
		"seq":      c.seq,
		"ts":       uint32(ts),
	}).Info("Receiver buffer flushed")

	return nil
}

// Pause halts the stream logically: the state returns to Flushed, the
// start context survives, and elapsed-time queries switch permanently to
// the frame-based method for this epoch. Callers stop polling
// AcceptFrames while paused and typically follow with Flush so the
// receiver drops what it has buffered.
func (c *Client) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStreaming {
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, c.state)
	}

	c.state = StateFlushed
	c.paused = true
	c.pauseOccurred = true

	logrus.WithFields(logrus.Fields{
		"function": "Pause",
		"frames":   c.framesSent,
	}).Info("Stream paused")

	return nil
}

// Stop ends playback and returns the state machine to Down from any
// state. The connection and pairing secret survive; Disconnect releases
// them. Safe to call from a goroutine other than the send loop: an
// in-flight SendChunk observes the transition and fails.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateDown
	c.started = false
	c.paused = false

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
		"frames":   c.framesSent,
	}).Info("Stream stopped")
}

// Elapsed returns how much audio the receiver has rendered in the
// current epoch.
//
// Two methods exist: wall-clock delta from the start anchor, and frame
// count minus latency. They agree while pacing runs in real time, but
// only the frame-based method stays correct across a pause, so it is
// used exclusively once a pause has occurred in this epoch.
func (c *Client) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.started {
		return 0
	}

	if c.pauseOccurred || c.state != StateStreaming {
		return c.frameElapsedLocked()
	}

	now := c.clock.NowNTP()
	if now <= c.startNTP {
		return 0
	}
	return timing.NtpToDuration(now - c.startNTP)
}

// PlayedFrames returns the frame-based elapsed playback: frames sent
// minus the receiver latency, the only measure that survives pauses.
func (c *Client) PlayedFrames() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playedFramesLocked()
}

func (c *Client) playedFramesLocked() uint64 {
	if c.framesSent <= uint64(c.latency) {
		return 0
	}
	return c.framesSent - uint64(c.latency)
}

func (c *Client) frameElapsedLocked() time.Duration {
	played := c.playedFramesLocked()
	ms := timing.TsToMs(timing.Timestamp(played), c.cfg.SampleRate)
	return time.Duration(ms) * time.Millisecond
}
