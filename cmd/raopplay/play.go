package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/raop"
	"github.com/opd-ai/raop/pairing"
	"github.com/opd-ai/raop/timing"
)

// staticControl is a control channel for sessions negotiated out of band:
// the receiver ports and latency come from flags instead of a handshake.
// Protocol round trips that only make sense on a live handshake connection
// are accepted as no-ops.
type staticControl struct {
	audioPort   uint16
	controlPort uint16
	latency     uint32
}

func (s *staticControl) Setup(localAudio, localControl uint16) (uint16, uint16, uint32, error) {
	logrus.WithFields(logrus.Fields{
		"function":      "Setup",
		"local_audio":   localAudio,
		"local_control": localControl,
	}).Debug("Static session setup")
	return s.audioPort, s.controlPort, s.latency, nil
}

func (s *staticControl) Record(seq uint16, ts timing.Timestamp) error { return nil }
func (s *staticControl) Flush(seq uint16, ts timing.Timestamp) error  { return nil }
func (s *staticControl) Options() error                               { return nil }
func (s *staticControl) Teardown() error                              { return nil }

func (s *staticControl) SetParameter(contentType string, body []byte) error {
	logrus.WithFields(logrus.Fields{
		"function":     "SetParameter",
		"content_type": contentType,
		"bytes":        len(body),
	}).Debug("Parameter not forwarded on a static session")
	return nil
}

func (s *staticControl) Exchange(step string, payload []byte) ([]byte, error) {
	return nil, fmt.Errorf("static session cannot run pairing step %q", step)
}

func (s *staticControl) RequestPin() error {
	return errors.New("static session cannot request a PIN")
}

func parseScheme(name string) (pairing.Scheme, error) {
	switch name {
	case "clear":
		return pairing.SchemeClear, nil
	case "rsa":
		return pairing.SchemeRSA, nil
	case "mfisap":
		return pairing.SchemeMFiSAP, nil
	case "fairplaysap":
		return pairing.SchemeFairPlaySAP, nil
	default:
		return 0, fmt.Errorf("unknown pairing scheme %q", name)
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func play(cmd *cobra.Command, args []string) error {
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	host := net.ParseIP(flagHost)
	if host == nil {
		return fmt.Errorf("invalid receiver address %q", flagHost)
	}

	scheme, err := parseScheme(flagScheme)
	if err != nil {
		return err
	}

	in, err := openInput(args[0])
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	client, err := raop.New(raop.Config{
		PortBase:      flagPortBase,
		Crypto:        scheme,
		LatencyFrames: flagLatency,
		SampleRate:    flagSampleRate,
		CachedSecret:  flagSecret,
	})
	if err != nil {
		return err
	}

	control := &staticControl{
		audioPort:   flagAudioPort,
		controlPort: flagControlPort,
	}
	if err := client.Connect(control, host); err != nil {
		return err
	}
	defer client.Disconnect()

	// Cached secret resumes without interaction; otherwise run the
	// scheme (clear pairing needs no exchange and always succeeds).
	if flagSecret != "" {
		_, err = client.Repair()
	} else {
		_, err = client.Pair(flagPin)
	}
	if err != nil {
		return fmt.Errorf("pairing failed: %w", err)
	}

	if err := client.SetVolume(raop.FloatVolume(flagVolume)); err != nil {
		logrus.WithField("error", err.Error()).Warn("Volume push failed")
	}

	clock := timing.SystemClock{}
	start := clock.NowNTP() + timing.MsToNtp(flagWaitMs)
	if err := client.StartAt(start); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "play",
		"host":     flagHost,
		"start":    start.String(),
		"latency":  client.Latency(),
	}).Info("Streaming")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("Interrupted, stopping stream")
		client.Stop()
	}()

	return sendLoop(client, in)
}

// sendLoop paces chunks through the gate until the input is exhausted or
// the session stops. Sync packets go out about once per second, keepalives
// every thirty, and a progress line is printed each second.
func sendLoop(client *raop.Client, in io.Reader) error {
	chunkBytes := int(raop.MaxSamplesPerChunk) * 4 // 16-bit stereo
	buf := make([]byte, chunkBytes)

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()
	progress := time.NewTicker(time.Second)
	defer progress.Stop()

	for {
		select {
		case <-keepalive.C:
			if err := client.Keepalive(); err != nil {
				logrus.WithField("error", err.Error()).Warn("Keepalive failed")
			}
		case <-progress.C:
			elapsed := client.Elapsed()
			fmt.Printf("\r%02d:%02d", int(elapsed.Minutes()), int(elapsed.Seconds())%60)
			if client.IsPlaying() {
				if err := client.SendSync(); err != nil {
					logrus.WithField("error", err.Error()).Warn("Sync packet failed")
				}
			}
		default:
		}

		if !client.AcceptFrames() {
			if client.State() == raop.StateDown {
				fmt.Println()
				return nil
			}
			time.Sleep(2 * time.Millisecond)
			continue
		}

		n, err := io.ReadFull(in, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("read failed: %w", err)
		}
		// Whole frames only; a trailing partial frame is dropped.
		n -= n % 4
		if n == 0 {
			break
		}

		if _, err := client.SendChunk(buf[:n]); err != nil {
			if errors.Is(err, raop.ErrInvalidState) {
				fmt.Println()
				return nil // stopped from the signal handler
			}
			return err
		}
	}

	// Let the receiver drain its buffer before tearing down.
	drain := time.Duration(client.Latency()) * time.Second / time.Duration(client.SampleRate())
	time.Sleep(drain)
	fmt.Println()

	logrus.WithFields(logrus.Fields{
		"function": "sendLoop",
		"frames":   client.PlayedFrames(),
	}).Info("Playback finished")
	return nil
}
