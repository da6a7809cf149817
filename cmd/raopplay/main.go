// Command raopplay streams a raw PCM file to an AirPlay audio receiver.
//
// The session-setup handshake is out of band: the receiver's audio and
// control ports are passed as flags, the way a controlling application
// would hand them over after negotiating the session itself.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagHost        string
	flagAudioPort   uint16
	flagControlPort uint16
	flagPortBase    uint16
	flagVolume      int
	flagLatency     uint32
	flagSampleRate  uint32
	flagWaitMs      uint64
	flagSecret      string
	flagPin         string
	flagScheme      string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "raopplay <pcm-file>",
	Short: "Stream raw PCM audio to an AirPlay receiver",
	Long: `raopplay paces a raw PCM stream (16-bit stereo) to an AirPlay
audio receiver whose session was set up out of band.

The file argument may be "-" to read from stdin.

Example:
  raopplay --host 192.168.1.40 --audio-port 6000 --control-port 6001 track.pcm`,
	Args: cobra.ExactArgs(1),
	RunE: play,
}

func init() {
	rootCmd.Flags().StringVar(&flagHost, "host", "", "Receiver IP address (required)")
	rootCmd.Flags().Uint16Var(&flagAudioPort, "audio-port", 6000, "Receiver audio (RTP) port")
	rootCmd.Flags().Uint16Var(&flagControlPort, "control-port", 6001, "Receiver control port")
	rootCmd.Flags().Uint16Var(&flagPortBase, "port", 0, "Local port base (0 picks ephemeral ports)")
	rootCmd.Flags().IntVar(&flagVolume, "volume", 50, "Playback volume, 0-100")
	rootCmd.Flags().Uint32Var(&flagLatency, "latency", 0, "Requested latency in frames (floored at 11025)")
	rootCmd.Flags().Uint32Var(&flagSampleRate, "rate", 44100, "Sample rate in Hz")
	rootCmd.Flags().Uint64Var(&flagWaitMs, "wait", 1000, "Delay before the first frame renders, in ms")
	rootCmd.Flags().StringVar(&flagSecret, "secret", "", "Cached pairing secret (hex) to resume without interaction")
	rootCmd.Flags().StringVar(&flagPin, "pin", "", "Pairing PIN shown on the receiver")
	rootCmd.Flags().StringVar(&flagScheme, "scheme", "clear", "Pairing scheme (clear, rsa, mfisap, fairplaysap)")
	rootCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")

	_ = rootCmd.MarkFlagRequired("host")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithField("error", err.Error()).Error("Playback failed")
		os.Exit(1)
	}
}
