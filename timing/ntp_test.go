package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsNtpRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ms   uint64
	}{
		{"Zero", 0},
		{"One millisecond", 1},
		{"One second", 1000},
		{"Typical latency", 250},
		{"One hour", 3600 * 1000},
		{"NTP era scale", uint64(time.Now().Unix()+2208988800) * 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ntp := MsToNtp(tt.ms)
			assert.Equal(t, tt.ms, NtpToMs(ntp), "ms -> ntp -> ms must be exact")
		})
	}
}

func TestMsNtpRoundTripExhaustiveSecond(t *testing.T) {
	// Every millisecond offset within a second must survive the round trip.
	base := uint64(3908000000) * 1000
	for ms := uint64(0); ms < 1000; ms++ {
		require.Equal(t, base+ms, NtpToMs(MsToNtp(base+ms)))
	}
}

func TestTsNtpRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ts   Timestamp
		rate uint32
	}{
		{"Zero at 44.1kHz", 0, 44100},
		{"One chunk at 44.1kHz", 352, 44100},
		{"Min latency at 44.1kHz", 11025, 44100},
		{"One hour at 44.1kHz", 44100 * 3600, 44100},
		{"48kHz", 48000 * 60, 48000},
		{"8kHz", 8000 * 90, 8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			back := NtpToTs(TsToNtp(tt.ts, tt.rate), tt.rate)
			// Truncation may lose at most one sample period.
			assert.LessOrEqual(t, uint32(tt.ts)-uint32(back), uint32(1),
				"ts -> ntp -> ts must recover within one sample")
		})
	}
}

func TestNtpToTsOneSecondIsRate(t *testing.T) {
	oneSecond := NtpTime(1) << 32
	assert.Equal(t, Timestamp(44100), NtpToTs(oneSecond, 44100))
	assert.Equal(t, Timestamp(48000), NtpToTs(oneSecond, 48000))
}

func TestMsToTs(t *testing.T) {
	assert.Equal(t, Timestamp(44100), MsToTs(1000, 44100))
	assert.Equal(t, Timestamp(441), MsToTs(10, 44100))
	assert.Equal(t, uint64(250), TsToMs(11025, 44100))
}

func TestTimestampBefore(t *testing.T) {
	assert.True(t, Timestamp(0).Before(1))
	assert.False(t, Timestamp(1).Before(0))
	assert.False(t, Timestamp(5).Before(5))
	// Ordering must survive the 2^32 wrap.
	assert.True(t, Timestamp(0xFFFFFFF0).Before(0x10))
	assert.False(t, Timestamp(0x10).Before(0xFFFFFFF0))
}

func TestNtpTimeParts(t *testing.T) {
	ntp := NtpTime(uint64(1234)<<32 | 5678)
	assert.Equal(t, uint32(1234), ntp.Seconds())
	assert.Equal(t, uint32(5678), ntp.Fraction())
	assert.Equal(t, "1234.5678", ntp.String())
}

func TestSystemClockMonotonic(t *testing.T) {
	clock := SystemClock{}
	a := clock.NowNTP()
	b := clock.NowNTP()
	require.GreaterOrEqual(t, uint64(b), uint64(a))

	// The binding must agree with TimeToNtp within a small margin.
	fromTime := TimeToNtp(time.Now())
	deltaMs := NtpToMs(fromTime) - NtpToMs(a)
	assert.Less(t, deltaMs, uint64(1000))
}

func TestTime32ToNtp(t *testing.T) {
	clock := fakeClock{now: MsToNtp(uint64(0x2_0000_1000))}

	t.Run("Counter near now", func(t *testing.T) {
		counter := uint32(0x00001500)
		got := Time32ToNtp(clock, counter)
		assert.Equal(t, uint64(0x2_0000_1500), NtpToMs(got))
	})

	t.Run("Counter just past rollover", func(t *testing.T) {
		clock := fakeClock{now: MsToNtp(uint64(0x2_FFFF_FF00))}
		counter := uint32(0x00000100)
		got := Time32ToNtp(clock, counter)
		assert.Equal(t, uint64(0x3_0000_0100), NtpToMs(got))
	})
}

type fakeClock struct {
	now NtpTime
}

func (f fakeClock) NowNTP() NtpTime { return f.now }
