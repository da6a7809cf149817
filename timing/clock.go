package timing

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// ClockSource abstracts the wall clock so every timing decision in the
// client can run against a deterministic clock in tests.
// Implementations must be safe for concurrent use.
type ClockSource interface {
	// NowNTP returns the current wall-clock time in the NTP domain.
	NowNTP() NtpTime
}

// SystemClock binds the standard library clock to the NTP domain.
type SystemClock struct{}

// NowNTP returns time.Now converted to a flat 64-bit NTP value.
func (SystemClock) NowNTP() NtpTime {
	now := time.Now()
	secs := uint64(now.Unix()) + ntpEpochOffset
	frac := (uint64(now.Nanosecond()) << 32) / uint64(time.Second)
	return NtpTime(secs<<32 | frac)
}

// TimeToNtp converts an absolute time.Time to the NTP domain using the
// same binding as SystemClock, so mixed sources stay consistent.
func TimeToNtp(t time.Time) NtpTime {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return NtpTime(secs<<32 | frac)
}

// NtpToDuration converts an NTP interval (a difference of two NtpTime
// values, not an absolute timestamp) to a time.Duration.
func NtpToDuration(ntp NtpTime) time.Duration {
	return time.Duration(NtpToMs(ntp)) * time.Millisecond
}

// Time32ToNtp rebinds a 32-bit millisecond counter into the full NTP
// domain near the clock's current time. Receivers report their clock as
// (seconds*1000 + fraction/1000) truncated to 32 bits, which rolls over
// roughly every 49 days; the value is assumed to be within 60 seconds of
// now, so the missing high bits are recovered from the local clock.
func Time32ToNtp(clock ClockSource, t uint32) NtpTime {
	ntpMs := NtpToMs(clock.NowNTP())
	if ms := uint32(ntpMs); ms > t+60000 || ms+60000 < t {
		ntpMs += 0x100000000
	}
	return MsToNtp((ntpMs &^ 0xffffffff) | uint64(t))
}
