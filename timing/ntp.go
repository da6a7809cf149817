// Package timing implements the RAOP time base: conversions between the
// 64-bit fixed-point NTP wall-clock domain and the 32-bit sample-indexed
// RTP timestamp domain, plus the receiver latency model.
//
// All conversions are exact integer fixed-point arithmetic. The scale
// factors are split (shift by 10 then 22 for milliseconds, 16 then 16 for
// sample timestamps) so that 64-bit intermediates never overflow and no
// floating-point rounding can accumulate drift over long sessions.
//
// Example:
//
//	now := timing.SystemClock{}.NowNTP()
//	ts := timing.NtpToTs(now, 44100)
//	back := timing.TsToNtp(ts, 44100)
package timing

import "fmt"

// NtpTime is a flat 64-bit fixed-point NTP timestamp: the high 32 bits
// hold seconds since the NTP epoch (1900-01-01), the low 32 bits hold the
// fractional second.
type NtpTime uint64

// Seconds returns the integer-second part of the timestamp.
func (n NtpTime) Seconds() uint32 { return uint32(n >> 32) }

// Fraction returns the sub-second part of the timestamp.
func (n NtpTime) Fraction() uint32 { return uint32(n) }

// String formats the timestamp as "seconds.fraction" for log output.
func (n NtpTime) String() string {
	return fmt.Sprintf("%d.%d", n.Seconds(), n.Fraction())
}

// Timestamp is a 32-bit sample-indexed RTP timestamp at some sample rate.
// It wraps at 2^32 samples; use Before for wrap-aware ordering.
type Timestamp uint32

// Before reports whether a is earlier than b in modular 32-bit arithmetic.
// The comparison stays correct across a single wrap, which covers streams
// up to 2^31 samples apart (over 13 hours at 44.1kHz).
func (a Timestamp) Before(b Timestamp) bool {
	return int32(uint32(a)-uint32(b)) < 0
}

// NtpToMs converts an NTP timestamp to milliseconds since the NTP epoch.
// Sub-millisecond precision is truncated.
func NtpToMs(ntp NtpTime) uint64 {
	return ((uint64(ntp) >> 10) * 1000) >> 22
}

// MsToNtp converts milliseconds since the NTP epoch to an NTP timestamp.
// The division rounds up so that NtpToMs(MsToNtp(ms)) == ms exactly for
// every ms; a truncating division here would land one fraction unit short
// and shift the whole session by a millisecond.
func MsToNtp(ms uint64) NtpTime {
	return NtpTime(((ms<<22 + 999) / 1000) << 10)
}

// NtpToTs converts an NTP timestamp to a sample timestamp at the given
// sample rate. The 16/16 shift split keeps the 64-bit intermediate
// multiplication from overflowing for all real sample rates.
func NtpToTs(ntp NtpTime, rate uint32) Timestamp {
	return Timestamp(((uint64(ntp) >> 16) * uint64(rate)) >> 16)
}

// TsToNtp converts a sample timestamp at the given sample rate to the NTP
// domain. The result is truncated to whole sub-second fraction units of
// 2^-16; round-tripping through NtpToTs recovers the timestamp within one
// sample period.
func TsToNtp(ts Timestamp, rate uint32) NtpTime {
	return NtpTime(((uint64(ts) << 16) / uint64(rate)) << 16)
}

// MsToTs converts milliseconds to a sample count at the given sample rate.
func MsToTs(ms uint64, rate uint32) Timestamp {
	return Timestamp(ms * uint64(rate) / 1000)
}

// TsToMs converts a sample timestamp at the given rate to milliseconds.
func TsToMs(ts Timestamp, rate uint32) uint64 {
	return NtpToMs(TsToNtp(ts, rate))
}
