package timing

// MinLatencyFrames is the hard floor on receiver latency: 11025 frames,
// 250ms at 44.1kHz. Receivers buffer at least this much regardless of
// what a session requests.
const MinLatencyFrames = 11025

// EffectiveLatency resolves the latency a session must plan around: the
// larger of the configured minimum and the receiver-requested value,
// never below the hard floor. The result is monotonic in requested.
//
// Every DAC-time calculation adds this latency to the client send time,
// so a frame meant to render at NTP time T must be issued at T minus the
// latency converted to the NTP domain.
func EffectiveLatency(configuredMin, requested uint32) uint32 {
	latency := configuredMin
	if latency < MinLatencyFrames {
		latency = MinLatencyFrames
	}
	if requested > latency {
		latency = requested
	}
	return latency
}
