package syncengine

import "time"

// Backoff returns the delay before retry number attempt (0-based):
// base·2^attempt, capped at max. A non-positive base disables retries and
// returns 0. A non-positive max means no cap.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		if max > 0 && d >= max {
			return max
		}
		// Stop doubling before the duration overflows.
		if d >= time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
