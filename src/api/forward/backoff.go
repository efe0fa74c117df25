package forward

import (
	"math/rand"
	"time"
)

// RetryDelays is the base delay before each delivery attempt. Attempts past
// the end of the table reuse the last entry.
var RetryDelays = []time.Duration{
	0,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
	1800 * time.Second,
	3600 * time.Second,
}

// Delay returns the wait before delivery attempt n (0-based), with up to 10%
// jitter so retry storms from many targets spread out.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(RetryDelays) {
		attempt = len(RetryDelays) - 1
	}
	base := RetryDelays[attempt]
	if base == 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(base / 10)))
	return base + jitter
}
