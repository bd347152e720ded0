package upstream

import "time"

const maxReconnectDelay = 30 * time.Second

// reconnector computes linear backoff delays for reconnect attempts:
// delay = interval * attempt, capped at maxReconnectDelay, giving up once
// maxAttempts is reached.
type reconnector struct {
	interval    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(interval time.Duration, maxAttempts int) *reconnector {
	return &reconnector{interval: interval, maxAttempts: maxAttempts}
}

// next returns the delay before the next attempt and whether the caller
// should try at all; ok is false once maxAttempts attempts have already
// been made.
func (r *reconnector) next() (delay time.Duration, ok bool) {
	if r.attempt >= r.maxAttempts {
		return 0, false
	}
	r.attempt++
	delay = r.interval * time.Duration(r.attempt)
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay, true
}

// reset clears the attempt counter after a successful connection.
func (r *reconnector) reset() {
	r.attempt = 0
}
