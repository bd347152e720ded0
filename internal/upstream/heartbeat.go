package upstream

import (
	"sync/atomic"
	"time"
)

// heartbeatSupervisor sends a HeartbeatEvent on interval and calls
// onTimeout if no frame of any kind has been received within timeout.
// Receiving any frame counts toward liveness, not only HeartbeatEvent
// replies, matching a broker that treats any traffic as a keepalive.
type heartbeatSupervisor struct {
	interval time.Duration
	timeout  time.Duration
	lastRecv atomic.Int64 // unix nanos

	send      func() error
	onTimeout func()

	stop chan struct{}
}

func newHeartbeatSupervisor(interval, timeout time.Duration, send func() error, onTimeout func()) *heartbeatSupervisor {
	h := &heartbeatSupervisor{
		interval:  interval,
		timeout:   timeout,
		send:      send,
		onTimeout: onTimeout,
		stop:      make(chan struct{}),
	}
	h.touch()
	return h
}

// touch records that a frame was just received.
func (h *heartbeatSupervisor) touch() {
	h.lastRecv.Store(time.Now().UnixNano())
}

// run drives the send/timeout loop until Stop is called. Intended to run
// in its own goroutine.
func (h *heartbeatSupervisor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			since := time.Since(time.Unix(0, h.lastRecv.Load()))
			if since > h.timeout {
				h.onTimeout()
				return
			}
			_ = h.send()
		}
	}
}

func (h *heartbeatSupervisor) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}
