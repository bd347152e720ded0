package upstream

import (
	"context"
	"sync"
	"time"

	"brokergateway/internal/gwerrors"
)

// correlationTable matches a response frame back to the request that is
// waiting for it, keyed by the response's payloadType. Only the handshake
// requests go through it (order and close-position requests are written
// without an entry), and those are sequential by construction, so one
// pending waiter per response type is enough.
type correlationTable struct {
	mu      sync.Mutex
	pending map[int32]chan any
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{pending: make(map[int32]chan any)}
}

// await registers a waiter for responseType, runs register (typically the
// request write), and blocks until a matching response arrives, ctx is
// done, or timeout elapses.
func (t *correlationTable) await(ctx context.Context, responseType int32, timeout time.Duration, op string, register func() error) (any, error) {
	ch := make(chan any, 1)
	t.mu.Lock()
	t.pending[responseType] = ch
	t.mu.Unlock()

	if err := register(); err != nil {
		t.mu.Lock()
		delete(t.pending, responseType)
		t.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		t.mu.Lock()
		delete(t.pending, responseType)
		t.mu.Unlock()
		return nil, &gwerrors.RequestTimeout{Op: op, PayloadType: responseType}
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, responseType)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// resolve delivers msg to the waiter registered for payloadType, if any.
// It reports whether a waiter was found so the caller can fall back to
// treating the frame as an unsolicited event.
func (t *correlationTable) resolve(payloadType int32, msg any) bool {
	t.mu.Lock()
	ch, ok := t.pending[payloadType]
	if ok {
		delete(t.pending, payloadType)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}
