package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"brokergateway/internal/codec"
	"brokergateway/internal/upstream"
)

type fakeConn struct {
	in     chan []byte
	mu     sync.Mutex
	out    []ServerFrame
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 32)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	b, ok := <-c.in
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, b, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.out = append(c.out, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) frames() []ServerFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ServerFrame, len(c.out))
	copy(out, c.out)
	return out
}

func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	c.in <- b
}

type fakeBackend struct {
	verifyErr error
	userID    string

	bindErr error
	events  chan upstream.Event

	released []string
}

func (b *fakeBackend) VerifyToken(token string) (string, error) {
	if b.verifyErr != nil {
		return "", b.verifyErr
	}
	return b.userID, nil
}

func (b *fakeBackend) BindUpstream(ctx context.Context, userID string, ctid int64) (*upstream.Session, <-chan upstream.Event, error) {
	if b.bindErr != nil {
		return nil, nil, b.bindErr
	}
	return nil, b.events, nil
}

func (b *fakeBackend) ReleaseUpstream(userID string) {
	b.released = append(b.released, userID)
}

func frameOf(t *testing.T, raw json.RawMessage, cmdType string) ClientFrame {
	t.Helper()
	return ClientFrame{Type: cmdType, Payload: raw}
}

func waitForFrame(t *testing.T, conn *fakeConn, frameType string, timeout time.Duration) ServerFrame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, f := range conn.frames() {
			if f.Type == frameType {
				return f
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for frame type %q, got %#v", frameType, conn.frames())
	return ServerFrame{}
}

func TestOrderRejectedBeforeUpstreamBound(t *testing.T) {
	conn := newFakeConn()
	backend := &fakeBackend{userID: "u1", events: make(chan upstream.Event)}
	sess := NewSession(conn, backend, NewSlidingWindowLimiter(100, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	payload, _ := json.Marshal(orderPayload{SymbolID: 1, Volume: 100000})
	conn.push(t, ClientFrame{Type: CommandOrder, Payload: payload})

	f := waitForFrame(t, conn, FrameError, time.Second)
	var ep errorPayload
	b, _ := json.Marshal(f.Payload)
	json.Unmarshal(b, &ep)
	if ep.Code == "" {
		t.Fatalf("expected a non-empty error code, got %#v", f)
	}
}

func TestAuthenticateThenConnectRelaysEvents(t *testing.T) {
	conn := newFakeConn()
	events := make(chan upstream.Event, 4)
	backend := &fakeBackend{userID: "u1", events: events}
	sess := NewSession(conn, backend, NewSlidingWindowLimiter(100, time.Second))

	// In production the gateway calls this on transport accept, before Run
	// starts reading commands; connected does not depend on authenticate.
	sess.NotifyConnected()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	waitForFrame(t, conn, FrameConnected, time.Second)

	authPayload, _ := json.Marshal(authenticatePayload{Token: "valid-token"})
	conn.push(t, ClientFrame{Type: CommandAuthenticate, Payload: authPayload})
	waitForFrame(t, conn, FrameAuthenticated, time.Second)

	connectPayloadBytes, _ := json.Marshal(connectPayload{CtidTraderAccountID: 42})
	conn.push(t, ClientFrame{Type: CommandConnect, Payload: connectPayloadBytes})

	// The bound session's reconcile snapshot arrives over events, not as a
	// direct reply to connect.
	events <- upstream.Event{Kind: upstream.EventAccountAuthorized}
	events <- upstream.Event{Kind: upstream.EventPositionsUpdated, Reconcile: codec.ReconcileRes{
		Trader: codec.TraderInfo{CtidTraderAccountID: 42, Balance: 500000, Currency: "USD"},
		Positions: []codec.PositionWire{
			{PositionID: 1, SymbolID: 1, TradeSide: 1, Volume: 100000, EntryPrice: 109500, CurrentPrice: 109600},
		},
	}}
	waitForFrame(t, conn, FrameAccountUpdate, time.Second)
	waitForFrame(t, conn, FramePositionUpdate, time.Second)

	events <- upstream.Event{Kind: upstream.EventSpot}
	waitForFrame(t, conn, FrameSpot, time.Second)
}

func TestAccountAuthorizedAloneProducesNoAccountOrPositionFrame(t *testing.T) {
	conn := newFakeConn()
	events := make(chan upstream.Event, 2)
	backend := &fakeBackend{userID: "u1", events: events}
	sess := NewSession(conn, backend, NewSlidingWindowLimiter(100, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	// Upstream events are only relayed once connect has bound them.
	authPayload, _ := json.Marshal(authenticatePayload{Token: "valid-token"})
	conn.push(t, ClientFrame{Type: CommandAuthenticate, Payload: authPayload})
	waitForFrame(t, conn, FrameAuthenticated, time.Second)
	connectPayloadBytes, _ := json.Marshal(connectPayload{CtidTraderAccountID: 42})
	conn.push(t, ClientFrame{Type: CommandConnect, Payload: connectPayloadBytes})

	events <- upstream.Event{Kind: upstream.EventAccountAuthorized}
	events <- upstream.Event{Kind: upstream.EventSpot}
	waitForFrame(t, conn, FrameSpot, time.Second)

	for _, f := range conn.frames() {
		if f.Type == FrameAccountUpdate || f.Type == FramePositionUpdate {
			t.Fatalf("expected no %s before a ReconcileRes-bearing event, got %#v", f.Type, f)
		}
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	conn := newFakeConn()
	backend := &fakeBackend{userID: "u1", events: make(chan upstream.Event)}
	sess := NewSession(conn, backend, NewSlidingWindowLimiter(2, time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	for i := 0; i < 3; i++ {
		conn.push(t, ClientFrame{Type: CommandPing})
	}

	deadline := time.Now().Add(time.Second)
	var frames []ServerFrame
	for time.Now().Before(deadline) {
		frames = conn.frames()
		if len(frames) >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	pongs, errs := 0, 0
	for _, f := range frames {
		switch f.Type {
		case FramePong:
			pongs++
		case FrameError:
			errs++
		}
	}
	if pongs != 2 || errs != 1 {
		t.Fatalf("expected 2 pongs and 1 rate-limit error, got pongs=%d errs=%d (%#v)", pongs, errs, frames)
	}
}

func TestSlidingWindowLimiterDistinguishesSameMillisecond(t *testing.T) {
	l := NewSlidingWindowLimiter(1, time.Minute)
	now := time.Now()
	if !l.AllowAt(now) {
		t.Fatal("first event in window should be allowed")
	}
	// A second event at the exact same instant must still be counted
	// against the window rather than silently overwriting the first.
	if l.AllowAt(now) {
		t.Fatal("second event at the same instant should be rejected once limit is reached")
	}
}
