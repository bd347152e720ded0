package gateway

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"brokergateway/internal/codec"
	"brokergateway/internal/gwerrors"
	"brokergateway/internal/upstream"
)

// fakeBroker accepts connections and completes the standard handshake for
// each, so Pool tests exercise a real upstream.Session over a real TCP
// socket rather than a mock.
type fakeBroker struct {
	listener net.Listener
}

func startFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fb := &fakeBroker{listener: ln}
	go fb.acceptLoop()
	return fb
}

func (fb *fakeBroker) acceptLoop() {
	for {
		conn, err := fb.listener.Accept()
		if err != nil {
			return
		}
		go fb.serve(conn)
	}
}

func (fb *fakeBroker) serve(conn net.Conn) {
	defer conn.Close()
	reassembler := codec.NewReassembler(0)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		bodies, err := reassembler.Feed(buf[:n])
		if err != nil {
			return
		}
		for _, body := range bodies {
			payloadType, _, err := codec.DecodeFrame(body)
			if err != nil {
				continue
			}
			var reply codec.Message
			switch payloadType {
			case codec.PayloadTypeVersionReq:
				reply = codec.VersionRes{Version: "2.0"}
			case codec.PayloadTypeApplicationAuthReq:
				reply = codec.ApplicationAuthRes{}
			case codec.PayloadTypeAccountAuthReq:
				reply = codec.AccountAuthRes{CtidTraderAccountID: 1}
			case codec.PayloadTypeReconcileReq:
				reply = codec.ReconcileRes{Trader: codec.TraderInfo{CtidTraderAccountID: 1, Currency: "USD"}}
			default:
				continue
			}
			frame, err := codec.Encode(reply)
			if err != nil {
				continue
			}
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}
	}
}

func (fb *fakeBroker) addr() (string, int) {
	host, portStr, _ := net.SplitHostPort(fb.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func (fb *fakeBroker) Close() { fb.listener.Close() }

func testUpstreamConfig(host string, port int) upstream.Config {
	return upstream.Config{
		Host:                 host,
		Port:                 port,
		HeartbeatInterval:    time.Minute,
		HeartbeatTimeout:     time.Minute,
		ReconnectInterval:    time.Second,
		MaxReconnectAttempts: 0,
		RequestTimeout:       2 * time.Second,
		MaxFrameBytes:        1 << 20,
	}
}

func TestPoolAcquireReturnsCachedSessionOnSecondCall(t *testing.T) {
	broker := startFakeBroker(t)
	defer broker.Close()
	host, port := broker.addr()

	pool := NewPool(DefaultPoolConfig(), testUpstreamConfig(host, port))
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id := upstream.Identity{ClientID: "c", ClientSecret: "s", AccessToken: "t", CtidTraderAccountID: 1}
	sess1, _, err := pool.Acquire(ctx, "user-1", "conn-1", id)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	sess2, _, err := pool.Acquire(ctx, "user-1", "conn-1", id)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if sess1 != sess2 {
		t.Fatal("expected the second Acquire for the same connectionID to return the cached session")
	}
}

func TestPoolEvictsOldestOnPerUserCap(t *testing.T) {
	broker := startFakeBroker(t)
	defer broker.Close()
	host, port := broker.addr()

	cfg := DefaultPoolConfig()
	cfg.MaxPerUser = 2
	pool := NewPool(cfg, testUpstreamConfig(host, port))
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	id := upstream.Identity{ClientID: "c", ClientSecret: "s", AccessToken: "t", CtidTraderAccountID: 1}

	if _, _, err := pool.Acquire(ctx, "user-1", "conn-1", id); err != nil {
		t.Fatalf("acquire conn-1: %v", err)
	}
	if _, _, err := pool.Acquire(ctx, "user-1", "conn-2", id); err != nil {
		t.Fatalf("acquire conn-2: %v", err)
	}
	if _, _, err := pool.Acquire(ctx, "user-1", "conn-3", id); err != nil {
		t.Fatalf("acquire conn-3 should evict conn-1, not error: %v", err)
	}

	stats := pool.Stats()
	if stats.ByUser["user-1"] != 2 {
		t.Fatalf("expected user-1 to hold 2 sessions after eviction, got %d", stats.ByUser["user-1"])
	}
}

func TestPoolReleaseForgetsSession(t *testing.T) {
	broker := startFakeBroker(t)
	defer broker.Close()
	host, port := broker.addr()

	pool := NewPool(DefaultPoolConfig(), testUpstreamConfig(host, port))
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id := upstream.Identity{ClientID: "c", ClientSecret: "s", AccessToken: "t", CtidTraderAccountID: 1}
	if _, _, err := pool.Acquire(ctx, "user-1", "conn-1", id); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	pool.Release("conn-1")

	if stats := pool.Stats(); stats.TotalSessions != 0 {
		t.Fatalf("expected 0 sessions after release, got %d", stats.TotalSessions)
	}
}

func TestPoolAcquireWrongUserForConnectionErrors(t *testing.T) {
	broker := startFakeBroker(t)
	defer broker.Close()
	host, port := broker.addr()

	pool := NewPool(DefaultPoolConfig(), testUpstreamConfig(host, port))
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id := upstream.Identity{ClientID: "c", ClientSecret: "s", AccessToken: "t", CtidTraderAccountID: 1}
	if _, _, err := pool.Acquire(ctx, "user-1", "conn-1", id); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, _, err := pool.Acquire(ctx, "user-2", "conn-1", id); err != gwerrors.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound for a connectionID owned by another user, got %v", err)
	}
}
