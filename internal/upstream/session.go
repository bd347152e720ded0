// Package upstream implements the gateway's side of the broker connection:
// dialing, the auth handshake, heartbeat supervision, linear-backoff
// reconnection, and request/response correlation for the handshake RPCs
// (version, app auth, account auth, reconcile). Orders and position closes
// are written without a correlation entry; their outcome arrives as events.
package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"brokergateway/internal/codec"
	"brokergateway/internal/gwerrors"
)

// Config bounds a Session's dialing and timing behavior. Values come from
// pkg/config at the gateway level. A zero RequestTimeout falls back to 45s
// and a zero MaxFrameBytes to codec.DefaultMaxFrameBytes; other fields are
// used as given.
type Config struct {
	Host                 string
	Port                 int
	UseTLS               bool
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	RequestTimeout       time.Duration
	MaxFrameBytes        int
}

// Identity is the credential material a Session authenticates with. It is
// supplied on every Connect/RebindAccount call and kept by the Session only
// so reconnect attempts can reuse it; the Session never refreshes it, since
// the gateway's credential cache owns refresh.
type Identity struct {
	ClientID            string
	ClientSecret        string
	AccessToken         string
	CtidTraderAccountID int64
}

// Session is one TCP connection to the broker, bound to one account at a
// time. RebindAccount re-authenticates the same TCP connection with a new
// Identity, which may carry a new access token, a different account, or
// both.
type Session struct {
	cfg    Config
	events chan<- Event

	mu        sync.Mutex
	conn      net.Conn
	state     State
	identity  Identity
	writeMu   sync.Mutex
	corr      *correlationTable
	hb        *heartbeatSupervisor
	recon     *reconnector
	cancel    context.CancelFunc
	manualDC  bool
}

// NewSession constructs a Session that publishes lifecycle and market/order
// events to events. The channel should be buffered or drained promptly;
// Session does not drop events on a full channel, it blocks the read loop.
func NewSession(cfg Config, events chan<- Event) *Session {
	return &Session{
		cfg:    cfg,
		events: events,
		state:  Disconnected,
		corr:   newCorrelationTable(),
		recon:  newReconnector(cfg.ReconnectInterval, cfg.MaxReconnectAttempts),
	}
}

// State reports the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAuthenticated reports whether the session has completed the full
// handshake and can accept order traffic.
func (s *Session) IsAuthenticated() bool {
	return s.State() == AccountAuthed
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect dials the broker and runs the full handshake: VersionReq,
// ApplicationAuthReq, AccountAuthReq, ReconcileReq. The background read and
// heartbeat loops start as soon as the wire is open, before the handshake;
// on handshake failure the session is torn down. On success it returns nil; the caller
// observes further activity via the events channel, including an eventual
// EventDisconnected if the connection later drops.
func (s *Session) Connect(ctx context.Context, id Identity) error {
	s.mu.Lock()
	s.identity = id
	s.manualDC = false
	s.mu.Unlock()

	return s.dialAndHandshake(ctx)
}

func (s *Session) dialAndHandshake(ctx context.Context) error {
	s.setState(TCPConnecting)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dialer := &net.Dialer{Timeout: s.cfg.RequestTimeout}

	var conn net.Conn
	var err error
	if s.cfg.UseTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("dial broker: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(WireOpen)

	sessionCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(sessionCtx, conn)

	// The heartbeat timer starts the moment the wire is open, not once the
	// handshake finishes — a broker that accepts the TCP connection but
	// never answers VersionReq is caught by this timeout rather than only
	// by the per-request correlation timeout.
	s.hb = newHeartbeatSupervisor(s.cfg.HeartbeatInterval, s.cfg.HeartbeatTimeout,
		func() error { return s.send(codec.HeartbeatEvent{}) },
		func() { s.teardown(gwerrors.ErrHandshakeTimeout) },
	)
	go s.hb.run()

	if err := s.handshake(ctx); err != nil {
		s.teardown(err)
		return err
	}

	s.recon.reset()
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	s.setState(AwaitingAppAuth)
	if _, err := s.request(ctx, codec.VersionReq{}, codec.PayloadTypeVersionRes, "version"); err != nil {
		return err
	}

	id := s.currentIdentity()
	authReq := codec.ApplicationAuthReq{ClientID: id.ClientID, ClientSecret: id.ClientSecret}
	if _, err := s.request(ctx, authReq, codec.PayloadTypeApplicationAuthRes, "application_auth"); err != nil {
		return err
	}
	s.setState(AppAuthed)
	s.publish(Event{Kind: EventApplicationAuthenticated})

	return s.authenticateAccount(ctx, id)
}

// authenticateAccount runs AccountAuthReq + ReconcileReq against an
// already app-authed connection. RebindAccount calls this directly to
// re-authenticate without redialing.
func (s *Session) authenticateAccount(ctx context.Context, id Identity) error {
	s.setState(AwaitingAccountAuth)
	accountReq := codec.AccountAuthReq{AccessToken: id.AccessToken, CtidTraderAccountID: id.CtidTraderAccountID}
	if _, err := s.request(ctx, accountReq, codec.PayloadTypeAccountAuthRes, "account_auth"); err != nil {
		return err
	}
	s.setState(AccountAuthed)
	s.publish(Event{Kind: EventAccountAuthorized})

	resp, err := s.request(ctx, codec.ReconcileReq{CtidTraderAccountID: id.CtidTraderAccountID}, codec.PayloadTypeReconcileRes, "reconcile")
	if err != nil {
		return err
	}
	reconcile, ok := resp.(codec.ReconcileRes)
	if !ok {
		return &gwerrors.DecodeError{PayloadType: codec.PayloadTypeReconcileRes, Reason: "unexpected type from correlation table"}
	}
	s.publish(Event{Kind: EventPositionsUpdated, Reconcile: reconcile})
	s.publish(Event{Kind: EventConnected})
	return nil
}

// RebindAccount re-authenticates an already-open connection for a new
// access token and/or account, without redialing the TCP connection.
func (s *Session) RebindAccount(ctx context.Context, id Identity) error {
	if s.State() < AppAuthed {
		return gwerrors.ErrUpstreamNotBound
	}
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
	return s.authenticateAccount(ctx, id)
}

// SendOrder submits a new order. The broker's acknowledgment arrives
// asynchronously as an ExecutionEvent on the events channel, not as a
// direct reply to this call.
func (s *Session) SendOrder(req codec.NewOrderReq) error {
	if !s.IsAuthenticated() {
		return gwerrors.ErrUpstreamNotBound
	}
	return s.send(req)
}

// ClosePosition requests a position close, full or partial depending on
// req.Volume. Like SendOrder, the result arrives as an ExecutionEvent.
func (s *Session) ClosePosition(req codec.ClosePositionReq) error {
	if !s.IsAuthenticated() {
		return gwerrors.ErrUpstreamNotBound
	}
	return s.send(req)
}

// Disconnect closes the connection and stops reconnect attempts. It is
// idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.manualDC = true
	conn := s.conn
	s.mu.Unlock()

	s.teardown(nil)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Session) teardown(cause error) {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	cancel := s.cancel
	manual := s.manualDC
	s.state = Disconnected
	s.conn = nil
	s.mu.Unlock()

	if s.hb != nil {
		s.hb.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	s.publish(Event{Kind: EventDisconnected, Err: cause})

	if manual || cause == nil {
		return
	}
	go s.attemptReconnect()
}

func (s *Session) attemptReconnect() {
	for {
		delay, ok := s.recon.next()
		if !ok {
			s.publish(Event{Kind: EventError, Err: gwerrors.ErrHandshakeTimeout})
			return
		}
		time.Sleep(delay)

		s.mu.Lock()
		if s.manualDC {
			s.mu.Unlock()
			return
		}
		id := s.identity
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		err := s.Connect(ctx, id)
		cancel()
		if err == nil {
			return
		}
	}
}

func (s *Session) currentIdentity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) publish(ev Event) {
	if s.events != nil {
		s.events <- ev
	}
}

// request writes msg and blocks for the matching response type, honoring
// cfg.RequestTimeout.
func (s *Session) request(ctx context.Context, msg codec.Message, responseType int32, op string) (any, error) {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return s.corr.await(ctx, responseType, timeout, op, func() error {
		return s.send(msg)
	})
}

func (s *Session) send(msg codec.Message) error {
	frame, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return gwerrors.ErrUpstreamNotBound
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = conn.Write(frame)
	return err
}

// readLoop reads off conn until it errors or ctx is canceled, feeding
// bytes through a Reassembler and dispatching each decoded frame.
func (s *Session) readLoop(ctx context.Context, conn net.Conn) {
	reassembler := codec.NewReassembler(s.cfg.MaxFrameBytes)
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			s.teardown(err)
			return
		}
		bodies, err := reassembler.Feed(buf[:n])
		if err != nil {
			s.teardown(err)
			return
		}
		for _, body := range bodies {
			s.dispatch(body)
		}
	}
}

func (s *Session) dispatch(frameBody []byte) {
	if s.hb != nil {
		s.hb.touch()
	}

	payloadType, payload, err := codec.DecodeFrame(frameBody)
	if err != nil {
		s.publish(Event{Kind: EventError, Err: err})
		return
	}

	msg, err := codec.DecodePayload(payloadType, payload)
	if err != nil {
		// Unknown payload types are logged by the caller via the error
		// event; they do not break the stream.
		s.publish(Event{Kind: EventError, Err: err})
		return
	}

	if s.corr.resolve(payloadType, msg) {
		return
	}

	switch v := msg.(type) {
	case codec.HeartbeatEvent:
		// touch() above already recorded liveness; nothing else to do.
	case codec.ExecutionEvent:
		s.publish(Event{Kind: EventExecution, Execution: v})
	case codec.SpotEvent:
		s.publish(Event{Kind: EventSpot, Spot: v})
	case codec.ErrorRes:
		s.publish(Event{Kind: EventError, Err: &gwerrors.AccountError{Code: v.ErrorCode, Description: v.Description}})
	case codec.AccountErrorRes:
		s.publish(Event{Kind: EventError, Err: &gwerrors.AccountError{Code: v.ErrorCode, Description: v.Description}})
	default:
		// A response type with no pending waiter, e.g. a duplicate or a
		// late reply after a timeout already gave up on it.
	}
}
