// Package downstream implements the gateway's client-facing side: one
// websocket connection per downstream client, authenticated with a bearer
// token, optionally bound to an upstream broker session once the client
// issues a connect command.
package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"brokergateway/internal/codec"
	"brokergateway/internal/gwerrors"
	"brokergateway/internal/upstream"

	"github.com/gorilla/websocket"
)

type sessionState int

const (
	stateUnauth sessionState = iota
	stateAuthed
	stateUpstreamBound
	stateUpstreamAuthed
)

// Conn is the subset of *websocket.Conn a Session needs, so tests can
// supply a fake without opening a real socket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Backend is how a Session reaches the rest of the gateway: token
// verification and upstream session lifecycle. Session never touches the
// credential cache or the session map directly.
type Backend interface {
	VerifyToken(token string) (userID string, err error)
	BindUpstream(ctx context.Context, userID string, ctidTraderAccountID int64) (*upstream.Session, <-chan upstream.Event, error)
	ReleaseUpstream(userID string)
}

// Session drives one downstream websocket connection's command loop.
type Session struct {
	conn    Conn
	backend Backend
	limiter *SlidingWindowLimiter

	writeMu sync.Mutex

	mu             sync.Mutex
	state          sessionState
	userID         string
	ctid           int64
	upstreamSess   *upstream.Session
	upstreamEvents <-chan upstream.Event
}

// NewSession constructs a Session. limiter is shared ownership with the
// caller only in tests; in production each Session gets its own limiter.
func NewSession(conn Conn, backend Backend, limiter *SlidingWindowLimiter) *Session {
	return &Session{conn: conn, backend: backend, limiter: limiter, state: stateUnauth}
}

// NotifyConnected sends the connected frame. The caller sends it once, on
// transport accept, before Run starts reading commands.
func (s *Session) NotifyConnected() {
	s.send(FrameConnected, nil)
}

// Run processes frames until the connection closes or ctx is canceled. It
// always attempts to release any bound upstream session before returning.
func (s *Session) Run(ctx context.Context) error {
	defer s.releaseUpstream()

	eventsDone := make(chan struct{})
	go s.forwardUpstreamEvents(ctx, eventsDone)
	defer func() { <-eventsDone }()

	// ReadMessage blocks with no way to pass it a context; closing the
	// connection is what unblocks it once the caller cancels ctx.
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		if !s.limiter.Allow() {
			s.sendError(gwerrors.ErrRateLimited.Error(), "")
			continue
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendError(gwerrors.ErrBadCommand.Error(), "malformed frame")
			continue
		}

		if err := s.handle(ctx, frame); err != nil {
			s.sendError(gwerrors.ErrBadCommand.Error(), err.Error())
		}
	}
}

func (s *Session) handle(ctx context.Context, frame ClientFrame) error {
	switch frame.Type {
	case CommandAuthenticate:
		return s.handleAuthenticate(frame)
	case CommandConnect:
		return s.handleConnect(ctx, frame)
	case CommandDisconnect:
		return s.handleDisconnect()
	case CommandSubscribe, CommandUnsubscribe:
		return s.handleSubscription(frame)
	case CommandOrder:
		return s.handleOrder(frame)
	case CommandClosePosition:
		return s.handleClosePosition(frame)
	case CommandPing:
		s.send(FramePong, nil)
		return nil
	default:
		return fmt.Errorf("unrecognized command %q", frame.Type)
	}
}

func (s *Session) handleAuthenticate(frame ClientFrame) error {
	var p authenticatePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return err
	}
	userID, err := s.backend.VerifyToken(p.Token)
	if err != nil {
		return gwerrors.ErrAuthFailed
	}
	s.mu.Lock()
	s.userID = userID
	s.state = stateAuthed
	s.mu.Unlock()
	s.send(FrameAuthenticated, nil)
	return nil
}

func (s *Session) handleConnect(ctx context.Context, frame ClientFrame) error {
	s.mu.Lock()
	state := s.state
	userID := s.userID
	s.mu.Unlock()
	if state < stateAuthed {
		return gwerrors.ErrPreconditionFailed
	}

	var p connectPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return err
	}

	sess, events, err := s.backend.BindUpstream(ctx, userID, p.CtidTraderAccountID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.upstreamSess = sess
	s.upstreamEvents = events
	s.ctid = p.CtidTraderAccountID
	s.state = stateUpstreamBound
	s.mu.Unlock()

	// No reply here: the bound session's AccountAuthorized/PositionsUpdated
	// events, already queued on events by the time BindUpstream returned,
	// drain through forwardUpstreamEvents and surface as accountUpdate then
	// positionUpdate. connect's reply is those frames, not a second
	// "connected" — that one already went out on transport accept.
	return nil
}

func (s *Session) handleDisconnect() error {
	s.releaseUpstream()
	s.send(FrameDisconnected, nil)
	return nil
}

func (s *Session) handleSubscription(frame ClientFrame) error {
	if !s.boundToUpstream() {
		return gwerrors.ErrPreconditionFailed
	}
	var p subscribePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return err
	}
	if frame.Type == CommandSubscribe {
		s.send(FrameSubscribed, p)
	} else {
		s.send(FrameUnsubscribed, p)
	}
	return nil
}

func (s *Session) handleOrder(frame ClientFrame) error {
	sess, ok := s.boundUpstreamSession()
	if !ok {
		return gwerrors.ErrPreconditionFailed
	}
	var p orderPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return err
	}
	ctid := s.ctidTraderAccountID()
	return sess.SendOrder(codec.NewOrderReq{
		CtidTraderAccountID: ctid,
		SymbolID:            p.SymbolID,
		OrderType:           p.OrderType,
		TradeSide:           p.TradeSide,
		Volume:              p.Volume,
		StopLoss:            p.StopLoss,
		TakeProfit:          p.TakeProfit,
		Comment:             p.Comment,
	})
}

func (s *Session) handleClosePosition(frame ClientFrame) error {
	sess, ok := s.boundUpstreamSession()
	if !ok {
		return gwerrors.ErrPreconditionFailed
	}
	var p closePositionPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return err
	}
	ctid := s.ctidTraderAccountID()
	return sess.ClosePosition(codec.ClosePositionReq{
		CtidTraderAccountID: ctid,
		PositionID:          p.PositionID,
		Volume:              p.Volume,
	})
}

func (s *Session) boundToUpstream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state >= stateUpstreamBound
}

func (s *Session) boundUpstreamSession() (*upstream.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < stateUpstreamBound || s.upstreamSess == nil {
		return nil, false
	}
	return s.upstreamSess, true
}

func (s *Session) ctidTraderAccountID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctid
}

func (s *Session) releaseUpstream() {
	s.mu.Lock()
	userID := s.userID
	hadUpstream := s.upstreamSess != nil
	s.upstreamSess = nil
	s.upstreamEvents = nil
	if s.state >= stateUpstreamBound {
		s.state = stateAuthed
	}
	s.mu.Unlock()

	if hadUpstream && s.backend != nil {
		s.backend.ReleaseUpstream(userID)
	}
}

func (s *Session) forwardUpstreamEvents(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		s.mu.Lock()
		events := s.upstreamEvents
		s.mu.Unlock()
		if events == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.relayUpstreamEvent(ev)
		}
	}
}

func (s *Session) relayUpstreamEvent(ev upstream.Event) {
	switch ev.Kind {
	case upstream.EventAccountAuthorized:
		// No accountUpdate yet: AccountAuthRes carries no balance/currency,
		// only ReconcileRes does. The snapshot goes out once
		// EventPositionsUpdated arrives, which can only happen after this.
	case upstream.EventPositionsUpdated:
		s.send(FrameAccountUpdate, newAccountSnapshot(ev.Reconcile.Trader, ev.Reconcile.Positions))
		s.send(FramePositionUpdate, newPositions(ev.Reconcile.Positions))
	case upstream.EventExecution:
		s.send(FrameExecution, ev.Execution)
	case upstream.EventSpot:
		s.send(FrameSpot, ev.Spot)
	case upstream.EventDisconnected:
		s.send(FrameDisconnected, nil)
	case upstream.EventError:
		if ev.Err != nil {
			s.sendError("upstream_error", ev.Err.Error())
		}
	}
}

func (s *Session) send(frameType string, payload any) {
	s.writeFrame(ServerFrame{Type: frameType, Payload: payload, Timestamp: time.Now().Unix()})
}

func (s *Session) sendError(code, message string) {
	s.writeFrame(ServerFrame{
		Type:      FrameError,
		Payload:   errorPayload{Code: code, Message: message},
		Timestamp: time.Now().Unix(),
	})
}

func (s *Session) writeFrame(f ServerFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteMessage(websocket.TextMessage, b)
}
