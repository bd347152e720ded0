package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"brokergateway/internal/credential"
	"brokergateway/internal/downstream"
	"brokergateway/internal/monitor"
	"brokergateway/internal/upstream"
	"brokergateway/pkg/cache"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config bounds the downstream-facing side of the Gateway: the websocket
// upgrade surface, per-connection rate limiting, and the HMAC secret that
// signs the bearer tokens downstream clients authenticate with.
type Config struct {
	JWTSecret         string
	RateLimitMessages int
	RateLimitWindow   time.Duration
}

// Gateway wires a credential.Cache, an upstream.Session Pool, and the
// registry of live downstream connections behind downstream.Backend. One
// Gateway serves every downstream client; each websocket connection gets
// its own downstream.Session and a connectionBackend closing over this
// Gateway and that connection's id.
type Gateway struct {
	cfg     Config
	creds   *credential.Cache
	pool    *Pool
	metrics *monitor.SystemMetrics

	sessions *cache.ShardedRegistry[*downstream.Session]
	upgrader websocket.Upgrader
}

// New constructs a Gateway. pool must already be Start-ed by the caller.
func New(cfg Config, creds *credential.Cache, pool *Pool, metrics *monitor.SystemMetrics) *Gateway {
	return &Gateway{
		cfg:      cfg,
		creds:    creds,
		pool:     pool,
		metrics:  metrics,
		sessions: cache.NewShardedRegistry[*downstream.Session](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades an HTTP request to a websocket and drives one
// downstream.Session until the client disconnects.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	connectionID := uuid.NewString()
	limiter := downstream.NewSlidingWindowLimiter(g.cfg.RateLimitMessages, g.cfg.RateLimitWindow)
	backend := &connectionBackend{gw: g, connectionID: connectionID}
	sess := downstream.NewSession(conn, backend, limiter)

	g.sessions.Set(connectionID, sess)
	if g.metrics != nil {
		g.metrics.ConnectionOpened()
	}
	sess.NotifyConnected()

	if err := sess.Run(r.Context()); err != nil {
		log.Printf("downstream session %s closed: %v", connectionID, err)
	}

	g.sessions.Delete(connectionID)
	g.pool.Release(connectionID)
	if g.metrics != nil {
		g.metrics.ConnectionClosed()
	}
}

// Shutdown releases every pooled upstream session. It does not forcibly
// close downstream websockets; callers rely on the HTTP server shutdown
// to stop accepting new frames while in-flight Run loops drain.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.pool.Stop()
}

// ConnectionCount reports how many downstream sessions are currently live.
func (g *Gateway) ConnectionCount() int {
	return g.sessions.Len()
}

// claims is the minimal JWT payload a downstream client's bearer token
// must carry: the gateway's own user identifier, not the broker's.
type claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

func (g *Gateway) verifyToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(g.cfg.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.UserID == "" {
		return "", errors.New("invalid token claims")
	}
	return c.UserID, nil
}

func (g *Gateway) bindUpstream(ctx context.Context, userID, connectionID string, ctid int64) (*upstream.Session, <-chan upstream.Event, error) {
	creds, err := g.creds.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	identity := upstream.Identity{
		ClientID:            creds.ClientID,
		ClientSecret:        creds.ClientSecret,
		AccessToken:         creds.AccessToken,
		CtidTraderAccountID: ctid,
	}
	return g.pool.Acquire(ctx, userID, connectionID, identity)
}

// connectionBackend adapts one downstream connection's calls into Gateway
// methods, supplying the connectionID the shared downstream.Backend
// interface has no room for.
type connectionBackend struct {
	gw           *Gateway
	connectionID string
}

func (b *connectionBackend) VerifyToken(token string) (string, error) {
	return b.gw.verifyToken(token)
}

func (b *connectionBackend) BindUpstream(ctx context.Context, userID string, ctidTraderAccountID int64) (*upstream.Session, <-chan upstream.Event, error) {
	return b.gw.bindUpstream(ctx, userID, b.connectionID, ctidTraderAccountID)
}

func (b *connectionBackend) ReleaseUpstream(userID string) {
	b.gw.pool.Release(b.connectionID)
}
