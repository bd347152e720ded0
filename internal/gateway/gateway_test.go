package gateway

import (
	"testing"
	"time"

	"brokergateway/internal/upstream"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestGateway(secret string) *Gateway {
	pool := NewPool(DefaultPoolConfig(), upstream.Config{})
	return New(Config{JWTSecret: secret, RateLimitMessages: 100, RateLimitWindow: time.Second}, nil, pool, nil)
}

func TestVerifyTokenRoundTrip(t *testing.T) {
	g := newTestGateway("test-secret")
	token := signToken(t, "test-secret", "user-42")

	userID, err := g.verifyToken(token)
	if err != nil {
		t.Fatalf("verifyToken: %v", err)
	}
	if userID != "user-42" {
		t.Fatalf("expected user-42, got %q", userID)
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	g := newTestGateway("test-secret")
	token := signToken(t, "other-secret", "user-42")

	if _, err := g.verifyToken(token); err == nil {
		t.Fatal("expected signature verification to fail")
	}
}

func TestVerifyTokenRejectsMissingSubject(t *testing.T) {
	g := newTestGateway("test-secret")
	token := signToken(t, "test-secret", "")

	if _, err := g.verifyToken(token); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
}

func TestConnectionBackendReleaseIsSafeWithoutBind(t *testing.T) {
	g := newTestGateway("test-secret")
	backend := &connectionBackend{gw: g, connectionID: "conn-1"}
	backend.ReleaseUpstream("user-1") // must not panic on an unbound connection
}
