package credential

import (
	"context"
	"errors"
)

// ErrNotFound is what LoadCredentials returns when no row exists for the
// given user — distinct from a transport/driver error, which indicates the
// store itself is unreachable rather than that the user is unregistered.
var ErrNotFound = errors.New("credential: not found")

// Store is the persistence boundary for credentials. sqlstore is the
// reference implementation; Cache depends only on this interface so a
// different backing store can be swapped in without touching the refresh
// or coalescing logic.
type Store interface {
	// LoadCredentials returns ErrNotFound (checkable with errors.Is) when
	// userID has no stored credentials; any other error means the store
	// itself failed.
	LoadCredentials(ctx context.Context, userID string) (Credentials, error)
	SaveTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry int64) error
	SaveAccountInfo(ctx context.Context, info AccountInfo) error
	SetConnectionStatus(ctx context.Context, status ConnectionStatus) error
}
