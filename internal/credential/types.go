// Package credential manages per-user OAuth credentials for the upstream
// broker connection: loading them from the store, caching them in memory
// with a TTL, and refreshing expired access tokens without letting
// concurrent callers stampede the token endpoint.
package credential

import "time"

// Credentials is one user's broker OAuth state.
type Credentials struct {
	UserID              string
	ClientID            string
	ClientSecret        string
	AccessToken         string
	RefreshToken        string
	TokenExpiry         time.Time
	CtidTraderAccountID int64
}

// expiringSoon reports whether AccessToken needs a refresh before use,
// given a skew window so a token doesn't expire mid-request.
func (c Credentials) expiringSoon(skew time.Duration, now time.Time) bool {
	if c.AccessToken == "" {
		return true
	}
	return !now.Before(c.TokenExpiry.Add(-skew))
}

// AccountInfo is the broker-reported snapshot saved back to the store
// after a successful reconcile, so a restart doesn't need to re-fetch it.
type AccountInfo struct {
	UserID              string
	CtidTraderAccountID int64
	Balance             int64
	Currency            string
}

// ConnectionStatus records the last known state of a user's upstream
// session, for operator visibility rather than for driving behavior.
type ConnectionStatus struct {
	UserID    string
	Connected bool
	LastError string
	UpdatedAt time.Time
}
