// Package sqlstore is the reference credential.Store backed by SQLite,
// encrypting access and refresh tokens at rest when a crypto.KeyManager is
// configured.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"brokergateway/internal/credential"
	"brokergateway/pkg/crypto"
	"brokergateway/pkg/db"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Store implements credential.Store against a SQLite database. keyMgr may
// be nil, in which case tokens are stored in plaintext — acceptable for
// local development, never for a deployed gateway.
type Store struct {
	db     *db.Database
	keyMgr *crypto.KeyManager
}

// Open opens (creating if needed) the SQLite database at path and applies
// its schema. keyMgr may be nil.
func Open(path string, keyMgr *crypto.KeyManager) (*Store, error) {
	database, err := db.New(path)
	if err != nil {
		return nil, err
	}
	if err := applyMigrations(database.DB); err != nil {
		database.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: database, keyMgr: keyMgr}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) encrypt(plaintext string) (string, error) {
	if s.keyMgr == nil || plaintext == "" {
		return plaintext, nil
	}
	return s.keyMgr.Encrypt(plaintext)
}

func (s *Store) decrypt(stored string) (string, error) {
	if s.keyMgr == nil || stored == "" {
		return stored, nil
	}
	return s.keyMgr.Decrypt(stored)
}

// LoadCredentials reads one user's stored OAuth credentials.
func (s *Store) LoadCredentials(ctx context.Context, userID string) (credential.Credentials, error) {
	row := s.db.DB.QueryRowContext(ctx, `
		SELECT client_id, client_secret, access_token, refresh_token, token_expiry, ctid_trader_account_id
		FROM credentials WHERE user_id = ?
	`, userID)

	var (
		clientID, clientSecret, accessToken, refreshToken string
		expiryUnix                                        int64
		ctid                                               int64
	)
	if err := row.Scan(&clientID, &clientSecret, &accessToken, &refreshToken, &expiryUnix, &ctid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return credential.Credentials{}, credential.ErrNotFound
		}
		return credential.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}

	decClientSecret, err := s.decrypt(clientSecret)
	if err != nil {
		return credential.Credentials{}, fmt.Errorf("decrypt client secret: %w", err)
	}
	decAccessToken, err := s.decrypt(accessToken)
	if err != nil {
		return credential.Credentials{}, fmt.Errorf("decrypt access token: %w", err)
	}
	decRefreshToken, err := s.decrypt(refreshToken)
	if err != nil {
		return credential.Credentials{}, fmt.Errorf("decrypt refresh token: %w", err)
	}

	return credential.Credentials{
		UserID:              userID,
		ClientID:            clientID,
		ClientSecret:        decClientSecret,
		AccessToken:         decAccessToken,
		RefreshToken:        decRefreshToken,
		TokenExpiry:         time.Unix(expiryUnix, 0),
		CtidTraderAccountID: ctid,
	}, nil
}

// SaveTokens persists a refreshed access/refresh token pair.
func (s *Store) SaveTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry int64) error {
	encAccess, err := s.encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := s.encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	_, err = s.db.DB.ExecContext(ctx, `
		UPDATE credentials SET access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ?
		WHERE user_id = ?
	`, encAccess, encRefresh, expiry, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// SaveAccountInfo persists the broker-reported account snapshot after a
// successful reconcile.
func (s *Store) SaveAccountInfo(ctx context.Context, info credential.AccountInfo) error {
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO account_info (user_id, ctid_trader_account_id, balance, currency, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			ctid_trader_account_id = excluded.ctid_trader_account_id,
			balance = excluded.balance,
			currency = excluded.currency,
			updated_at = excluded.updated_at
	`, info.UserID, info.CtidTraderAccountID, info.Balance, info.Currency, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save account info: %w", err)
	}
	return nil
}

// SetConnectionStatus records the last known upstream connection state
// for a user, for operator visibility.
func (s *Store) SetConnectionStatus(ctx context.Context, status credential.ConnectionStatus) error {
	connected := 0
	if status.Connected {
		connected = 1
	}
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO connection_status (user_id, connected, last_error, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			connected = excluded.connected,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, status.UserID, connected, status.LastError, status.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save connection status: %w", err)
	}
	return nil
}

// RegisterCredentials seeds a user's OAuth client credentials, e.g. from
// an onboarding flow outside this package. It does not set tokens —
// those arrive via the first OAuth refresh.
func (s *Store) RegisterCredentials(ctx context.Context, userID, clientID, clientSecret string, ctid int64) error {
	encSecret, err := s.encrypt(clientSecret)
	if err != nil {
		return fmt.Errorf("encrypt client secret: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx, `
		INSERT INTO credentials (user_id, client_id, client_secret, ctid_trader_account_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			ctid_trader_account_id = excluded.ctid_trader_account_id,
			updated_at = excluded.updated_at
	`, userID, clientID, encSecret, ctid, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("register credentials: %w", err)
	}
	return nil
}
