package sqlstore

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	user_id               TEXT PRIMARY KEY,
	client_id             TEXT NOT NULL,
	client_secret         TEXT NOT NULL,
	access_token          TEXT NOT NULL DEFAULT '',
	refresh_token         TEXT NOT NULL DEFAULT '',
	token_expiry          INTEGER NOT NULL DEFAULT 0,
	ctid_trader_account_id INTEGER NOT NULL DEFAULT 0,
	updated_at            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS account_info (
	user_id                TEXT PRIMARY KEY,
	ctid_trader_account_id INTEGER NOT NULL,
	balance                INTEGER NOT NULL,
	currency               TEXT NOT NULL,
	updated_at             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS connection_status (
	user_id    TEXT PRIMARY KEY,
	connected  INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
`

// applyMigrations creates the store's tables if they do not already exist.
// There is no versioned migration chain yet; the schema is small enough
// that additive changes can extend this single statement.
func applyMigrations(exec execer) error {
	_, err := exec.Exec(schema)
	return err
}
