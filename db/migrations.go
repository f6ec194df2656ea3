package db

import "fmt"

var migrations = []string{
	// Version 1: Users, auth tokens, communities, membership/roles, channels
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE users (
		id          TEXT PRIMARY KEY,
		username    TEXT NOT NULL UNIQUE,
		password_hash TEXT,
		created_at  DATETIME DEFAULT (datetime('now'))
	);

	CREATE TABLE tokens (
		token       TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at  DATETIME DEFAULT (datetime('now')),
		expires_at  DATETIME
	);
	CREATE INDEX idx_tokens_user ON tokens(user_id);
	CREATE INDEX idx_tokens_expires ON tokens(expires_at);

	CREATE TABLE communities (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		owner_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at  DATETIME DEFAULT (datetime('now'))
	);

	CREATE TABLE community_members (
		community_id TEXT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
		user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role         TEXT NOT NULL CHECK(role IN ('owner', 'admin', 'member')),
		joined_at    DATETIME DEFAULT (datetime('now')),
		PRIMARY KEY (community_id, user_id)
	);
	CREATE INDEX idx_community_members_user ON community_members(user_id);

	CREATE TABLE channels (
		id           TEXT PRIMARY KEY,
		community_id TEXT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		type         TEXT NOT NULL CHECK(type IN ('voice', 'text')),
		position     INTEGER NOT NULL,
		created_at   DATETIME DEFAULT (datetime('now'))
	);
	CREATE INDEX idx_channels_community ON channels(community_id);`,
}

func (d *DB) migrate() error {
	// Ensure schema_version table exists
	_, err := d.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`)
	if err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var currentVersion int
	row := d.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		version := i + 1

		// Disable FK checks during migrations (needed for table recreation)
		if _, err := d.Exec(`PRAGMA foreign_keys=OFF`); err != nil {
			return fmt.Errorf("disable fk migration %d: %w", version, err)
		}

		tx, err := d.Begin()
		if err != nil {
			d.Exec(`PRAGMA foreign_keys=ON`)
			return fmt.Errorf("begin migration %d: %w", version, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			d.Exec(`PRAGMA foreign_keys=ON`)
			return fmt.Errorf("run migration %d: %w", version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			d.Exec(`PRAGMA foreign_keys=ON`)
			return fmt.Errorf("record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			d.Exec(`PRAGMA foreign_keys=ON`)
			return fmt.Errorf("commit migration %d: %w", version, err)
		}

		if _, err := d.Exec(`PRAGMA foreign_keys=ON`); err != nil {
			return fmt.Errorf("enable fk migration %d: %w", version, err)
		}
	}

	return nil
}
