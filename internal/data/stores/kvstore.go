package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/colonyops/inloop/internal/core/kv"
	"github.com/colonyops/inloop/internal/data/db"
)

// KVStore implements kv.KV against a named two-column table. The credentials
// and settings tables share the same shape, so one implementation serves both.
type KVStore struct {
	db    *db.DB
	table string
}

var _ kv.KV = (*KVStore)(nil)

// NewCredentialStore returns a KV store over the credentials table.
func NewCredentialStore(db *db.DB) *KVStore {
	return &KVStore{db: db, table: "credentials"}
}

// NewSettingStore returns a KV store over the settings table.
func NewSettingStore(db *db.DB) *KVStore {
	return &KVStore{db: db, table: "settings"}
}

// Get returns the value for key, or ("", false, nil) when absent.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT value FROM `+s.table+` WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s get %q: %w", s.table, key, err)
	}
	return value, true, nil
}

// Set stores or replaces a value.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT OR REPLACE INTO `+s.table+` (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("%s set %q: %w", s.table, key, err)
	}
	return nil
}

// Delete removes a key.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM `+s.table+` WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("%s delete %q: %w", s.table, key, err)
	}
	return nil
}

// Keys returns all keys in sorted order.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT key FROM `+s.table+` ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("%s keys: %w", s.table, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%s keys scan: %w", s.table, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
