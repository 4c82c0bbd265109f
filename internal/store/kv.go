package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PutJSON stores v under key, replacing any previous value.
func (db *DB) PutJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), now)
	return err
}

// GetJSON decodes the value under key into v. It reports false when the key
// does not exist.
func (db *DB) GetJSON(key string, v any) (bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteKey removes key.
func (db *DB) DeleteKey(key string) error {
	_, err := db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}
