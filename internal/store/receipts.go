package store

import (
	"encoding/json"
	"time"
)

// QueueReceipt records a failed mark-read call for later retry.
func (db *DB) QueueReceipt(kind string, eventIDs []string, lastErr string) (int64, error) {
	ids, err := json.Marshal(eventIDs)
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO read_receipts (kind, event_ids, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		kind, string(ids), lastErr, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingReceipts returns queued receipts, oldest first.
func (db *DB) PendingReceipts() ([]ReadReceipt, error) {
	rows, err := db.Query(`
		SELECT id, kind, event_ids, attempts, last_error
		FROM read_receipts ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ReadReceipt
	for rows.Next() {
		var r ReadReceipt
		var ids string
		if err := rows.Scan(&r.ID, &r.Kind, &ids, &r.Attempts, &r.LastError); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &r.EventIDs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReceiptFailed counts another failed attempt for receipt id.
func (db *DB) ReceiptFailed(id int64, lastErr string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE read_receipts SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`, lastErr, now, id)
	return err
}

// DeleteReceipt removes a delivered receipt.
func (db *DB) DeleteReceipt(id int64) error {
	_, err := db.Exec(`DELETE FROM read_receipts WHERE id = ?`, id)
	return err
}

// ReceiptCount returns the number of queued receipts.
func (db *DB) ReceiptCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM read_receipts`).Scan(&n)
	return n, err
}

// ClearReceipts drops every queued receipt.
func (db *DB) ClearReceipts() error {
	_, err := db.Exec(`DELETE FROM read_receipts`)
	return err
}
