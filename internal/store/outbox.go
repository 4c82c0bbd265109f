package store

import (
	"database/sql"
	"errors"
	"time"
)

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, roomID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, room_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, roomID, body, now, now)
	return err
}

// MarkOutboxSending claims a queued or failed outbox entry for sending and
// counts the attempt. It reports false when the entry is missing, already
// being sent, or sent.
func (db *DB) MarkOutboxSending(clientMsgID string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ?
		WHERE client_msg_id = ? AND status IN ('queued', 'failed')`, now, clientMsgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, error_message = '', updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// FailInterruptedOutbox marks entries left in 'sending' by a previous run as
// failed so they can be retried explicitly.
func (db *DB) FailInterruptedOutbox(errMsg string) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE status = 'sending'`, errMsg, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOutbox returns one outbox entry, or nil if it does not exist.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	var e OutboxEntry
	err := db.QueryRow(`
		SELECT client_msg_id, room_id, body, status, error_message, server_msg_id, attempts, created_at
		FROM outbox WHERE client_msg_id = ?`, clientMsgID).
		Scan(&e.ClientMsgID, &e.RoomID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.Attempts, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FailedOutbox returns entries whose last send failed, oldest first.
func (db *DB) FailedOutbox() ([]OutboxEntry, error) {
	return db.outboxByStatus(OutboxFailed)
}

// PendingOutbox returns outbox entries that are still queued.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.outboxByStatus(OutboxQueued)
}

func (db *DB) outboxByStatus(status string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT client_msg_id, room_id, body, status, error_message, server_msg_id, attempts, created_at
		FROM outbox WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ClientMsgID, &e.RoomID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
