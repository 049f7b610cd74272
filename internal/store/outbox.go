package store

import "time"

// RecordSend adds an optimistic send to the outbox.
func (db *DB) RecordSend(localID string, counterpartID int64, content string, status SendStatus) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (local_id, counterpart_id, content, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		localID, counterpartID, content, status, now, now)
	return err
}

// MarkSend moves an outbox entry to status. serverID is kept when empty.
func (db *DB) MarkSend(localID string, status SendStatus, serverID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET
			status = ?,
			server_id = CASE WHEN ? != '' THEN ? ELSE server_id END,
			error_message = ?,
			updated_at = ?
		WHERE local_id = ?`,
		status, serverID, serverID, errMsg, now, localID)
	return err
}

// BumpSendAttempts increments the confirmation attempt counter of localID
// and returns the new value.
func (db *DB) BumpSendAttempts(localID string) (int, error) {
	var n int
	err := db.QueryRow(`
		UPDATE outbox SET attempts = attempts + 1, updated_at = ?
		WHERE local_id = ?
		RETURNING attempts`, time.Now().UnixMilli(), localID).Scan(&n)
	return n, err
}

// SendsByStatus returns outbox entries in status, oldest first.
func (db *DB) SendsByStatus(status SendStatus) ([]OutboxEntry, error) {
	return db.querySends(`
		SELECT local_id, counterpart_id, content, status, server_id, error_message, attempts, created_at
		FROM outbox WHERE status = ? ORDER BY created_at ASC`, status)
}

// RecentSends returns the newest outbox entries.
func (db *DB) RecentSends(limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.querySends(`
		SELECT local_id, counterpart_id, content, status, server_id, error_message, attempts, created_at
		FROM outbox ORDER BY created_at DESC LIMIT ?`, limit)
}

func (db *DB) querySends(query string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.LocalID, &e.CounterpartID, &e.Content, &e.Status, &e.ServerID, &e.ErrorMessage, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
