package store

import "time"

// Enqueue persists an outgoing message authored while offline. Status starts
// as pending; CreatedAt fixes its position in the replay order.
func (db *DB) Enqueue(m *OfflineMessage) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	if m.Status == "" {
		m.Status = QueuePending
	}
	_, err := db.Exec(`
		INSERT INTO offline_messages
			(local_id, conversation_id, sender_id, body, media_url, lat, lng, location_label,
			 message_type, status, retry_count, last_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.LocalID, m.ConversationID, m.SenderID, m.Body, m.MediaURL, m.Lat, m.Lng, m.LocationLabel,
		m.MessageType, m.Status, m.RetryCount, m.LastRetryAt, m.CreatedAt)
	return err
}

// Pending returns queued messages awaiting replay, oldest first. Messages are
// committed to the remote store strictly in creation order.
func (db *DB) Pending() ([]OfflineMessage, error) {
	return db.queryByStatus(QueuePending)
}

// Failed returns messages that exhausted their retry budget and wait for a
// manual retry.
func (db *DB) Failed() ([]OfflineMessage, error) {
	return db.queryByStatus(QueueFailed)
}

func (db *DB) queryByStatus(status string) ([]OfflineMessage, error) {
	rows, err := db.Query(`
		SELECT local_id, conversation_id, sender_id, body, media_url, lat, lng, location_label,
		       message_type, status, retry_count, last_retry_at, created_at
		FROM offline_messages WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []OfflineMessage
	for rows.Next() {
		var m OfflineMessage
		if err := rows.Scan(&m.LocalID, &m.ConversationID, &m.SenderID, &m.Body, &m.MediaURL,
			&m.Lat, &m.Lng, &m.LocationLabel, &m.MessageType, &m.Status,
			&m.RetryCount, &m.LastRetryAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Get returns one queued message by local id, or nil if absent.
func (db *DB) Get(localID string) (*OfflineMessage, error) {
	rows, err := db.Query(`
		SELECT local_id, conversation_id, sender_id, body, media_url, lat, lng, location_label,
		       message_type, status, retry_count, last_retry_at, created_at
		FROM offline_messages WHERE local_id = ?`, localID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var m OfflineMessage
	if err := rows.Scan(&m.LocalID, &m.ConversationID, &m.SenderID, &m.Body, &m.MediaURL,
		&m.Lat, &m.Lng, &m.LocationLabel, &m.MessageType, &m.Status,
		&m.RetryCount, &m.LastRetryAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkSending claims a row for an in-flight replay attempt so a concurrent
// sweep cannot pick it up again.
func (db *DB) MarkSending(localID string) error {
	_, err := db.Exec(`UPDATE offline_messages SET status = ? WHERE local_id = ?`, QueueSending, localID)
	return err
}

// RecordFailure bumps the retry bookkeeping after a failed attempt. The row
// returns to pending until maxRetries is reached, then parks as failed.
func (db *DB) RecordFailure(localID string, maxRetries int, now time.Time) error {
	_, err := db.Exec(`
		UPDATE offline_messages
		SET retry_count = retry_count + 1,
		    last_retry_at = ?,
		    status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END
		WHERE local_id = ?`,
		now.UnixMilli(), maxRetries, QueueFailed, QueuePending, localID)
	return err
}

// RecoverSending returns rows stranded in sending by an interrupted replay
// attempt to pending, reporting how many were recovered. Only safe while no
// sweep is in flight; the profile lock guarantees that at daemon start.
func (db *DB) RecoverSending() (int64, error) {
	res, err := db.Exec(`UPDATE offline_messages SET status = ? WHERE status = ?`,
		QueuePending, QueueSending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Remove deletes a row after its message was committed remotely.
func (db *DB) Remove(localID string) error {
	_, err := db.Exec(`DELETE FROM offline_messages WHERE local_id = ?`, localID)
	return err
}

// ResetForRetry returns a failed (or stuck sending) row to pending with a
// fresh retry budget. Used by the manual retry operations.
func (db *DB) ResetForRetry(localID string) error {
	_, err := db.Exec(`
		UPDATE offline_messages SET status = ?, retry_count = 0, last_retry_at = 0
		WHERE local_id = ?`, QueuePending, localID)
	return err
}

// ResetAllFailed returns every failed row to pending.
func (db *DB) ResetAllFailed() error {
	_, err := db.Exec(`
		UPDATE offline_messages SET status = ?, retry_count = 0, last_retry_at = 0
		WHERE status = ?`, QueuePending, QueueFailed)
	return err
}
