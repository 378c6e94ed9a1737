package store

import (
	"time"

	"github.com/google/uuid"
)

// OutboxMessage is a realtime send queued while the channel was down.
type OutboxMessage struct {
	ID          int64      `json:"id"`
	MsgID       string     `json:"msg_id"`
	Destination string     `json:"destination"`
	Payload     []byte     `json:"-"`
	CreatedBy   string     `json:"created_by"`
	Retries     int        `json:"retries"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// EnqueueOutbox queues payload for destination and returns the message id.
func (db *DB) EnqueueOutbox(destination string, payload []byte, createdBy string) (string, error) {
	if createdBy == "" {
		createdBy = "system"
	}
	msgID := uuid.NewString()
	_, err := db.Exec(db.Q(`INSERT INTO outbox (msg_id, destination, payload, created_by) VALUES (?, ?, ?, ?)`),
		msgID, destination, payload, createdBy)
	if err != nil {
		return "", err
	}
	return msgID, nil
}

func (db *DB) ListPendingOutbox(limit int) ([]*OutboxMessage, error) {
	rows, err := db.Query(db.Q(`SELECT id, msg_id, destination, payload, created_by, retries, last_error, created_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var createdAt any
		if err := rows.Scan(&m.ID, &m.MsgID, &m.Destination, &m.Payload, &m.CreatedBy, &m.Retries, &m.LastError, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (db *DB) CountPendingOutbox() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`).Scan(&n)
	return n, err
}

func (db *DB) GetOutbox(msgID string) (*OutboxMessage, error) {
	var m OutboxMessage
	var createdAt, sentAt any
	err := db.QueryRow(db.Q(`SELECT id, msg_id, destination, payload, created_by, retries, last_error, created_at, sent_at FROM outbox WHERE msg_id=?`), msgID).
		Scan(&m.ID, &m.MsgID, &m.Destination, &m.Payload, &m.CreatedBy, &m.Retries, &m.LastError, &createdAt, &sentAt)
	if err != nil {
		return nil, notFound(err)
	}
	m.CreatedAt = parseTime(createdAt)
	m.SentAt = parseTimePtr(sentAt)
	return &m, nil
}

func (db *DB) AckOutbox(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET sent_at=datetime('now','localtime') WHERE id=?`), id)
	return err
}

func (db *DB) FailOutbox(id int64, reason string) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET retries=retries+1, last_error=? WHERE id=?`), reason, id)
	return err
}
