package store

import (
	"fmt"
	"time"

	"github.com/soyeahso/minichat/internal/domain"
)

// MessageCache persists applied messages and read watermarks per
// conversation.
type MessageCache struct {
	db *DB
}

// NewMessageCache creates a message cache using the given database.
func NewMessageCache(db *DB) *MessageCache {
	return &MessageCache{db: db}
}

// Save stores messages. A message already cached under the same id is left
// untouched, matching the in-memory first-copy-wins rule.
func (c *MessageCache) Save(msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := c.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO messages (conversation_id, id, sender_id, type, body, created_at, client_nonce)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id, id) DO NOTHING`,
	)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(
			m.ConversationID, m.ID, m.SenderID, string(m.Type), m.Body,
			toNanos(m.CreatedAt), m.ClientNonce,
		); err != nil {
			return fmt.Errorf("saving message %s: %w", m.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO conversations (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, m.ConversationID,
		); err != nil {
			return fmt.Errorf("saving conversation %s: %w", m.ConversationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// LoadRecent returns up to limit of the newest cached messages in a
// conversation, oldest first. A limit of 0 defaults to 50.
func (c *MessageCache) LoadRecent(convID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.sql.Query(
		`SELECT id, conversation_id, sender_id, type, body, created_at, client_nonce FROM (
		   SELECT * FROM messages WHERE conversation_id = ?
		   ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at, id`,
		convID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", convID, err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var typ string
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &typ, &m.Body, &created, &m.ClientNonce); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Type = domain.MessageType(typ)
		m.CreatedAt = fromNanos(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Conversations returns the ids of every cached conversation, most recently
// updated first.
func (c *MessageCache) Conversations() ([]string, error) {
	rows, err := c.db.sql.Query(`SELECT id FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveReadWatermark stores a conversation's read watermark. The stored value
// never moves backwards.
func (c *MessageCache) SaveReadWatermark(convID string, ts domain.Timestamp) error {
	_, err := c.db.sql.Exec(
		`INSERT INTO conversations (id, read_up_to, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   read_up_to = MAX(read_up_to, excluded.read_up_to),
		   updated_at = excluded.updated_at`,
		convID, toNanos(ts), time.Now().UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("saving watermark for %s: %w", convID, err)
	}
	return nil
}

// ReadWatermark returns the stored watermark, or the zero Timestamp.
func (c *MessageCache) ReadWatermark(convID string) (domain.Timestamp, error) {
	var ns int64
	err := c.db.sql.QueryRow(`SELECT read_up_to FROM conversations WHERE id = ?`, convID).Scan(&ns)
	if err != nil {
		if isNoRows(err) {
			return domain.Timestamp{}, nil
		}
		return domain.Timestamp{}, fmt.Errorf("loading watermark for %s: %w", convID, err)
	}
	return fromNanos(ns), nil
}

// Prune keeps only the newest keep messages of a conversation and returns
// how many were removed.
func (c *MessageCache) Prune(convID string, keep int) (int64, error) {
	res, err := c.db.sql.Exec(
		`DELETE FROM messages WHERE conversation_id = ? AND id NOT IN (
		   SELECT id FROM messages WHERE conversation_id = ?
		   ORDER BY created_at DESC, id DESC LIMIT ?
		 )`,
		convID, convID, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning %s: %w", convID, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.db.log.Debug().Str("conversationId", convID).Int64("removed", n).Msg("pruned cached messages")
	}
	return n, nil
}

func toNanos(ts domain.Timestamp) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Time().UnixNano()
}

func fromNanos(ns int64) domain.Timestamp {
	if ns == 0 {
		return domain.Timestamp{}
	}
	return domain.NewTimestamp(time.Unix(0, ns))
}
