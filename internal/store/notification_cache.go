package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soyeahso/minichat/internal/domain"
)

// NotificationCache persists the notification list between runs.
type NotificationCache struct {
	db *DB
}

// NewNotificationCache creates a notification cache using the given database.
func NewNotificationCache(db *DB) *NotificationCache {
	return &NotificationCache{db: db}
}

// Replace overwrites the cached list.
func (c *NotificationCache) Replace(list []domain.Notification) error {
	tx, err := c.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM notifications`); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	for _, n := range list {
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encoding notification %s: %w", n.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO notifications (id, type, reference_id, last_activity_at, payload)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   type = excluded.type,
			   reference_id = excluded.reference_id,
			   last_activity_at = excluded.last_activity_at,
			   payload = excluded.payload`,
			n.ID, string(n.Type), n.ReferenceID, toNanos(n.LastActivityAt), string(payload),
		); err != nil {
			return fmt.Errorf("saving notification %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// Load returns the cached notifications, most recent activity first. The
// unread count is derived from the entries.
func (c *NotificationCache) Load() (domain.NotificationList, error) {
	rows, err := c.db.sql.Query(`SELECT payload FROM notifications ORDER BY last_activity_at DESC, id`)
	if err != nil {
		return domain.NotificationList{}, fmt.Errorf("loading notifications: %w", err)
	}
	defer rows.Close()

	var list domain.NotificationList
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return domain.NotificationList{}, fmt.Errorf("scanning notification: %w", err)
		}
		var n domain.Notification
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			c.db.log.Warn().Err(err).Msg("skipping corrupt cached notification")
			continue
		}
		if !n.IsRead {
			list.UnreadCount++
		}
		list.Data = append(list.Data, n)
	}
	return list, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
