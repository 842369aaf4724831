package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"taskdesk/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.NotificationEvent) error {
	var meta any
	if len(n.Metadata) > 0 {
		data, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("marshal notification metadata: %w", err)
		}
		meta = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,recipient_id,type,title,body,metadata_json,read,created_at) VALUES (?,?,?,?,?,?,0,?)`,
		n.ID, n.RecipientID, n.Type, n.Title, n.Body, meta, n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]domain.NotificationEvent, error) {
	query := `SELECT id,recipient_id,type,title,body,metadata_json,read,created_at FROM notifications WHERE recipient_id=?`
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY seq DESC`
	rows, err := r.DB.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// NotificationsAfter returns notifications with seq greater than cursor, in
// insertion order. Used by the webhook dispatcher.
func (r Repo) NotificationsAfter(ctx context.Context, limit int, cursor int64) ([]int64, []domain.NotificationEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,id,recipient_id,type,title,body,metadata_json,read,created_at
FROM notifications WHERE seq>? ORDER BY seq LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var seqs []int64
	var out []domain.NotificationEvent
	for rows.Next() {
		var seq int64
		var n domain.NotificationEvent
		var meta sql.NullString
		if err := rows.Scan(&seq, &n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Body, &meta, &n.Read, &n.CreatedAt); err != nil {
			return nil, nil, err
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &n.Metadata)
		}
		seqs = append(seqs, seq)
		out = append(out, n)
	}
	return seqs, out, rows.Err()
}

// LatestNotificationSeq returns the current high-water mark of the
// notifications outbox.
func (r Repo) LatestNotificationSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(seq) FROM notifications`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (r Repo) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND recipient_id=?`, id, recipientID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return wrapNotFound(ErrNotFound, "notification", id)
	}
	return nil
}

func scanNotifications(rows *sql.Rows) ([]domain.NotificationEvent, error) {
	var out []domain.NotificationEvent
	for rows.Next() {
		var n domain.NotificationEvent
		var meta sql.NullString
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Body, &meta, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &n.Metadata)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
