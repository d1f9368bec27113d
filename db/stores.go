package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/stream-herald/stream"
	"github.com/onnwee/stream-herald/thumbnail"
)

// SubscriptionStore is the Postgres implementation of stream.SubscriptionStore.
type SubscriptionStore struct{ DB *sql.DB }

func (s *SubscriptionStore) Get(ctx context.Context, channelID string) (*stream.Subscription, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT channel_id, login, display_name, chat_id, topic_id, created_at
		 FROM channels WHERE channel_id = $1`, channelID)
	var sub stream.Subscription
	err := row.Scan(&sub.ChannelID, &sub.Login, &sub.DisplayName, &sub.ChatID, &sub.TopicID, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", channelID, err)
	}
	return &sub, nil
}

func (s *SubscriptionStore) Upsert(ctx context.Context, sub *stream.Subscription) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO channels(channel_id, login, display_name, chat_id, topic_id, created_at)
		 VALUES($1,$2,$3,$4,$5,NOW())
		 ON CONFLICT(channel_id) DO UPDATE SET
		   login=EXCLUDED.login,
		   display_name=EXCLUDED.display_name,
		   chat_id=EXCLUDED.chat_id,
		   topic_id=EXCLUDED.topic_id`,
		sub.ChannelID, sub.Login, sub.DisplayName, sub.ChatID, sub.TopicID)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.ChannelID, err)
	}
	return nil
}

func (s *SubscriptionStore) Delete(ctx context.Context, channelID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", channelID, err)
	}
	return nil
}

func (s *SubscriptionStore) ListAll(ctx context.Context) ([]stream.Subscription, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT channel_id, login, display_name, chat_id, topic_id, created_at
		 FROM channels ORDER BY login`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var subs []stream.Subscription
	for rows.Next() {
		var sub stream.Subscription
		if err := rows.Scan(&sub.ChannelID, &sub.Login, &sub.DisplayName, &sub.ChatID, &sub.TopicID, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SessionStore is the Postgres implementation of stream.SessionStore. The
// partial unique index on streams(channel_id) WHERE ended_at IS NULL backs
// the one-open-session invariant.
type SessionStore struct{ DB *sql.DB }

func (s *SessionStore) GetOpen(ctx context.Context, channelID string) (*stream.Session, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, channel_id, message_id, title, game_name, started_at
		 FROM streams WHERE channel_id = $1 AND ended_at IS NULL`, channelID)
	var sess stream.Session
	err := row.Scan(&sess.ID, &sess.ChannelID, &sess.MessageID, &sess.Title, &sess.GameName, &sess.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open session %s: %w", channelID, err)
	}
	return &sess, nil
}

func (s *SessionStore) Open(ctx context.Context, sess *stream.Session) error {
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO streams(channel_id, message_id, title, game_name, started_at)
		 VALUES($1,$2,$3,$4,$5) RETURNING id`,
		sess.ChannelID, sess.MessageID, sess.Title, sess.GameName, sess.StartedAt).Scan(&sess.ID)
	if err != nil {
		return fmt.Errorf("open session %s: %w", sess.ChannelID, err)
	}
	return nil
}

func (s *SessionStore) Close(ctx context.Context, sessionID int64, endedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE streams SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`, sessionID, endedAt)
	if err != nil {
		return fmt.Errorf("close session %d: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("close session %d: no open session", sessionID)
	}
	return nil
}

// ThumbnailRecorder is the Postgres implementation of thumbnail.Recorder.
type ThumbnailRecorder struct{ DB *sql.DB }

func (r *ThumbnailRecorder) RecordThumbnail(ctx context.Context, m thumbnail.Metric) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO thumbnail_metrics(login, iterations, url, fallback, recorded_at)
		 VALUES($1,$2,$3,$4,$5)`,
		m.Login, m.Iterations, m.URL, m.Fallback, m.RecordedAt)
	if err != nil {
		return fmt.Errorf("record thumbnail metric: %w", err)
	}
	return nil
}
