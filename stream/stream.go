// Package stream owns the per-channel live/offline lifecycle: it consumes
// verified events, decides send-vs-edit, and keeps the subscription and
// session records consistent with the EventSub registrations.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/stream-herald/twitchapi"
)

// EventKind classifies a normalized lifecycle event.
type EventKind string

const (
	KindOnline  EventKind = "online"
	KindOffline EventKind = "offline"
)

// Event is a verified, deduplicated lifecycle notification. Title and
// GameName are optional; the manager enriches them from Helix when absent.
type Event struct {
	ChannelID  string
	Kind       EventKind
	OccurredAt time.Time
	Title      string
	GameName   string
}

// Subscription ties a tracked channel to its notification destination.
type Subscription struct {
	ChannelID   string
	Login       string
	DisplayName string
	ChatID      int64
	TopicID     int
	CreatedAt   time.Time
}

// Destination returns where this subscription's notifications go.
func (s *Subscription) Destination() Destination {
	return Destination{ChatID: s.ChatID, TopicID: s.TopicID}
}

// Session is one continuous broadcast. EndedAt is nil while the channel is
// live; a closed session is never mutated again.
type Session struct {
	ID        int64
	ChannelID string
	MessageID int
	Title     string
	GameName  string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Destination addresses a chat group and optional forum topic.
type Destination struct {
	ChatID  int64
	TopicID int
}

var (
	// ErrAlreadySubscribed is returned when subscribing a channel that
	// already has a subscription record.
	ErrAlreadySubscribed = errors.New("channel already subscribed")
	// ErrNotSubscribed is returned when unsubscribing a channel with no
	// subscription record.
	ErrNotSubscribed = errors.New("channel not subscribed")
	// ErrMessageNotFound reports that an edit target no longer exists; the
	// manager recovers by sending a standalone message.
	ErrMessageNotFound = errors.New("message to edit not found")
)

// SubscriptionStore persists Subscription records.
// Get returns (nil, nil) when no record exists.
type SubscriptionStore interface {
	Get(ctx context.Context, channelID string) (*Subscription, error)
	Upsert(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, channelID string) error
	ListAll(ctx context.Context) ([]Subscription, error)
}

// SessionStore persists Session records. GetOpen returns (nil, nil)
// when the channel has no open session.
type SessionStore interface {
	GetOpen(ctx context.Context, channelID string) (*Session, error)
	Open(ctx context.Context, sess *Session) error
	Close(ctx context.Context, sessionID int64, endedAt time.Time) error
}

// Messenger is the chat transport. Send with an empty photoURL sends plain
// text. Edit must return ErrMessageNotFound (possibly wrapped) when the
// target message no longer exists.
type Messenger interface {
	Send(ctx context.Context, dest Destination, text, photoURL string) (int, error)
	Edit(ctx context.Context, dest Destination, messageID int, text string) error
}

// Directory resolves channel identities and current live status.
// Satisfied by *twitchapi.Client.
type Directory interface {
	ChannelByLogin(ctx context.Context, login string) (*twitchapi.Channel, error)
	Live(ctx context.Context, channelID string) (*twitchapi.Stream, error)
}

// Registrar registers and removes interest with the event source.
// Satisfied by *twitchapi.EventSubClient.
type Registrar interface {
	Subscribe(ctx context.Context, channelID string) error
	Unsubscribe(ctx context.Context, channelID string) error
}

// ThumbnailSource resolves a preview image URL for a channel that just went
// live. Implementations never fail; they fall back to a static asset.
type ThumbnailSource interface {
	Acquire(ctx context.Context, login string) string
}
