package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/stream-herald/notify"
	"github.com/onnwee/stream-herald/telemetry"
)

// Manager is the per-channel state machine. States are derived from storage:
// a channel with an open session is Live, otherwise Offline. The machine is
// idempotent under the event source's at-least-once, unordered delivery:
// a went-live for a live channel and a went-offline for an offline channel
// are both silent no-ops.
type Manager struct {
	Subs      SubscriptionStore
	Sessions  SessionStore
	Messenger Messenger
	Directory Directory
	Registrar Registrar
	Thumbs    ThumbnailSource

	locks *channelLocks
}

// NewManager wires a Manager. All collaborators are required except Thumbs,
// which may be nil when previews are disabled.
func NewManager(subs SubscriptionStore, sessions SessionStore, messenger Messenger, directory Directory, registrar Registrar, thumbs ThumbnailSource) *Manager {
	return &Manager{
		Subs:      subs,
		Sessions:  sessions,
		Messenger: messenger,
		Directory: directory,
		Registrar: registrar,
		Thumbs:    thumbs,
		locks:     newChannelLocks(),
	}
}

// HandleEvent applies one normalized lifecycle event under the channel's lock.
func (m *Manager) HandleEvent(ctx context.Context, ev Event) error {
	unlock := m.locks.acquire(ev.ChannelID)
	defer unlock()

	var err error
	telemetry.TimeFunc(telemetry.EventHandleDuration, func() {
		switch ev.Kind {
		case KindOnline:
			err = m.handleOnline(ctx, ev)
		case KindOffline:
			err = m.handleOffline(ctx, ev)
		default:
			err = fmt.Errorf("unknown event kind %q", ev.Kind)
		}
	})
	return err
}

func (m *Manager) handleOnline(ctx context.Context, ev Event) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("channel_id", ev.ChannelID))

	sub, err := m.Subs.Get(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		// Event for a channel we no longer track (unsubscribe raced a delivery).
		log.Warn("went-live event for untracked channel")
		return nil
	}

	open, err := m.Sessions.GetOpen(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("load open session: %w", err)
	}
	if open != nil {
		// Duplicate or out-of-order live signal for an already-open session.
		log.Debug("ignoring went-live for live channel", slog.Int64("session_id", open.ID))
		return nil
	}

	title, gameName := ev.Title, ev.GameName
	startedAt := ev.OccurredAt
	if title == "" {
		// stream.online payloads carry no metadata; ask Helix for it.
		if live, err := m.Directory.Live(ctx, ev.ChannelID); err != nil {
			log.Warn("stream metadata lookup failed", slog.Any("err", err))
		} else if live != nil {
			title, gameName = live.Title, live.GameName
			if startedAt.IsZero() {
				startedAt = live.StartedAt
			}
		}
	}
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	// Run-to-completion before the first send: a missing thumbnail must never
	// block the announcement, so Acquire falls back rather than failing.
	var photoURL string
	if m.Thumbs != nil {
		photoURL = m.Thumbs.Acquire(ctx, sub.Login)
	}

	text := notify.Started(title, gameName, sub.Login, sub.DisplayName)
	msgID, err := m.Messenger.Send(ctx, sub.Destination(), text, photoURL)
	if err != nil {
		return fmt.Errorf("send went-live message: %w", err)
	}
	if telemetry.NotificationsSent != nil {
		telemetry.NotificationsSent.Inc()
	}

	sess := &Session{
		ChannelID: ev.ChannelID,
		MessageID: msgID,
		Title:     title,
		GameName:  gameName,
		StartedAt: startedAt,
	}
	if err := m.Sessions.Open(ctx, sess); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if telemetry.OpenSessionsGauge != nil {
		telemetry.OpenSessionsGauge.Inc()
	}
	log.Info("stream started", slog.String("login", sub.Login), slog.Int("message_id", msgID))
	return nil
}

func (m *Manager) handleOffline(ctx context.Context, ev Event) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("channel_id", ev.ChannelID))

	sub, err := m.Subs.Get(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		log.Warn("went-offline event for untracked channel")
		return nil
	}

	open, err := m.Sessions.GetOpen(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("load open session: %w", err)
	}
	if open == nil {
		// Stray offline signal with nothing open.
		log.Debug("ignoring went-offline for offline channel")
		return nil
	}

	endedAt := ev.OccurredAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	if err := m.Sessions.Close(ctx, open.ID, endedAt); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if telemetry.OpenSessionsGauge != nil {
		telemetry.OpenSessionsGauge.Dec()
	}

	text := notify.Ended(open.Title, open.GameName, sub.Login, sub.DisplayName, endedAt.Sub(open.StartedAt))
	err = m.Messenger.Edit(ctx, sub.Destination(), open.MessageID, text)
	switch {
	case err == nil:
		if telemetry.NotificationsEdited != nil {
			telemetry.NotificationsEdited.Inc()
		}
	case errors.Is(err, ErrMessageNotFound):
		// The announcement was deleted; post a standalone recap instead.
		if telemetry.EditTargetMissing != nil {
			telemetry.EditTargetMissing.Inc()
		}
		log.Warn("edit target missing, sending standalone message", slog.Int("message_id", open.MessageID))
		if _, err := m.Messenger.Send(ctx, sub.Destination(), text, ""); err != nil {
			return fmt.Errorf("send fallback ended message: %w", err)
		}
	default:
		return fmt.Errorf("edit message %d: %w", open.MessageID, err)
	}
	log.Info("stream ended", slog.String("login", sub.Login), slog.Duration("elapsed", endedAt.Sub(open.StartedAt)))
	return nil
}

// Subscribe creates a subscription record and registers EventSub interest.
// Registration failure rolls the record back so storage and registrations
// never diverge.
func (m *Manager) Subscribe(ctx context.Context, login string, dest Destination) (*Subscription, error) {
	ch, err := m.Directory.ChannelByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	existing, err := m.Subs.Get(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, ch.DisplayName)
	}

	sub := &Subscription{
		ChannelID:   ch.ID,
		Login:       ch.Login,
		DisplayName: ch.DisplayName,
		ChatID:      dest.ChatID,
		TopicID:     dest.TopicID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.Subs.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist subscription: %w", err)
	}
	if err := m.Registrar.Subscribe(ctx, ch.ID); err != nil {
		// Compensate: no subscription row without a live registration.
		if derr := m.Subs.Delete(ctx, ch.ID); derr != nil {
			slog.Error("rollback of subscription record failed", slog.String("channel_id", ch.ID), slog.Any("err", derr))
		}
		return nil, fmt.Errorf("register with event source: %w", err)
	}
	return sub, nil
}

// Unsubscribe deregisters interest and removes the subscription record.
// If the local delete fails after deregistration, the registration is
// restored best-effort so the two stay consistent.
func (m *Manager) Unsubscribe(ctx context.Context, login string) (*Subscription, error) {
	ch, err := m.Directory.ChannelByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	sub, err := m.Subs.Get(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotSubscribed, ch.DisplayName)
	}

	if err := m.Registrar.Unsubscribe(ctx, ch.ID); err != nil {
		return nil, fmt.Errorf("deregister with event source: %w", err)
	}
	if err := m.Subs.Delete(ctx, ch.ID); err != nil {
		if rerr := m.Registrar.Subscribe(ctx, ch.ID); rerr != nil {
			slog.Error("restore of event registration failed", slog.String("channel_id", ch.ID), slog.Any("err", rerr))
		}
		return nil, fmt.Errorf("delete subscription: %w", err)
	}
	return sub, nil
}

// Overview reports every subscription with its current live status, for the
// /streams listing. Lookup failures degrade to "offline" rather than failing
// the whole listing.
func (m *Manager) Overview(ctx context.Context) ([]notify.ChannelStatus, error) {
	subs, err := m.Subs.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	out := make([]notify.ChannelStatus, 0, len(subs))
	for _, sub := range subs {
		st := notify.ChannelStatus{Login: sub.Login, DisplayName: sub.DisplayName}
		live, err := m.Directory.Live(ctx, sub.ChannelID)
		if err != nil {
			slog.Warn("live lookup failed", slog.String("login", sub.Login), slog.Any("err", err))
		} else if live != nil {
			st.Live = true
			st.Title = live.Title
			st.GameName = live.GameName
			st.Viewers = live.Viewers
		}
		out = append(out, st)
	}
	return out, nil
}
