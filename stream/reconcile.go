package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/onnwee/stream-herald/telemetry"
)

// Reconcile corrects local state against authoritative live status after
// downtime. It runs once at startup, before steady-state event processing
// begins, so the per-channel checks can fan out freely:
//
//   - every subscription gets its EventSub registration refreshed
//   - a channel found live with no open session gets a synthesized went-live
//   - a channel with an open session that is no longer live gets a
//     synthesized went-offline
func (m *Manager) Reconcile(ctx context.Context) error {
	subs, err := m.Subs.ListAll(ctx)
	if err != nil {
		return err
	}
	slog.Info("reconciling channel state", slog.Int("subscriptions", len(subs)))

	var wg sync.WaitGroup
	var liveNow atomic.Int64
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			if m.reconcileChannel(ctx, sub) {
				liveNow.Add(1)
			}
		}(sub)
	}
	wg.Wait()
	telemetry.SetOpenSessions(int(liveNow.Load()))
	return nil
}

// reconcileChannel reports whether the channel ended up live.
func (m *Manager) reconcileChannel(ctx context.Context, sub Subscription) bool {
	log := slog.Default().With(slog.String("login", sub.Login))
	if telemetry.ReconcileChecks != nil {
		telemetry.ReconcileChecks.Inc()
	}

	// Webhook registrations survive restarts but not secret rotations or
	// failed deliveries; refreshing is idempotent on the Twitch side.
	if err := m.Registrar.Subscribe(ctx, sub.ChannelID); err != nil {
		log.Warn("eventsub re-registration failed", slog.Any("err", err))
	}

	open, err := m.Sessions.GetOpen(ctx, sub.ChannelID)
	if err != nil {
		log.Warn("reconcile: open session lookup failed", slog.Any("err", err))
		return false
	}
	live, err := m.Directory.Live(ctx, sub.ChannelID)
	if err != nil {
		log.Warn("reconcile: live lookup failed", slog.Any("err", err))
		return open != nil
	}

	switch {
	case open == nil && live != nil:
		// Missed went-live while the process was down.
		ev := Event{
			ChannelID:  sub.ChannelID,
			Kind:       KindOnline,
			OccurredAt: live.StartedAt,
			Title:      live.Title,
			GameName:   live.GameName,
		}
		if err := m.HandleEvent(ctx, ev); err != nil {
			log.Error("reconcile: synthesized went-live failed", slog.Any("err", err))
		}
	case open != nil && live == nil:
		// Missed went-offline; close out the stale session.
		ev := Event{ChannelID: sub.ChannelID, Kind: KindOffline}
		if err := m.HandleEvent(ctx, ev); err != nil {
			log.Error("reconcile: synthesized went-offline failed", slog.Any("err", err))
		}
	}
	return live != nil
}
