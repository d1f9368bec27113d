// Package eventsub receives inbound EventSub webhook notifications: it
// verifies authenticity, deduplicates redeliveries, answers the subscription
// handshake, and hands normalized lifecycle events to the stream manager.
package eventsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/stream-herald/cache"
	"github.com/onnwee/stream-herald/stream"
	"github.com/onnwee/stream-herald/telemetry"
)

// maxBodyBytes bounds webhook payloads; EventSub notifications are tiny.
const maxBodyBytes = 1 << 20

// message types sent by the EventSub webhook transport
const (
	typeVerification = "webhook_callback_verification"
	typeNotification = "notification"
	typeRevocation   = "revocation"
)

// Sink consumes normalized lifecycle events. Satisfied by *stream.Manager.
type Sink interface {
	HandleEvent(ctx context.Context, ev stream.Event) error
}

// Handler is the webhook endpoint. Verification failures are rejected before
// any other processing; duplicates are acknowledged and dropped. Accepted
// notifications are acknowledged immediately and processed on their own
// goroutine so thumbnail waits never hold up the event source's delivery
// timeout or other channels' events.
type Handler struct {
	Secret string
	Dedup  *cache.TTL
	Sink   Sink
}

type payload struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		Type              string `json:"type"`
		StartedAt         string `json:"started_at"`
		Title             string `json:"title"`
		CategoryName      string `json:"category_name"`
	} `json:"event"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	msgID := r.Header.Get(HeaderMessageID)
	timestamp := r.Header.Get(HeaderMessageTimestamp)
	signature := r.Header.Get(HeaderSignature)
	if msgID == "" || timestamp == "" {
		http.Error(w, "missing eventsub headers", http.StatusBadRequest)
		return
	}
	if !VerifySignature(h.Secret, msgID, timestamp, body, signature) {
		if telemetry.EventsRejected != nil {
			telemetry.EventsRejected.Inc()
		}
		log.Warn("rejected webhook with bad signature", slog.String("message_id", msgID))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	// The source redelivers on slow or missing acks; an id we have seen
	// within the redelivery window is acknowledged and dropped.
	if _, seen := h.Dedup.Get(msgID); seen {
		if telemetry.EventsDuplicate != nil {
			telemetry.EventsDuplicate.Inc()
		}
		log.Debug("dropping redelivered event", slog.String("message_id", msgID))
		w.WriteHeader(http.StatusOK)
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(HeaderMessageType) {
	case typeVerification:
		// Handshake: echo the challenge synchronously.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(p.Challenge))

	case typeRevocation:
		log.Warn("eventsub subscription revoked", slog.String("type", p.Subscription.Type))
		w.WriteHeader(http.StatusOK)

	case typeNotification:
		ev, ok := normalize(&p, timestamp)
		if !ok {
			http.Error(w, "unsupported event", http.StatusBadRequest)
			return
		}
		if telemetry.EventsReceived != nil {
			telemetry.EventsReceived.Inc()
		}
		// Mark seen only for accepted notifications, and before forwarding,
		// so a concurrent redelivery arriving mid-processing is dropped.
		// Handshake and revocation redeliveries must keep getting their
		// normal responses.
		h.Dedup.Set(msgID, "1")
		// Ack now; the lifecycle transition (including the thumbnail wait)
		// runs detached from the request.
		corr := telemetry.GetCorrelation(r.Context())
		go func() {
			ctx := telemetry.WithCorrelation(context.Background(), corr)
			if err := h.Sink.HandleEvent(ctx, ev); err != nil {
				telemetry.LoggerWithCorr(ctx).Error("event handling failed",
					slog.String("channel_id", ev.ChannelID),
					slog.String("kind", string(ev.Kind)),
					slog.Any("err", err))
			}
		}()
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "unknown message type", http.StatusBadRequest)
	}
}

// normalize maps a notification payload onto a stream.Event.
func normalize(p *payload, headerTimestamp string) (stream.Event, bool) {
	var kind stream.EventKind
	switch p.Subscription.Type {
	case "stream.online":
		kind = stream.KindOnline
	case "stream.offline":
		kind = stream.KindOffline
	default:
		return stream.Event{}, false
	}
	if p.Event.BroadcasterUserID == "" {
		return stream.Event{}, false
	}

	occurred, err := time.Parse(time.RFC3339, p.Event.StartedAt)
	if err != nil {
		// stream.offline carries no event timestamp; fall back to delivery time.
		occurred, err = time.Parse(time.RFC3339Nano, headerTimestamp)
		if err != nil {
			occurred = time.Time{}
		}
	}
	return stream.Event{
		ChannelID:  p.Event.BroadcasterUserID,
		Kind:       kind,
		OccurredAt: occurred,
		Title:      p.Event.Title,
		GameName:   p.Event.CategoryName,
	}, true
}
