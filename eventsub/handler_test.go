package eventsub

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/stream-herald/cache"
	"github.com/onnwee/stream-herald/stream"
)

const testSecret = "0123456789ab"

type recordingSink struct {
	events chan stream.Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan stream.Event, 16)}
}

func (s *recordingSink) HandleEvent(_ context.Context, ev stream.Event) error {
	s.events <- ev
	return nil
}

func (s *recordingSink) waitEvent(t *testing.T) stream.Event {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
		return stream.Event{}
	}
}

func (s *recordingSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.events:
		t.Fatalf("unexpected forwarded event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestHandler() (*Handler, *recordingSink) {
	sink := newRecordingSink()
	return &Handler{
		Secret: testSecret,
		Dedup:  cache.New(10 * time.Minute),
		Sink:   sink,
	}, sink
}

func signedRequest(t *testing.T, msgID, msgType, subType string, body []byte) *http.Request {
	t.Helper()
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	req := httptest.NewRequest(http.MethodPost, "/eventsub/callback", bytes.NewReader(body))
	req.Header.Set(HeaderMessageID, msgID)
	req.Header.Set(HeaderMessageTimestamp, ts)
	req.Header.Set(HeaderMessageType, msgType)
	req.Header.Set(HeaderSubscriptionType, subType)
	req.Header.Set(HeaderSignature, ComputeSignature(testSecret, msgID, ts, body))
	return req
}

func TestChallengeEchoedSynchronously(t *testing.T) {
	h, sink := newTestHandler()
	body := []byte(`{"challenge":"pong-123","subscription":{"type":"stream.online"}}`)
	req := signedRequest(t, "m1", typeVerification, "stream.online", body)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != "pong-123" {
		t.Errorf("body = %q, want challenge echoed", got)
	}
	sink.expectNone(t)
}

func TestRedeliveredChallengeEchoedAgain(t *testing.T) {
	h, sink := newTestHandler()
	body := []byte(`{"challenge":"pong-456","subscription":{"type":"stream.online"}}`)

	// The handshake is retried with the same message id when the first
	// response is slow; every retry must still get the challenge back.
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, signedRequest(t, "same-id", typeVerification, "stream.online", body))
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, rr.Code)
		}
		if got := rr.Body.String(); got != "pong-456" {
			t.Fatalf("delivery %d: body = %q, want challenge echoed", i, got)
		}
	}
	sink.expectNone(t)
}

func TestValidNotificationForwarded(t *testing.T) {
	h, sink := newTestHandler()
	body := []byte(`{
		"subscription":{"type":"stream.online"},
		"event":{"broadcaster_user_id":"123","type":"live","started_at":"2024-06-01T12:00:00Z"}
	}`)
	req := signedRequest(t, "m1", typeNotification, "stream.online", body)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
	ev := sink.waitEvent(t)
	if ev.ChannelID != "123" || ev.Kind != stream.KindOnline {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("started_at not parsed")
	}
}

func TestMutatedSignatureRejected(t *testing.T) {
	h, sink := newTestHandler()
	body := []byte(`{"subscription":{"type":"stream.online"},"event":{"broadcaster_user_id":"123"}}`)
	req := signedRequest(t, "m1", typeNotification, "stream.online", body)

	// Flip one byte of the valid signature.
	sig := []byte(req.Header.Get(HeaderSignature))
	last := sig[len(sig)-1]
	if last == 'a' {
		sig[len(sig)-1] = 'b'
	} else {
		sig[len(sig)-1] = 'a'
	}
	req.Header.Set(HeaderSignature, string(sig))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	sink.expectNone(t)
}

func TestRedeliveryDropped(t *testing.T) {
	h, sink := newTestHandler()
	body := []byte(`{
		"subscription":{"type":"stream.online"},
		"event":{"broadcaster_user_id":"123","started_at":"2024-06-01T12:00:00Z"}
	}`)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, signedRequest(t, "same-id", typeNotification, "stream.online", body))
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, rr.Code)
		}
	}

	sink.waitEvent(t)
	// Redeliveries of the same message id must produce zero further events.
	sink.expectNone(t)
}

func TestMalformedPayloadRejected(t *testing.T) {
	h, sink := newTestHandler()
	req := signedRequest(t, "m1", typeNotification, "stream.online", []byte(`{not json`))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	sink.expectNone(t)
}

func TestMissingHeadersRejected(t *testing.T) {
	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/eventsub/callback", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestRevocationAcknowledged(t *testing.T) {
	h, sink := newTestHandler()
	body := []byte(`{"subscription":{"type":"stream.online"}}`)
	req := signedRequest(t, "m1", typeRevocation, "stream.online", body)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	sink.expectNone(t)
}

func TestOfflineUsesDeliveryTimestamp(t *testing.T) {
	h, sink := newTestHandler()
	body := []byte(`{"subscription":{"type":"stream.offline"},"event":{"broadcaster_user_id":"123"}}`)
	req := signedRequest(t, "m1", typeNotification, "stream.offline", body)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	ev := sink.waitEvent(t)
	if ev.Kind != stream.KindOffline {
		t.Errorf("kind = %v, want offline", ev.Kind)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("expected delivery timestamp fallback")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/eventsub/callback", nil)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}
