package twitchapi

import (
	"net/http"
	"testing"

	"github.com/onnwee/stream-herald/testutil"
)

func newTestEventSub(t *testing.T) (*EventSubClient, *testutil.EventSubState) {
	t.Helper()
	mock := testutil.NewMockTwitchServer(t)
	state := mock.MockEventSub(t)
	ec := &EventSubClient{
		AppTokenSource: &TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: mock.TokenURL()},
		ClientID:       "cid",
		BaseURL:        mock.URL,
		CallbackURL:    "https://herald.example.com/eventsub/callback",
		Secret:         "0123456789ab",
	}
	return ec, state
}

func TestSubscribeRegistersBothEventTypes(t *testing.T) {
	ec, state := newTestEventSub(t)

	if err := ec.Subscribe(t.Context(), "123"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if len(state.Created) != 2 {
		t.Fatalf("created %d subscriptions, want 2", len(state.Created))
	}
	types := map[string]bool{}
	for _, c := range state.Created {
		typ, _ := c["type"].(string)
		types[typ] = true
		transport, _ := c["transport"].(map[string]any)
		if transport["callback"] != ec.CallbackURL {
			t.Errorf("callback = %v, want %s", transport["callback"], ec.CallbackURL)
		}
		if transport["secret"] != ec.Secret {
			t.Errorf("secret not forwarded")
		}
		cond, _ := c["condition"].(map[string]any)
		if cond["broadcaster_user_id"] != "123" {
			t.Errorf("condition = %v", cond)
		}
	}
	if !types["stream.online"] || !types["stream.offline"] {
		t.Errorf("missing event types: %v", types)
	}
}

func TestSubscribeTreatsConflictAsRegistered(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.Handlers["/eventsub/subscriptions"] = func(w http.ResponseWriter, r *http.Request) {
		// subscription already exists
		w.WriteHeader(http.StatusConflict)
	}
	ec := &EventSubClient{
		AppTokenSource: &TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: mock.TokenURL()},
		ClientID:       "cid",
		BaseURL:        mock.URL,
		CallbackURL:    "https://herald.example.com/eventsub/callback",
		Secret:         "0123456789ab",
	}

	if err := ec.Subscribe(t.Context(), "123"); err != nil {
		t.Fatalf("Subscribe() with existing registrations should succeed, got %v", err)
	}
}

func TestUnsubscribeDeletesRegistrations(t *testing.T) {
	ec, state := newTestEventSub(t)
	if err := ec.Subscribe(t.Context(), "123"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := ec.Unsubscribe(t.Context(), "123"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if len(state.Deleted) != 2 {
		t.Errorf("deleted %d subscriptions, want 2", len(state.Deleted))
	}
}
