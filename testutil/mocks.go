// Package testutil provides shared helpers for tests: a mock Twitch API
// server and an env-gated Postgres fixture.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch id and Helix API responses.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server. Handlers are keyed
// by URL path; unmatched paths return 404.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// TokenURL returns the mock client-credentials token endpoint, registering a
// default handler that issues "test-token".
func (m *MockTwitchServer) TokenURL() string {
	if _, ok := m.Handlers["/oauth2/token"]; !ok {
		m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "test-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		}
	}
	return m.URL + "/oauth2/token"
}

// MockUserResponse adds a handler for the /users endpoint.
func (m *MockTwitchServer) MockUserResponse(userID, login, displayName string) {
	m.Handlers["/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"data": []map[string]string{
				{"id": userID, "login": login, "display_name": displayName},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockUserNotFound makes the /users endpoint return an empty data set.
func (m *MockTwitchServer) MockUserNotFound() {
	m.Handlers["/users"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}
}

// MockStreamsResponse adds a handler for the /streams endpoint.
// Pass nil data for an offline channel.
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.Handlers["/streams"] = func(w http.ResponseWriter, r *http.Request) {
		if streams == nil {
			streams = []map[string]any{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": streams})
	}
}

// MockEventSub wires an in-memory /eventsub/subscriptions endpoint that
// accepts creations, lists, and deletions. It returns a pointer to the slice
// of created subscription payloads for assertions.
func (m *MockTwitchServer) MockEventSub(t *testing.T) *EventSubState {
	t.Helper()
	state := &EventSubState{}
	m.Handlers["/eventsub/subscriptions"] = func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			state.Created = append(state.Created, payload)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		case http.MethodGet:
			typ := r.URL.Query().Get("type")
			data := []map[string]string{}
			for i, c := range state.Created {
				if ct, _ := c["type"].(string); typ == "" || ct == typ {
					data = append(data, map[string]string{"id": subID(i), "type": ct})
				}
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
		case http.MethodDelete:
			state.Deleted = append(state.Deleted, r.URL.Query().Get("id"))
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
	return state
}

// EventSubState records mock EventSub registration activity.
type EventSubState struct {
	Created []map[string]any
	Deleted []string
}

func subID(i int) string {
	return "sub-" + string(rune('a'+i))
}
