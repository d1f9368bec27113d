package twitchapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestTokenSourceGet(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("client_id") != "cid" {
			t.Errorf("client_id missing from form body")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)

	ts := &TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: srv.URL}
	tok, err := ts.Get(t.Context())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %q", tok)
	}

	// Second call reuses the cached token.
	if _, err := ts.Get(t.Context()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("token endpoint called %d times, want 1", n)
	}
}

func TestTokenSourceMissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	if _, err := ts.Get(t.Context()); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}
