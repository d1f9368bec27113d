package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// lifecycle event types registered per channel
var eventTypes = []string{"stream.online", "stream.offline"}

// EventSubClient manages webhook subscriptions against the Helix EventSub API.
// Subscribe and Unsubscribe are synchronous round trips; callers are expected
// to roll back their local state when these fail.
type EventSubClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	BaseURL        string // override for tests
	HTTPClient     *http.Client

	// CallbackURL receives the webhook POSTs; Secret signs them.
	CallbackURL string
	Secret      string
}

type statusError struct {
	method string
	path   string
	code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("eventsub %s %s: HTTP %d", e.method, e.path, e.code)
}

func (ec *EventSubClient) http() *http.Client {
	if ec.HTTPClient != nil {
		return ec.HTTPClient
	}
	return http.DefaultClient
}

func (ec *EventSubClient) base() string {
	if ec.BaseURL != "" {
		return ec.BaseURL
	}
	return defaultBaseURL
}

func (ec *EventSubClient) do(ctx context.Context, req *http.Request, wantStatus int, out any) error {
	tok, err := ec.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", ec.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ec.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != wantStatus {
		return &statusError{method: req.Method, path: req.URL.Path, code: resp.StatusCode}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Subscribe registers stream.online and stream.offline webhook subscriptions
// for a channel. Partial failure is unwound so the registration is all-or-nothing.
func (ec *EventSubClient) Subscribe(ctx context.Context, channelID string) error {
	for i, typ := range eventTypes {
		if err := ec.subscribeOne(ctx, channelID, typ); err != nil {
			// Unwind the subscriptions created so far.
			for _, created := range eventTypes[:i] {
				if derr := ec.unsubscribeType(ctx, channelID, created); derr != nil {
					slog.Warn("eventsub unwind failed", slog.String("type", created), slog.Any("err", derr))
				}
			}
			return fmt.Errorf("subscribe %s for %s: %w", typ, channelID, err)
		}
	}
	return nil
}

func (ec *EventSubClient) subscribeOne(ctx context.Context, channelID, typ string) error {
	payload, err := json.Marshal(map[string]any{
		"type":    typ,
		"version": "1",
		"condition": map[string]string{
			"broadcaster_user_id": channelID,
		},
		"transport": map[string]string{
			"method":   "webhook",
			"callback": ec.CallbackURL,
			"secret":   ec.Secret,
		},
	})
	if err != nil {
		return err
	}
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, ec.base()+"/eventsub/subscriptions", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			err = ec.do(ctx, req, http.StatusAccepted, nil)
			// A conflict means the subscription already exists, which is
			// what we wanted in the first place.
			var se *statusError
			if errors.As(err, &se) && se.code == http.StatusConflict {
				return nil
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// Unsubscribe removes all lifecycle subscriptions for a channel.
func (ec *EventSubClient) Unsubscribe(ctx context.Context, channelID string) error {
	for _, typ := range eventTypes {
		if err := ec.unsubscribeType(ctx, channelID, typ); err != nil {
			return fmt.Errorf("unsubscribe %s for %s: %w", typ, channelID, err)
		}
	}
	return nil
}

func (ec *EventSubClient) unsubscribeType(ctx context.Context, channelID, typ string) error {
	ids, err := ec.listSubscriptionIDs(ctx, channelID, typ)
	if err != nil {
		return err
	}
	for _, id := range ids {
		q := url.Values{}
		q.Set("id", id)
		err := retry.Do(
			func() error {
				req, err := http.NewRequestWithContext(ctx, http.MethodDelete, ec.base()+"/eventsub/subscriptions?"+q.Encode(), nil)
				if err != nil {
					return err
				}
				return ec.do(ctx, req, http.StatusNoContent, nil)
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (ec *EventSubClient) listSubscriptionIDs(ctx context.Context, channelID, typ string) ([]string, error) {
	q := url.Values{}
	q.Set("user_id", channelID)
	q.Set("type", typ)
	var body struct {
		Data []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
	}
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ec.base()+"/eventsub/subscriptions?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			return ec.do(ctx, req, http.StatusOK, &body)
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(body.Data))
	for _, s := range body.Data {
		if s.Type == typ {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}
