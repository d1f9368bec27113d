// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for channel lookup, live status, and EventSub webhook registration, using an
// app access token.
package twitchapi

import (
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

const defaultBaseURL = "https://api.twitch.tv/helix"

// ErrChannelNotFound is returned when a login resolves to no Twitch channel.
var ErrChannelNotFound = errors.New("channel not found")

// Channel identifies a Twitch channel.
type Channel struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Stream describes a currently live broadcast.
type Stream struct {
	ChannelID string
	Title     string
	GameName  string
	Viewers   int
	StartedAt time.Time
}

// Client provides the Helix methods needed for subscription commands and
// startup reconciliation.
type Client struct {
	AppTokenSource *TokenSource
	ClientID       string
	BaseURL        string // override for tests; defaults to the public Helix endpoint
	HTTPClient     *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

// get performs an authenticated Helix GET with bounded retries and decodes the
// response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	tok, err := c.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+path, nil)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.URL.RawQuery = query.Encode()
			req.Header.Set("Client-Id", c.ClientID)
			req.Header.Set("Authorization", "Bearer "+tok)
			resp, err := c.http().Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if err := resp.Body.Close(); err != nil {
					slog.Warn("failed to close response body", slog.Any("err", err))
				}
			}()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("helix %s: HTTP %d", path, resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(out)
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// ChannelByLogin resolves a login name to its channel identity.
// Returns ErrChannelNotFound when the login does not exist.
func (c *Client) ChannelByLogin(ctx context.Context, login string) (*Channel, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []Channel `json:"data"`
	}
	if err := c.get(ctx, "/users", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, login)
	}
	return &body.Data[0], nil
}

// UsersByID resolves up to 100 channel ids to their identities.
func (c *Client) UsersByID(ctx context.Context, ids []string) ([]Channel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}
	var body struct {
		Data []Channel `json:"data"`
	}
	if err := c.get(ctx, "/users", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// Live returns the current broadcast for a channel, or nil when offline.
func (c *Client) Live(ctx context.Context, channelID string) (*Stream, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channelID empty")
	}
	q := url.Values{}
	q.Set("user_id", channelID)
	var body struct {
		Data []struct {
			UserID      string `json:"user_id"`
			Type        string `json:"type"`
			Title       string `json:"title"`
			GameName    string `json:"game_name"`
			ViewerCount int    `json:"viewer_count"`
			StartedAt   string `json:"started_at"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/streams", q, &body); err != nil {
		return nil, err
	}
	for _, s := range body.Data {
		if s.Type != "live" {
			continue
		}
		started, _ := time.Parse(time.RFC3339, s.StartedAt)
		return &Stream{
			ChannelID: s.UserID,
			Title:     s.Title,
			GameName:  s.GameName,
			Viewers:   s.ViewerCount,
			StartedAt: started,
		}, nil
	}
	return nil, nil
}
