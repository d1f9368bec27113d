// Package thumbnail polls the Twitch preview CDN for a fresh live
// thumbnail and mirrors it onto local disk so chat messages can embed a
// stable URL. The CDN serves a placeholder redirect until the first real
// frame is captured, which usually takes a minute or two after a stream
// starts; Acquire waits that out with a bounded retry loop.
package thumbnail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onnwee/stream-herald/telemetry"
)

const defaultCDNBase = "https://static-cdn.jtvnw.net/previews-ttv"

// FallbackPath is served when every polling attempt comes back placeholder.
const FallbackPath = "/thumbnails/fallback.png"

// resolution suffixes tried per attempt, most preferred first. The 1079
// variant skips an aggressive CDN cache layer that the exact 1080 size
// hits, so it tends to be fresher.
var variants = []string{
	"-1920x1079.jpg",
	"-1920x1080.jpg",
	"-1280x720.jpg",
	".jpg",
}

// Metric captures the outcome of one acquisition for offline analysis.
type Metric struct {
	Login      string
	Iterations int
	URL        string
	Fallback   bool
	RecordedAt time.Time
}

// Recorder persists acquisition metrics. Recording is best effort; a
// failed insert never affects the returned thumbnail.
type Recorder interface {
	RecordThumbnail(ctx context.Context, m Metric) error
}

// Acquirer downloads live thumbnails into Dir/thumbnails and returns
// public URLs under PublicBaseURL.
type Acquirer struct {
	BaseURL       string // CDN override for tests
	PublicBaseURL string
	Dir           string
	Attempts      int
	Backoff       time.Duration
	Client        *http.Client
	Recorder      Recorder
}

func (a *Acquirer) base() string {
	if a.BaseURL != "" {
		return a.BaseURL
	}
	return defaultCDNBase
}

func (a *Acquirer) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	// The CDN answers with a redirect to a placeholder while no real
	// frame exists yet. Following it would make a 404-shaped situation
	// look like success, so redirects are surfaced as-is.
	return &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Acquire polls the CDN until a real thumbnail appears or the attempt
// budget runs out. Every not-ready candidate is followed by a Backoff
// wait, so the total polling window is Attempts × len(variants) × Backoff.
// It always returns a usable URL; exhaustion yields the static fallback
// asset.
func (a *Acquirer) Acquire(ctx context.Context, login string) string {
	login = strings.ToLower(login)
	attempts := a.Attempts
	if attempts < 1 {
		attempts = 1
	}

	iterations := 0
poll:
	for i := 1; i <= attempts; i++ {
		iterations = i
		for v, suffix := range variants {
			src := fmt.Sprintf("%s/live_user_%s%s?timestamp=%d", a.base(), login, suffix, time.Now().UnixMilli())
			img, err := a.fetch(ctx, src)
			if err == nil {
				url, perr := a.persist(login, img)
				if perr == nil {
					if telemetry.ThumbnailIterations != nil {
						telemetry.ThumbnailIterations.Observe(float64(i))
					}
					a.record(ctx, Metric{Login: login, Iterations: i, URL: url, RecordedAt: time.Now().UTC()})
					slog.Debug("thumbnail acquired", slog.String("login", login), slog.Int("iteration", i))
					return url
				}
				slog.Warn("failed to persist thumbnail", slog.String("login", login), slog.Any("err", perr))
			}
			// The CDN needs time to capture a frame whichever size was
			// asked for, so the wait follows every not-ready candidate,
			// not just a full sweep.
			if i == attempts && v == len(variants)-1 {
				break poll
			}
			select {
			case <-ctx.Done():
				break poll
			case <-time.After(a.Backoff):
			}
		}
	}

	slog.Warn("thumbnail unavailable, using fallback", slog.String("login", login), slog.Int("iterations", iterations))
	if telemetry.ThumbnailFallbacks != nil {
		telemetry.ThumbnailFallbacks.Inc()
	}
	if telemetry.ThumbnailIterations != nil {
		telemetry.ThumbnailIterations.Observe(float64(iterations))
	}
	url := a.PublicBaseURL + FallbackPath
	a.record(ctx, Metric{Login: login, Iterations: iterations, URL: url, Fallback: true, RecordedAt: time.Now().UTC()})
	return url
}

// fetch returns the image bytes, or an error when the CDN has nothing
// real yet. Any redirect counts as not-ready.
func (a *Acquirer) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("thumbnail not ready: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

func (a *Acquirer) persist(login string, img []byte) (string, error) {
	dir := filepath.Join(a.Dir, "thumbnails")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, login+".jpg")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", err
	}
	// Cache-bust so edits to a returning streamer's message pick up the
	// new frame instead of a stale CDN or client cache.
	return fmt.Sprintf("%s/thumbnails/%s.jpg?timestamp=%d", a.PublicBaseURL, login, time.Now().UnixMilli()), nil
}

func (a *Acquirer) record(ctx context.Context, m Metric) {
	if a.Recorder == nil {
		return
	}
	if err := a.Recorder.RecordThumbnail(ctx, m); err != nil {
		slog.Warn("failed to record thumbnail metric", slog.String("login", m.Login), slog.Any("err", err))
	}
}
