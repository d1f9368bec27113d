package server

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/onnwee/stream-herald/cache"
	"github.com/onnwee/stream-herald/eventsub"
	"github.com/onnwee/stream-herald/stream"
)

type noopSink struct{}

func (noopSink) HandleEvent(context.Context, stream.Event) error { return nil }

func testDeps(t *testing.T) Deps {
	t.Helper()
	// A connection that opens but cannot be reached; enough for routes
	// that never touch the database and for probe failure paths.
	database, err := sql.Open("pgx", "postgres://nobody@127.0.0.1:1/nodb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return Deps{
		DB: database,
		Webhook: &eventsub.Handler{
			Secret: "0123456789ab",
			Dedup:  cache.New(time.Minute),
			Sink:   noopSink{},
		},
		DataDir: t.TempDir(),
	}
}

func TestCorrelationHeaderInjected(t *testing.T) {
	mux := NewMux(testDeps(t))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected a generated correlation id header")
	}
}

func TestCorrelationHeaderPreserved(t *testing.T) {
	mux := NewMux(testDeps(t))
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Correlation-ID", "corr-abc")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-abc" {
		t.Errorf("correlation id = %q, want preserved", got)
	}
}

func TestHealthzUnreachableDatabase(t *testing.T) {
	mux := NewMux(testDeps(t))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when the database is unreachable", rr.Code)
	}
}

func TestThumbnailsServedFromDataDir(t *testing.T) {
	deps := testDeps(t)
	dir := filepath.Join(deps.DataDir, "thumbnails")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "foo.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	mux := NewMux(deps)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/thumbnails/foo.jpg", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "jpeg" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestWebhookRouteWired(t *testing.T) {
	mux := NewMux(testDeps(t))
	body := []byte(`{"challenge":"pong","subscription":{"type":"stream.online"}}`)
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	req := httptest.NewRequest(http.MethodPost, "/eventsub/callback", bytes.NewReader(body))
	req.Header.Set(eventsub.HeaderMessageID, "m1")
	req.Header.Set(eventsub.HeaderMessageTimestamp, ts)
	req.Header.Set(eventsub.HeaderMessageType, "webhook_callback_verification")
	req.Header.Set(eventsub.HeaderSignature, eventsub.ComputeSignature("0123456789ab", "m1", ts, body))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "pong" {
		t.Errorf("body = %q, want challenge echoed", rr.Body.String())
	}
}

func TestServerErrorsMarkSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	mux := NewMux(testDeps(t))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when the database is unreachable", rr.Code)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1", len(spans))
	}
	if got := spans[0].Status.Code; got != codes.Error {
		t.Errorf("span status = %v, want error for a 5xx response", got)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected an exception event recorded on the span")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := NewMux(testDeps(t))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}
