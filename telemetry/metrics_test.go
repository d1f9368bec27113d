package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	if EventsReceived == nil || ThumbnailIterations == nil || OpenSessionsGauge == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestTimeFuncObserves(t *testing.T) {
	Init()
	d := TimeFunc(EventHandleDuration, func() { time.Sleep(5 * time.Millisecond) })
	if d < 5*time.Millisecond {
		t.Errorf("measured duration too small: %v", d)
	}

	// Verify the histogram recorded at least one observation.
	h, ok := EventHandleDuration.(prometheus.Histogram)
	if !ok {
		t.Fatalf("EventHandleDuration is not a Histogram")
	}
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.GetHistogram().GetSampleCount() == 0 {
		t.Error("no observations recorded")
	}
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := WithCorrelation(t.Context(), "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q", got)
	}
	if got := GetCorrelation(t.Context()); got != "" {
		t.Errorf("expected empty correlation, got %q", got)
	}
}
