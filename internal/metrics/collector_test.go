package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_CounterIsShared(t *testing.T) {
	c := NewCollector()
	a := c.Counter("x_total", "x", "")
	b := c.Counter("x_total", "x", "")
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Fatalf("expected 3, got %d", a.Value())
	}
}

func TestCollector_HandlerRendersSeries(t *testing.T) {
	c := NewCollector()
	c.Counter("sent_total", "Sent", `channel="ws"`).Add(4)
	c.Gauge("conns", "Connections", "").Set(2)
	h := c.Histogram("lat_seconds", "Latency", "", []float64{1, 0.5})
	h.Observe(0.7)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"# TYPE sent_total counter",
		`sent_total{channel="ws"} 4`,
		"conns 2",
		`lat_seconds_bucket{le="0.5"} 0`,
		`lat_seconds_bucket{le="1"} 1`,
		"lat_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, body)
		}
	}
}
