package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(requests.WithLabelValues("ping", "ok"))
	RecordRequest("ping", false, 5*time.Millisecond)
	RecordRequest("ping", true, time.Millisecond)

	if got := testutil.ToFloat64(requests.WithLabelValues("ping", "ok")); got != before+1 {
		t.Fatalf("ok counter = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(requests.WithLabelValues("ping", "exception")); got < 1 {
		t.Fatalf("exception counter = %v, want >= 1", got)
	}
}

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(connections)
	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()

	if got := testutil.ToFloat64(connections); got != before+1 {
		t.Fatalf("connections = %v, want %v", got, before+1)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordConnectionError("protocol")
	RecordDroppedResponse()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"yar_server_connection_errors_total", "yar_server_dropped_responses_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
