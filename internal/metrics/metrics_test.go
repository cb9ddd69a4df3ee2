package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_HandlerExposesPrintMetrics(t *testing.T) {
	r := NewRegistry()
	r.ReceiptsPrinted.Inc()
	r.PrintFailures.WithLabelValues("transmission").Add(2)

	if got := testutil.ToFloat64(r.PrintFailures.WithLabelValues("transmission")); got != 2 {
		t.Fatalf("failures = %v", got)
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"rpn_receipts_printed_total 1", `rpn_print_failures_total{kind="transmission"} 2`} {
		if !strings.Contains(string(body), name) {
			t.Errorf("missing %q in exposition", name)
		}
	}
}
