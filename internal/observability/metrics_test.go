package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("relay-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnection("registered")
	RecordDelivery("chat", true)
	RecordFramingError()
	SetMembers(3)

	if got := testutil.ToFloat64(members); got != 3 {
		t.Fatalf("unexpected members gauge: %v", got)
	}
	log.Debug().Msg("observability/metrics: registration idempotent and recording paths executed")
}
