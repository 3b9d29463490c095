package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordEncode("UBF", 128, nil)
	RecordEncode("UBF", 0, errors.New("boom"))
	RecordDecode("VIEW", nil)
	RecordGrowth("UBF")
	RecordRelease("PTR")
	SetLiveBuffers("ctx-1", 3)
	RecordServiceCall("ECHO", "sync", 3*time.Millisecond, true)

	if got := testutil.ToFloat64(buffersLive.WithLabelValues("ctx-1")); got != 3 {
		t.Fatalf("live gauge = %v", got)
	}
	if got := testutil.ToFloat64(codecOps.WithLabelValues("encode", "UBF", "false")); got < 1 {
		t.Fatalf("failed encode not counted: %v", got)
	}

	log.Debug().Msg("observability/metrics: registration idempotent and recording paths executed")
}
