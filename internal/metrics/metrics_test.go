package metrics

import (
	"testing"
	"time"

	"patchcert/domain/verdict"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountsVerdicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveVerdict(verdict.ModelMasking, verdict.StatusCertifiedRobust, time.Millisecond)
	m.ObserveVerdict(verdict.ModelMasking, verdict.StatusCertifiedRobust, time.Millisecond)
	m.ObserveVerdict(verdict.ModelClipping, verdict.StatusIncorrect, time.Millisecond)
	m.ObserveFailure(verdict.ModelClipping, "NUMERIC_ERROR")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.verdicts.WithLabelValues("masking", "certified_robust")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("clipping", "incorrect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("clipping", "NUMERIC_ERROR")))

	_, err = New(reg)
	assert.Error(t, err, "registering twice should fail")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveVerdict(verdict.ModelMasking, verdict.StatusVulnerable, time.Second)
	m.ObserveLatency(verdict.ModelMasking, time.Second)
	m.ObserveFailure(verdict.ModelMasking, "CONFIG_INVALID")
}
