package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestProcessSamplerUpdatesGauges(t *testing.T) {
	sampler, err := NewProcessSampler(5*time.Millisecond, testLogger())
	require.NoError(t, err)
	sampler.Start()
	defer sampler.Stop()

	time.Sleep(20 * time.Millisecond)

	require.Greater(t, testutil.ToFloat64(ProcessResidentMemoryBytes), float64(0))
}
