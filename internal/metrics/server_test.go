package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestHealthzReflectsReadyState(t *testing.T) {
	reg := NewRegistry()
	s := NewServer("127.0.0.1:0", reg, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	s.SetReady(true)
	resp, err = http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestMetricsEndpointExposesRegisteredCollectors(t *testing.T) {
	reg := NewRegistry()
	s := NewServer("127.0.0.1:0", reg, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	CollectorMessagesReceivedTotal.Add(1)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "infologger_collector_messages_received_total")
}

func TestStatsEndpointReturnsProviderOutput(t *testing.T) {
	reg := NewRegistry()
	s := NewServer("127.0.0.1:0", reg, testLogger())
	s.SetStatsProvider(func() map[string]int64 {
		return map[string]int64{"db_pool": 3}
	})
	require.NoError(t, s.Start())
	defer s.Stop()

	time.Sleep(10 * time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var counts map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Equal(t, int64(3), counts["db_pool"])
}
