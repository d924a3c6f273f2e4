package config

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestApplyDefaultsFillsEveryZeroField(t *testing.T) {
	c := &Config{}
	applyDefaults(c)

	assert.Equal(t, 6006, c.Server.ServerPortRx)
	assert.Equal(t, 6102, c.Server.ServerPortTx)
	assert.Equal(t, 6103, c.Server.StatsPort)
	assert.Equal(t, "5s", c.Server.StatsPublishInterval)
	assert.Equal(t, "30s", c.Server.StatsResetInterval)
	assert.Equal(t, "600s", c.Server.StatsHistory)
	assert.Equal(t, "none", c.Server.FIFOCompression)
	assert.Equal(t, "infoLoggerD", c.Collector.RxSocketPath)
	assert.Equal(t, c.Server.ServerPortRx, c.Collector.ServerPort, "collector defaults to dialing the local server port")
	assert.Equal(t, "127.0.0.1:9401", c.Metrics.ListenAddr)
}

func TestApplyDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	c := &Config{Server: ServerConfig{ServerPortRx: 7000}}
	applyDefaults(c)
	assert.Equal(t, 7000, c.Server.ServerPortRx)
}

func TestLoadConfigAppliesDefaultsWhenNoFileGiven(t *testing.T) {
	cfg, err := LoadConfig("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, 6006, cfg.Server.ServerPortRx)
}

func TestEnvironmentOverridesTakePrecedenceOverDefaults(t *testing.T) {
	t.Setenv("INFOLOGGER_SERVER_PORT_RX", "7777")
	t.Setenv("INFOLOGGER_DB_ENABLED", "true")
	t.Setenv("INFOLOGGER_DB_HOST", "db.example.org")

	cfg, err := LoadConfig("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.ServerPortRx)
	assert.True(t, cfg.Server.DBEnabled)
	assert.Equal(t, "db.example.org", cfg.Server.DBHost)
}
