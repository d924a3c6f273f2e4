package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := &Config{}
	applyDefaults(c)
	c.Collector.ServerHost = "localhost"
	return c
}

func TestValidConfigPasses(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestInvalidPortsRejected(t *testing.T) {
	c := validConfig()
	c.Server.ServerPortRx = 0
	c.Server.StatsPort = 70000
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serverPortRx")
	assert.Contains(t, err.Error(), "statsPort")
}

func TestDBEnabledRequiresHostAndThreads(t *testing.T) {
	c := validConfig()
	c.Server.DBEnabled = true
	c.Server.DBHost = ""
	c.Server.DBNThreads = 0
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dbHost")
	assert.Contains(t, err.Error(), "dbNThreads")
}

func TestUnknownFIFOCompressionRejected(t *testing.T) {
	c := validConfig()
	c.Server.FIFOCompression = "rot13"
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fifoCompression")
}

func TestKafkaEnabledRequiresBrokersAndTopic(t *testing.T) {
	c := validConfig()
	c.Kafka.Enabled = true
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brokers")
	assert.Contains(t, err.Error(), "topic")
}

func TestTracingEnabledRequiresKnownExporterAndEndpoint(t *testing.T) {
	c := validConfig()
	c.Tracing.Enabled = true
	c.Tracing.Exporter = "zipkin"
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exporter")
	assert.Contains(t, err.Error(), "endpoint")
}

func TestInvalidDurationsRejected(t *testing.T) {
	c := validConfig()
	c.Server.StatsPublishInterval = "not-a-duration"
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsPublishInterval")
}
