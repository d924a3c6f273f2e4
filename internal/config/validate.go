package config

import (
	"fmt"
	"time"

	"infologger/pkg/errors"
)

// validator accumulates every problem found instead of stopping at the
// first one, same as the teacher's ConfigValidator.
type validator struct {
	errs []string
}

func (v *validator) addError(component, field, message string) {
	v.errs = append(v.errs, fmt.Sprintf("%s.%s: %s", component, field, message))
}

// Validate checks every section of a loaded Config and returns a single
// aggregated *errors.AppError (CodeConfigValidation) if anything is wrong.
func Validate(c *Config) error {
	v := &validator{}

	if c.Server.ServerPortRx <= 0 || c.Server.ServerPortRx > 65535 {
		v.addError("infoLoggerServer", "serverPortRx", fmt.Sprintf("invalid port %d", c.Server.ServerPortRx))
	}
	if c.Server.ServerPortTx <= 0 || c.Server.ServerPortTx > 65535 {
		v.addError("infoLoggerServer", "serverPortTx", fmt.Sprintf("invalid port %d", c.Server.ServerPortTx))
	}
	if c.Server.StatsPort <= 0 || c.Server.StatsPort > 65535 {
		v.addError("infoLoggerServer", "statsPort", fmt.Sprintf("invalid port %d", c.Server.StatsPort))
	}
	if c.Server.MaxClientsRx <= 0 {
		v.addError("infoLoggerServer", "maxClientsRx", "must be positive")
	}
	if c.Server.MaxClientsTx <= 0 {
		v.addError("infoLoggerServer", "maxClientsTx", "must be positive")
	}
	if c.Server.DBEnabled && c.Server.DBHost == "" {
		v.addError("infoLoggerServer", "dbHost", "cannot be empty when dbEnabled")
	}
	if c.Server.DBEnabled && c.Server.DBNThreads <= 0 {
		v.addError("infoLoggerServer", "dbNThreads", "must be positive when dbEnabled")
	}
	validateDuration(v, "infoLoggerServer", "statsPublishInterval", c.Server.StatsPublishInterval)
	validateDuration(v, "infoLoggerServer", "statsResetInterval", c.Server.StatsResetInterval)
	validateDuration(v, "infoLoggerServer", "statsHistory", c.Server.StatsHistory)
	switch c.Server.FIFOCompression {
	case "none", "snappy", "lz4", "zstd":
	default:
		v.addError("infoLoggerServer", "fifoCompression", fmt.Sprintf("unknown codec %q", c.Server.FIFOCompression))
	}

	if c.Collector.RxSocketPath == "" {
		v.addError("infoLoggerD", "rxSocketPath", "cannot be empty")
	}
	if c.Collector.RxMaxConnections <= 0 {
		v.addError("infoLoggerD", "rxMaxConnections", "must be positive")
	}
	if c.Collector.ServerHost == "" {
		v.addError("infoLoggerD", "serverHost", "cannot be empty")
	}
	if c.Collector.ServerPort <= 0 || c.Collector.ServerPort > 65535 {
		v.addError("infoLoggerD", "serverPort", fmt.Sprintf("invalid port %d", c.Collector.ServerPort))
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		v.addError("metrics", "listenAddr", "cannot be empty when enabled")
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "jaeger", "otlphttp":
		default:
			v.addError("tracing", "exporter", fmt.Sprintf("unknown exporter %q", c.Tracing.Exporter))
		}
		if c.Tracing.Endpoint == "" {
			v.addError("tracing", "endpoint", "cannot be empty when tracing enabled")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			v.addError("kafka", "brokers", "cannot be empty when kafka enabled")
		}
		if c.Kafka.Topic == "" {
			v.addError("kafka", "topic", "cannot be empty when kafka enabled")
		}
	}

	if len(v.errs) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d configuration error(s): %v", len(v.errs), v.errs)
	return errors.New(errors.CodeConfigValidation, "config", "validate", msg)
}

func validateDuration(v *validator, component, field, value string) {
	if _, err := time.ParseDuration(value); err != nil {
		v.addError(component, field, fmt.Sprintf("invalid duration %q", value))
	}
}
