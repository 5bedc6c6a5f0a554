package main

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the probe binary: viper reading a .env
// file overlaid with automatic environment variables, defaults set up
// front.
type Config struct {
	EntityPath    string
	TokenAudience string
	LinkName      string

	Prefetch         int
	OperationTimeoutMs int

	MetricsPort int

	// SimulatedMessageIntervalMs and SimulatedFailureRatePct drive the built-in
	// demo factory's message generator, since this binary has no real broker
	// to attach to (the link-level AMQP protocol is out of scope for the
	// core this probes).
	SimulatedMessageIntervalMs int
	SimulatedFailureRatePct    int
}

func (c Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutMs) * time.Millisecond
}

func (c Config) SimulatedMessageInterval() time.Duration {
	return time.Duration(c.SimulatedMessageIntervalMs) * time.Millisecond
}

// LoadConfig reads probe configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("PROBE_ENTITY_PATH", "hub/consumergroups/$default/partitions/0")
	viper.SetDefault("PROBE_TOKEN_AUDIENCE", "amqp://mock.servicebus.windows.net/hub")
	viper.SetDefault("PROBE_LINK_NAME", "ehreceiver-probe")
	viper.SetDefault("PROBE_PREFETCH", 100)
	viper.SetDefault("PROBE_OPERATION_TIMEOUT_MS", 60000)
	viper.SetDefault("PROBE_METRICS_PORT", 9091)
	viper.SetDefault("PROBE_SIMULATED_MESSAGE_INTERVAL_MS", 250)
	viper.SetDefault("PROBE_SIMULATED_FAILURE_RATE_PCT", 0)

	_ = viper.ReadInConfig()

	cfg := &Config{
		EntityPath:                 viper.GetString("PROBE_ENTITY_PATH"),
		TokenAudience:              viper.GetString("PROBE_TOKEN_AUDIENCE"),
		LinkName:                   viper.GetString("PROBE_LINK_NAME"),
		Prefetch:                   viper.GetInt("PROBE_PREFETCH"),
		OperationTimeoutMs:         viper.GetInt("PROBE_OPERATION_TIMEOUT_MS"),
		MetricsPort:                viper.GetInt("PROBE_METRICS_PORT"),
		SimulatedMessageIntervalMs: viper.GetInt("PROBE_SIMULATED_MESSAGE_INTERVAL_MS"),
		SimulatedFailureRatePct:    viper.GetInt("PROBE_SIMULATED_FAILURE_RATE_PCT"),
	}
	return cfg, nil
}
