package config

import "github.com/spf13/viper"

// Version is reported by the MCP server handshake and the dashboard footer.
const Version = "0.3.0"

// Config holds all runtime configuration for the harvest server.
type Config struct {
	OracleModel    string
	OracleTimeout  int // seconds, per oracle call
	OracleRetries  int
	OracleDisabled bool

	SessionCapacity int
	StatePath       string // SQLite database path; empty disables persistence

	// Session-pattern tuning for the dynamic-parts extractor.
	SessionConsistencyThreshold  float64
	FallbackConsistencyThreshold float64

	DashboardPort int
	Verbose       bool
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/harvest).
func Load() Config {
	return Config{
		OracleModel:    viper.GetString("oracle_model"),
		OracleTimeout:  viper.GetInt("oracle_timeout"),
		OracleRetries:  viper.GetInt("oracle_retries"),
		OracleDisabled: viper.GetBool("oracle_disabled"),

		SessionCapacity: viper.GetInt("session_capacity"),
		StatePath:       viper.GetString("state_path"),

		SessionConsistencyThreshold:  viper.GetFloat64("session_consistency_threshold"),
		FallbackConsistencyThreshold: viper.GetFloat64("fallback_consistency_threshold"),

		DashboardPort: viper.GetInt("dashboard_port"),
		Verbose:       viper.GetBool("verbose"),
	}
}
