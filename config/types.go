package config

import "time"

// Node controls storage, the block clock and the API listener.
type Node struct {
	DataDir         string        `toml:"DataDir"`
	Backend         string        `toml:"Backend"`
	BlockInterval   time.Duration `toml:"BlockInterval"`
	ListenAddress   string        `toml:"ListenAddress"`
	Environment     string        `toml:"Environment"`
	ShutdownTimeout time.Duration `toml:"ShutdownTimeout"`
	MaxConnections  int           `toml:"MaxConnections"`
}

// Flywheel carries the trusted identities of the reward engine as bech32
// strings, plus the initial native speed applied at first start.
type Flywheel struct {
	NativeToken  string   `toml:"NativeToken"`
	Reserve      string   `toml:"Reserve"`
	Admin        string   `toml:"Admin"`
	Factory      string   `toml:"Factory"`
	InitialSpeed string   `toml:"InitialSpeed"`
	Paused       []string `toml:"Paused"`
}

// Auth configures bearer token validation on mutating API routes.
// AllowHeaderCaller lets a disabled authenticator take the caller from the
// X-Caller header; only accepted on a loopback listener.
type Auth struct {
	Enabled           bool          `toml:"Enabled"`
	AllowHeaderCaller bool          `toml:"AllowHeaderCaller"`
	HMACSecret        string        `toml:"HMACSecret"`
	Issuer            string        `toml:"Issuer"`
	Audience          string        `toml:"Audience"`
	ClockSkew         time.Duration `toml:"ClockSkew"`
}

// RateLimit defines per-client request budgets for the API.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures OTLP exporters. OTEL_* environment variables override
// these values at startup.
type Telemetry struct {
	ServiceName string  `toml:"ServiceName"`
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Events configures the SQL event history.
type Events struct {
	Enabled bool   `toml:"Enabled"`
	Driver  string `toml:"Driver"`
	DSN     string `toml:"DSN"`
}

// Logging configures the structured logger.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}
