package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks the values that cannot be defaulted.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Node.Backend {
	case BackendLevelDB, BackendMemory:
	default:
		return fmt.Errorf("node: backend %q must be %q or %q", cfg.Node.Backend, BackendLevelDB, BackendMemory)
	}
	if _, err := cfg.Flywheel.Identities(); err != nil {
		return err
	}
	if _, err := cfg.Flywheel.InitialSpeedAmount(); err != nil {
		return err
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth: HMACSecret required when auth is enabled")
	}
	if cfg.Auth.AllowHeaderCaller {
		if cfg.Auth.Enabled {
			return fmt.Errorf("auth: AllowHeaderCaller cannot be combined with Enabled")
		}
		if !isLoopback(cfg.Node.ListenAddress) {
			return fmt.Errorf("auth: AllowHeaderCaller requires a loopback ListenAddress, got %q", cfg.Node.ListenAddress)
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if cfg.Events.Enabled {
		switch strings.ToLower(cfg.Events.Driver) {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("events: driver %q must be sqlite or postgres", cfg.Events.Driver)
		}
		if strings.TrimSpace(cfg.Events.DSN) == "" {
			return fmt.Errorf("events: DSN required")
		}
	}
	return nil
}

// isLoopback reports whether addr binds only to a loopback interface. An empty
// host such as ":8080" listens on every interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
