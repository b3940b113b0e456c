package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"lendfarm/crypto"
)

const (
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

// Config is the node configuration file.
type Config struct {
	Node      Node      `toml:"node"`
	Flywheel  Flywheel  `toml:"flywheel"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"ratelimit"`
	Telemetry Telemetry `toml:"telemetry"`
	Events    Events    `toml:"events"`
	Logging   Logging   `toml:"logging"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a development default written to the same path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.Node.DataDir) == "" {
		cfg.Node.DataDir = "./lendfarm-data"
	}
	if strings.TrimSpace(cfg.Node.Backend) == "" {
		cfg.Node.Backend = BackendLevelDB
	}
	cfg.Node.Backend = strings.ToLower(strings.TrimSpace(cfg.Node.Backend))
	if cfg.Node.BlockInterval <= 0 {
		cfg.Node.BlockInterval = 2 * time.Second
	}
	if strings.TrimSpace(cfg.Node.ListenAddress) == "" {
		cfg.Node.ListenAddress = ":8080"
	}
	if cfg.Node.ShutdownTimeout <= 0 {
		cfg.Node.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Node.MaxConnections <= 0 {
		cfg.Node.MaxConnections = 1024
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 50
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "flywheeld"
	}
	if strings.TrimSpace(cfg.Events.Driver) == "" {
		cfg.Events.Driver = "sqlite"
	}
	if cfg.Events.Enabled && strings.TrimSpace(cfg.Events.DSN) == "" && cfg.Events.Driver == "sqlite" {
		cfg.Events.DSN = filepath.Join(cfg.Node.DataDir, "events.db")
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// createDefault creates and saves a development configuration whose
// identities are derived from fixed labels.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Node: Node{
			DataDir:       "./lendfarm-data",
			Backend:       BackendLevelDB,
			BlockInterval: 2 * time.Second,
			ListenAddress: ":8080",
			Environment:   "local",
		},
		Flywheel: Flywheel{
			NativeToken:  crypto.AddressFromSeed(crypto.TokenPrefix, "native").String(),
			Reserve:      crypto.AddressFromSeed(crypto.AccountPrefix, "reserve").String(),
			Admin:        crypto.AddressFromSeed(crypto.AccountPrefix, "admin").String(),
			Factory:      crypto.AddressFromSeed(crypto.AccountPrefix, "factory").String(),
			InitialSpeed: "0",
			Paused:       []string{},
		},
		Events: Events{Enabled: true, Driver: "sqlite"},
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
