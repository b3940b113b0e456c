package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendfarm/crypto"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flywheeld.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func identitiesTOML() string {
	return "[flywheel]\n" +
		"NativeToken = \"" + crypto.AddressFromSeed(crypto.TokenPrefix, "native").String() + "\"\n" +
		"Reserve = \"" + crypto.AddressFromSeed(crypto.AccountPrefix, "reserve").String() + "\"\n" +
		"Admin = \"" + crypto.AddressFromSeed(crypto.AccountPrefix, "admin").String() + "\"\n" +
		"Factory = \"" + crypto.AddressFromSeed(crypto.AccountPrefix, "factory").String() + "\"\n"
}

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "flywheeld.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendLevelDB, cfg.Node.Backend)
	require.Equal(t, 2*time.Second, cfg.Node.BlockInterval)
	require.True(t, cfg.Events.Enabled)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be persisted: %v", err)
	}

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Flywheel.Admin, reloaded.Flywheel.Admin)
	require.Equal(t, cfg.Flywheel.NativeToken, reloaded.Flywheel.NativeToken)
	require.Equal(t, cfg.Node.BlockInterval, reloaded.Node.BlockInterval)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, identitiesTOML())
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Node.ListenAddress)
	require.Equal(t, "flywheeld", cfg.Telemetry.ServiceName)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, "info", cfg.Logging.Level)

	ids, err := cfg.Flywheel.Identities()
	require.NoError(t, err)
	require.Equal(t, crypto.AddressFromSeed(crypto.AccountPrefix, "admin"), ids.Admin)
}

func TestLoadParsesDurationsAndSpeed(t *testing.T) {
	content := identitiesTOML() + "InitialSpeed = \"1000000000000000000\"\nPaused = [\"flywheel\"]\n\n" +
		"[node]\nBlockInterval = \"500ms\"\nBackend = \"Memory\"\n"
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, cfg.Node.BlockInterval)
	require.Equal(t, BackendMemory, cfg.Node.Backend)

	speed, err := cfg.Flywheel.InitialSpeedAmount()
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", speed.String())
	require.True(t, cfg.Flywheel.PauseSet().IsPaused("flywheel"))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	content := identitiesTOML() + "\n[node]\nValidatorKey = \"abc\"\n"
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"missing identities": "[node]\nBackend = \"leveldb\"\n",
		"wrong prefix": strings.Replace(identitiesTOML(), crypto.AddressFromSeed(crypto.TokenPrefix, "native").String(),
			crypto.AddressFromSeed(crypto.AccountPrefix, "native").String(), 1),
		"bad backend":   identitiesTOML() + "\n[node]\nBackend = \"bolt\"\n",
		"auth secret":   identitiesTOML() + "\n[auth]\nEnabled = true\n",
		"negative":      strings.Replace(identitiesTOML(), "[flywheel]\n", "[flywheel]\nInitialSpeed = \"-5\"\n", 1),
		"events driver": identitiesTOML() + "\n[events]\nEnabled = true\nDriver = \"mysql\"\nDSN = \"x\"\n",
		"sample ratio":  identitiesTOML() + "\n[telemetry]\nSampleRatio = 1.5\n",
	}
	cases["header caller default listener"] = identitiesTOML() + "\n[auth]\nAllowHeaderCaller = true\n"
	cases["header caller public listener"] = identitiesTOML() +
		"\n[node]\nListenAddress = \"0.0.0.0:8080\"\n\n[auth]\nAllowHeaderCaller = true\n"
	cases["header caller with jwt"] = identitiesTOML() + "\n[node]\nListenAddress = \"127.0.0.1:8080\"\n\n" +
		"[auth]\nEnabled = true\nHMACSecret = \"s\"\nAllowHeaderCaller = true\n"
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEventsDefaultDSNUnderDataDir(t *testing.T) {
	content := identitiesTOML() + "\n[node]\nDataDir = \"/var/lib/lendfarm\"\n\n[events]\nEnabled = true\n"
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/var/lib/lendfarm", "events.db"), cfg.Events.DSN)
}

func TestHeaderCallerAllowedOnLoopback(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:8080", "localhost:8080", "[::1]:8080"} {
		content := identitiesTOML() + "\n[node]\nListenAddress = \"" + addr + "\"\n\n[auth]\nAllowHeaderCaller = true\n"
		cfg, err := Load(writeConfig(t, content))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", addr, err)
		}
		require.True(t, cfg.Auth.AllowHeaderCaller)
	}
}

func TestDefaultsDisableHeaderCaller(t *testing.T) {
	cfg, err := Load(writeConfig(t, identitiesTOML()))
	require.NoError(t, err)
	require.False(t, cfg.Auth.AllowHeaderCaller)
	require.Equal(t, 1024, cfg.Node.MaxConnections)
}
