package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func unsetConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envConfigPath, envIRCServer, envIRCPort, envIRCChannel, envIRCNick, envIRCPassword, envBusURL} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	unsetConfigEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "irc": {"server": "irc.example.net", "port": 6697, "tls": true, "channel": "#home", "nickname": "jarvis"},
	  "bus": {"url": "ws://127.0.0.1:40410/bus"},
	  "gateway": {"host": "0.0.0.0", "port": 18800},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(envConfigPath, path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.IRC.Server != "irc.example.net" || cfg.IRC.Port != 6697 || !cfg.IRC.TLS {
		t.Fatalf("irc = %+v", cfg.IRC)
	}
	if cfg.IRC.Nickname != "jarvis" {
		t.Fatalf("irc.nickname = %q, want %q", cfg.IRC.Nickname, "jarvis")
	}
	if cfg.IRC.SecondaryNickname != DefaultSecondaryNickname {
		t.Fatalf("irc.secondary_nickname = %q, want default %q", cfg.IRC.SecondaryNickname, DefaultSecondaryNickname)
	}
	if cfg.IRC.ReconnectDelay() != DefaultReconnectInterval*time.Second {
		t.Fatalf("reconnect delay = %s", cfg.IRC.ReconnectDelay())
	}
	if cfg.Bus.URL != "ws://127.0.0.1:40410/bus" {
		t.Fatalf("bus.url = %q", cfg.Bus.URL)
	}
	if cfg.Interface.Name != DefaultInterfaceName {
		t.Fatalf("interface.name = %q, want %q", cfg.Interface.Name, DefaultInterfaceName)
	}
	if cfg.Gateway.Address() != "0.0.0.0:18800" {
		t.Fatalf("gateway address = %q", cfg.Gateway.Address())
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" || !cfg.Logging.AddSource {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	unsetConfigEnv(t)
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	unsetConfigEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.IRC.Server != DefaultServer || cfg.IRC.Port != DefaultPort {
		t.Fatalf("irc = %+v", cfg.IRC)
	}
	if cfg.IRC.Channel != DefaultChannel || cfg.IRC.Nickname != DefaultNickname {
		t.Fatalf("irc = %+v", cfg.IRC)
	}
	if cfg.Bus.URL != "" {
		t.Fatalf("bus.url = %q, want empty", cfg.Bus.URL)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	unsetConfigEnv(t)
	t.Chdir(t.TempDir())

	t.Setenv(envIRCServer, "irc.override.org")
	t.Setenv(envIRCPort, "7000")
	t.Setenv(envIRCChannel, "#override")
	t.Setenv(envIRCNick, "alfred")
	t.Setenv(envIRCPassword, "secret")
	t.Setenv(envBusURL, "ws://hub/bus")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.IRC.Server != "irc.override.org" || cfg.IRC.Port != 7000 || cfg.IRC.Channel != "#override" {
		t.Fatalf("irc = %+v", cfg.IRC)
	}
	if cfg.IRC.Nickname != "alfred" || cfg.IRC.Password != "secret" {
		t.Fatalf("irc = %+v", cfg.IRC)
	}
	if cfg.Bus.URL != "ws://hub/bus" {
		t.Fatalf("bus.url = %q", cfg.Bus.URL)
	}
}

func TestLoadConfigRejectsBadPortEnv(t *testing.T) {
	unsetConfigEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv(envIRCPort, "sixty")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"empty server":  func(c *Config) { c.IRC.Server = "" },
		"zero port":     func(c *Config) { c.IRC.Port = 0 },
		"large port":    func(c *Config) { c.IRC.Port = 70000 },
		"empty nick":    func(c *Config) { c.IRC.Nickname = " " },
		"no prefix":     func(c *Config) { c.IRC.Channel = "domogik" },
		"space channel": func(c *Config) { c.IRC.Channel = "#dom ogik" },
		"comma channel": func(c *Config) { c.IRC.Channel = "#a,#b" },
		"gateway port":  func(c *Config) { c.Gateway.Port = -1 },
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	for name, mutate := range tests {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
