package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	envConfigPath  = "IRCBRIDGE_CONFIG"
	envIRCServer   = "IRC_SERVER"
	envIRCPort     = "IRC_PORT"
	envIRCChannel  = "IRC_CHANNEL"
	envIRCNick     = "IRC_NICK"
	envIRCPassword = "IRC_PASSWORD"
	envBusURL      = "BUS_URL"
)

const (
	DefaultServer            = "irc.libera.chat"
	DefaultPort              = 6667
	DefaultChannel           = "#domogik-offtopic"
	DefaultNickname          = "nestor"
	DefaultSecondaryNickname = "samantha"
	DefaultReconnectInterval = 60
	DefaultInterfaceName     = "irc"
	DefaultGatewayHost       = "127.0.0.1"
	DefaultGatewayPort       = 18791
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	IRC       IRCConfig       `json:"irc"`
	Bus       BusConfig       `json:"bus"`
	Interface InterfaceConfig `json:"interface"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// IRCConfig describes the single IRC network and channel the bridge lives on.
type IRCConfig struct {
	Server            string `json:"server"`
	Port              int    `json:"port"`
	TLS               bool   `json:"tls"`
	Channel           string `json:"channel"`
	Nickname          string `json:"nickname"`
	Password          string `json:"password,omitempty"`
	SecondaryNickname string `json:"secondary_nickname,omitempty"`
	SecondaryPassword string `json:"secondary_password,omitempty"`
	// ReconnectInterval is in seconds.
	ReconnectInterval int `json:"reconnect_interval"`
}

// ReconnectDelay returns the fixed pause between two connection attempts.
func (c IRCConfig) ReconnectDelay() time.Duration {
	if c.ReconnectInterval <= 0 {
		return DefaultReconnectInterval * time.Second
	}
	return time.Duration(c.ReconnectInterval) * time.Second
}

// BusConfig points at the butler hub. An empty URL keeps the bridge on the in-process bus.
type BusConfig struct {
	URL string `json:"url"`
}

// InterfaceConfig names this interface on the bus.
type InterfaceConfig struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname,omitempty"`
}

// GatewayConfig configures the status HTTP server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Address returns host:port for the status server.
func (c GatewayConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Default returns a configuration that reproduces the historical hardcoded bot.
func Default() *Config {
	return &Config{
		IRC: IRCConfig{
			Server:            DefaultServer,
			Port:              DefaultPort,
			Channel:           DefaultChannel,
			Nickname:          DefaultNickname,
			SecondaryNickname: DefaultSecondaryNickname,
			ReconnectInterval: DefaultReconnectInterval,
		},
		Interface: InterfaceConfig{Name: DefaultInterfaceName},
		Gateway:   GatewayConfig{Host: DefaultGatewayHost, Port: DefaultGatewayPort},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and applies environment overrides.
//
// A missing config file is not an error when IRCBRIDGE_CONFIG is unset; defaults and env apply.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	switch {
	case errors.Is(err, errConfigNotFound):
	case err != nil:
		return nil, err
	default:
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings the bridge cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.IRC.Server) == "" {
		return errors.New("irc.server is required")
	}
	if c.IRC.Port <= 0 || c.IRC.Port > 65535 {
		return fmt.Errorf("irc.port %d out of range", c.IRC.Port)
	}
	if strings.TrimSpace(c.IRC.Nickname) == "" {
		return errors.New("irc.nickname is required")
	}
	if !validChannelName(c.IRC.Channel) {
		return fmt.Errorf("irc.channel %q is not a valid channel name", c.IRC.Channel)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}

	return nil
}

// validChannelName accepts the RFC2812 channel prefixes and rejects separators.
func validChannelName(name string) bool {
	if len(name) < 2 || len(name) > 50 {
		return false
	}
	if !strings.ContainsRune("#&+!", rune(name[0])) {
		return false
	}

	return !strings.ContainsAny(name, " ,\x07\r\n")
}

// applyDefaults fills values a partial config file left empty.
func applyDefaults(cfg *Config) {
	if cfg.IRC.ReconnectInterval <= 0 {
		cfg.IRC.ReconnectInterval = DefaultReconnectInterval
	}
	if strings.TrimSpace(cfg.Interface.Name) == "" {
		cfg.Interface.Name = DefaultInterfaceName
	}
	if strings.TrimSpace(cfg.Gateway.Host) == "" {
		cfg.Gateway.Host = DefaultGatewayHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultGatewayPort
	}
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if value := strings.TrimSpace(os.Getenv(envIRCServer)); value != "" {
		cfg.IRC.Server = value
	}
	if value := strings.TrimSpace(os.Getenv(envIRCPort)); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envIRCPort, err)
		}
		cfg.IRC.Port = port
	}
	if value := strings.TrimSpace(os.Getenv(envIRCChannel)); value != "" {
		cfg.IRC.Channel = value
	}
	if value := strings.TrimSpace(os.Getenv(envIRCNick)); value != "" {
		cfg.IRC.Nickname = value
	}
	if value := os.Getenv(envIRCPassword); value != "" {
		cfg.IRC.Password = value
	}
	if value := strings.TrimSpace(os.Getenv(envBusURL)); value != "" {
		cfg.Bus.URL = value
	}

	return nil
}

var errConfigNotFound = errors.New("config file not found")

// findConfigPath resolves the active config file location.
//
// Precedence is IRCBRIDGE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", errConfigNotFound
}
