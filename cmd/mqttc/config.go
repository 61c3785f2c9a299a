package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/vitalvas/mqttv3"
)

// envPrefix prefixes every environment variable the CLI reads.
const envPrefix = "MQTTC_"

// Config holds connection settings shared by all commands.
type Config struct {
	Server         string        `yaml:"server"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeepAlive      int           `yaml:"keep_alive"`
	CleanSession   bool          `yaml:"clean_session"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	TLSInsecure    bool          `yaml:"tls_insecure"`
	Proxy          string        `yaml:"proxy"`
	LogLevel       string        `yaml:"log_level"`
	MetricsAddr    string        `yaml:"metrics_addr"`
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		Server:         "tcp://localhost:1883",
		KeepAlive:      60,
		CleanSession:   true,
		ConnectTimeout: 10 * time.Second,
		LogLevel:       "warn",
	}
}

// LoadFile overlays the YAML file at path.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.LoadBytes(data)
}

// LoadBytes overlays YAML data.
func (c *Config) LoadBytes(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// LoadFromEnv overlays MQTTC_* environment variables.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv(envPrefix + "SERVER"); v != "" {
		c.Server = v
	}
	if v := os.Getenv(envPrefix + "CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := os.Getenv(envPrefix + "USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv(envPrefix + "PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv(envPrefix + "KEEP_ALIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.KeepAlive = n
		}
	}
	if v := os.Getenv(envPrefix + "CLEAN_SESSION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.CleanSession = b
		}
	}
	if v := os.Getenv(envPrefix + "CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ConnectTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

// BindFlags registers the connection flags on fs.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Server, "server", "s", c.Server, "broker URI (tcp://, tls://, ws://, wss://, quic://, unix://)")
	fs.StringVarP(&c.ClientID, "client-id", "i", c.ClientID, "client identifier (generated when empty)")
	fs.StringVarP(&c.Username, "username", "u", c.Username, "username")
	fs.StringVarP(&c.Password, "password", "P", c.Password, "password")
	fs.IntVarP(&c.KeepAlive, "keep-alive", "k", c.KeepAlive, "keep-alive interval in seconds (0 disables)")
	fs.BoolVar(&c.CleanSession, "clean-session", c.CleanSession, "start a clean session")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "time to wait for CONNACK")
	fs.BoolVar(&c.TLSInsecure, "tls-insecure", c.TLSInsecure, "skip broker certificate verification")
	fs.StringVar(&c.Proxy, "proxy", c.Proxy, "HTTP CONNECT or SOCKS5 proxy URL")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve Prometheus metrics on this address")
}

// Resolve builds the effective configuration: defaults, then the file at
// path, then the environment, then every flag set on the command line.
func Resolve(flags *Config, fs *pflag.FlagSet, path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.LoadFromEnv()

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "server":
			cfg.Server = flags.Server
		case "client-id":
			cfg.ClientID = flags.ClientID
		case "username":
			cfg.Username = flags.Username
		case "password":
			cfg.Password = flags.Password
		case "keep-alive":
			cfg.KeepAlive = flags.KeepAlive
		case "clean-session":
			cfg.CleanSession = flags.CleanSession
		case "connect-timeout":
			cfg.ConnectTimeout = flags.ConnectTimeout
		case "tls-insecure":
			cfg.TLSInsecure = flags.TLSInsecure
		case "proxy":
			cfg.Proxy = flags.Proxy
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server is required")
	}
	if c.KeepAlive < 0 || c.KeepAlive > 65535 {
		return fmt.Errorf("keep_alive must be between 0 and 65535, got %d", c.KeepAlive)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (mqttv3.LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return mqttv3.LogLevelDebug, nil
	case "info", "":
		return mqttv3.LogLevelInfo, nil
	case "warn", "warning":
		return mqttv3.LogLevelWarn, nil
	case "error":
		return mqttv3.LogLevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// Options converts the configuration into client options.
func (c *Config) Options() []mqttv3.Option {
	level, _ := parseLevel(c.LogLevel)
	logger := mqttv3.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)), level)

	opts := []mqttv3.Option{
		mqttv3.WithServers(c.Server),
		mqttv3.WithClientID(c.ClientID),
		mqttv3.WithKeepAlive(uint16(c.KeepAlive)),
		mqttv3.WithCleanSession(c.CleanSession),
		mqttv3.WithConnectTimeout(c.ConnectTimeout),
		mqttv3.WithLogger(logger),
	}

	switch {
	case c.Username != "" && c.Password != "":
		opts = append(opts, mqttv3.WithCredentials(c.Username, c.Password))
	case c.Username != "":
		opts = append(opts, mqttv3.WithUsername(c.Username))
	}

	if c.TLSInsecure {
		opts = append(opts, mqttv3.WithTLS(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, //nolint:gosec // opt-in flag
		}))
	}

	if c.Proxy != "" {
		opts = append(opts, mqttv3.WithProxy(c.Proxy))
	} else {
		opts = append(opts, mqttv3.WithProxyFromEnvironment(true))
	}

	return opts
}
