package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "tcp://localhost:1883", cfg.Server)
	assert.Equal(t, 60, cfg.KeepAlive)
	assert.True(t, cfg.CleanSession)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfigLoadBytes(t *testing.T) {
	cfg := NewConfig()
	err := cfg.LoadBytes([]byte(`
server: tls://broker.example.com:8883
client_id: sensor-1
keep_alive: 30
clean_session: false
connect_timeout: 3s
`))
	require.NoError(t, err)

	assert.Equal(t, "tls://broker.example.com:8883", cfg.Server)
	assert.Equal(t, "sensor-1", cfg.ClientID)
	assert.Equal(t, 30, cfg.KeepAlive)
	assert.False(t, cfg.CleanSession)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "warn", cfg.LogLevel, "unset keys keep their defaults")
}

func TestConfigLoadFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		err := NewConfig().LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))

		err := NewConfig().LoadFile(path)
		assert.ErrorContains(t, err, "failed to parse config YAML")
	})
}

func TestConfigLoadFromEnv(t *testing.T) {
	t.Setenv("MQTTC_SERVER", "ws://localhost:8080/mqtt")
	t.Setenv("MQTTC_USERNAME", "alice")
	t.Setenv("MQTTC_KEEP_ALIVE", "15")
	t.Setenv("MQTTC_CLEAN_SESSION", "false")
	t.Setenv("MQTTC_CONNECT_TIMEOUT", "not-a-duration")

	cfg := NewConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, "ws://localhost:8080/mqtt", cfg.Server)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, 15, cfg.KeepAlive)
	assert.False(t, cfg.CleanSession)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout, "unparsable values are ignored")
}

func TestResolvePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mqttc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: tcp://file:1883\nusername: file-user\nkeep_alive: 20\n"), 0o600))

	t.Setenv("MQTTC_USERNAME", "env-user")
	t.Setenv("MQTTC_KEEP_ALIVE", "25")

	flags := NewConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--keep-alive", "5"}))

	cfg, err := Resolve(flags, fs, path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://file:1883", cfg.Server, "file overrides default")
	assert.Equal(t, "env-user", cfg.Username, "environment overrides file")
	assert.Equal(t, 5, cfg.KeepAlive, "flag overrides environment")
}

func TestResolveUnsetFlagsKeepLowerLayers(t *testing.T) {
	t.Setenv("MQTTC_SERVER", "tcp://env:1883")

	flags := NewConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Resolve(flags, fs, "")
	require.NoError(t, err)
	assert.Equal(t, "tcp://env:1883", cfg.Server)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"valid", func(_ *Config) {}, ""},
		{"empty server", func(c *Config) { c.Server = "" }, "server is required"},
		{"negative keep alive", func(c *Config) { c.KeepAlive = -1 }, "keep_alive"},
		{"keep alive too large", func(c *Config) { c.KeepAlive = 65536 }, "keep_alive"},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestConfigOptions(t *testing.T) {
	cfg := NewConfig()
	cfg.Username = "user"
	cfg.Password = "secret"
	cfg.TLSInsecure = true
	cfg.Proxy = "socks5://localhost:1080"

	opts := cfg.Options()
	assert.Len(t, opts, 9)

	cfg.Username = ""
	cfg.TLSInsecure = false
	cfg.Proxy = ""
	assert.Len(t, cfg.Options(), 7)
}
