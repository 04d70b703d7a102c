package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"ENV", "HTTP_ADDR", "STORE_URL", "STORE_TOKEN", "STORE_TIMEOUT", "SYNC_INTERVAL",
	"MONGO_URI", "MONGO_DB", "MQTT_BROKER", "MQTT_TOPIC_PREFIX", "JWT_SECRET", "JWT_TTL",
	"LOG_LEVEL", "LOG_FORMAT", "RATE_LIMIT_REQUESTS", "SERVICE_AREA_LAT",
	"ADMIN_EMAIL", "ADMIN_PASSWORD",
}

// clearEnv blanks every key Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "http://localhost:5000", cfg.Store.URL)
	assert.Equal(t, 30*time.Second, cfg.Store.SyncInterval)
	assert.Equal(t, 10*time.Second, cfg.Store.Timeout)
	assert.Equal(t, devJWTSecret, cfg.JWT.Secret)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.InDelta(t, 33.5731, cfg.ServiceArea.Lat, 1e-9)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_URL=http://store:5000\nSYNC_INTERVAL=5s\nMQTT_BROKER=tcp://mqtt:1883\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STORE_URL")
		os.Unsetenv("SYNC_INTERVAL")
		os.Unsetenv("MQTT_BROKER")
	})
	// godotenv does not override variables that are already set.
	os.Unsetenv("STORE_URL")
	os.Unsetenv("SYNC_INTERVAL")
	os.Unsetenv("MQTT_BROKER")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://store:5000", cfg.Store.URL)
	assert.Equal(t, 5*time.Second, cfg.Store.SyncInterval)
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
}

func TestLoad_RequiresSecretOutsideLocal(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTP:  HTTPConfig{Addr: ":8080"},
			Store: StoreConfig{URL: "http://localhost:5000", Timeout: time.Second, SyncInterval: time.Second},
			JWT:   JWTConfig{Secret: "s"},
			Log:   LogConfig{Level: "info", Format: "text"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"bad addr":       func(c *Config) { c.HTTP.Addr = "8080" },
		"relative url":   func(c *Config) { c.Store.URL = "localhost:5000" },
		"zero interval":  func(c *Config) { c.Store.SyncInterval = 0 },
		"zero timeout":   func(c *Config) { c.Store.Timeout = 0 },
		"bad level":      func(c *Config) { c.Log.Level = "loud" },
		"bad format":     func(c *Config) { c.Log.Format = "xml" },
		"latitude range": func(c *Config) { c.ServiceArea.Lat = 91 },
		"short admin pw": func(c *Config) { c.Admin = AdminConfig{Email: "root@example.com", Password: "short"} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	log := LogConfig{Level: "debug", Format: "json"}.NewLogger()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	_, ok := log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}
