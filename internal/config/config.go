// Package config loads dispatchd settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const devJWTSecret = "dev-only-secret"

type Config struct {
	Env         string
	HTTP        HTTPConfig
	Store       StoreConfig
	Mongo       MongoConfig
	MQTT        MQTTConfig
	JWT         JWTConfig
	Log         LogConfig
	RateLimit   RateLimitConfig
	ServiceArea ServiceAreaConfig
	Admin       AdminConfig
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig points at the backing record store.
type StoreConfig struct {
	URL          string
	Token        string
	Timeout      time.Duration
	SyncInterval time.Duration
}

// MongoConfig is optional; an empty URI runs without users or journal.
type MongoConfig struct {
	URI      string
	Database string
}

// MQTTConfig is optional; an empty broker disables notifications.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ServiceAreaConfig places incidents reported without coordinates.
type ServiceAreaConfig struct {
	Lat       float64
	Lng       float64
	JitterDeg float64
}

// AdminConfig seeds the first ADMIN account when Mongo is configured and the
// email is not yet registered.
type AdminConfig struct {
	Name     string
	Email    string
	Password string
}

// Load reads the given .env files (default ".env") if present, then the
// environment, and validates the result.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Env: getEnv("ENV", "local"),
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			URL:          getEnv("STORE_URL", "http://localhost:5000"),
			Token:        getEnv("STORE_TOKEN", ""),
			Timeout:      getEnvDuration("STORE_TIMEOUT", 10*time.Second),
			SyncInterval: getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", ""),
			Database: getEnv("MONGO_DB", "dispatch"),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "dispatchd"),
			Username:    getEnv("MQTT_USERNAME", ""),
			Password:    getEnv("MQTT_PASSWORD", ""),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "dispatch"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			TTL:    getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 300),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ServiceArea: ServiceAreaConfig{
			Lat:       getEnvFloat("SERVICE_AREA_LAT", 33.5731),
			Lng:       getEnvFloat("SERVICE_AREA_LNG", -7.5898),
			JitterDeg: getEnvFloat("SERVICE_AREA_JITTER_DEG", 0.05),
		},
		Admin: AdminConfig{
			Name:     getEnv("ADMIN_NAME", "Administrator"),
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}
	if cfg.JWT.Secret == "" && cfg.Env == "local" {
		cfg.JWT.Secret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" || !strings.Contains(c.HTTP.Addr, ":") {
		errs = append(errs, errors.New("HTTP_ADDR must look like ':8080' or 'host:8080'"))
	}
	if u, err := url.Parse(c.Store.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("STORE_URL %q is not an absolute url", c.Store.URL))
	}
	if c.Store.SyncInterval <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL must be positive"))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET required outside local env"))
	}
	if c.ServiceArea.Lat < -90 || c.ServiceArea.Lat > 90 || c.ServiceArea.Lng < -180 || c.ServiceArea.Lng > 180 {
		errs = append(errs, errors.New("service area centre out of range"))
	}
	if c.Admin.Email != "" && len(c.Admin.Password) < 8 {
		errs = append(errs, errors.New("ADMIN_PASSWORD must be at least 8 characters when ADMIN_EMAIL is set"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Level); err == nil {
		log.SetLevel(lvl)
	}
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Fields summarises c for the startup log line, without secrets.
func (c *Config) Fields() logrus.Fields {
	return logrus.Fields{
		"env":           c.Env,
		"http_addr":     c.HTTP.Addr,
		"store_url":     c.Store.URL,
		"sync_interval": c.Store.SyncInterval,
		"mongo":         c.Mongo.URI != "",
		"mqtt":          c.MQTT.Broker != "",
		"admin_seed":    c.Admin.Email != "",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
