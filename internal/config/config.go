package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config holds the process configuration, read from the environment.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	LogLevel string
	LogFile  string

	Database DatabaseConfig

	JWTSecret   string
	JWTAudience string
}

// DatabaseConfig describes how to reach the file_metadata store.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
	AutoMigrate     bool
}

// DSN renders a postgres:// URL. Every component is escaped, so empty
// passwords or values with spaces survive parsing.
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Load reads .env files (when present) and the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set.
		_ = godotenv.Load(f)
	}
	return fromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_LOG_LEVEL", "warn")
	v.SetDefault("DB_AUTO_MIGRATE", false)

	for _, key := range []string{"DB_USER", "DB_PASS", "DB_NAME", "JWT_SECRET", "JWT_AUDIENCE"} {
		_ = v.BindEnv(key)
	}
	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	shutdown, err := duration(v, "SHUTDOWN_TIMEOUT")
	if err != nil {
		return nil, err
	}
	lifetime, err := duration(v, "DB_CONN_MAX_LIFETIME")
	if err != nil {
		return nil, err
	}
	port, err := integer(v, "DB_PORT")
	if err != nil {
		return nil, err
	}
	maxOpen, err := integer(v, "DB_MAX_OPEN_CONNS")
	if err != nil {
		return nil, err
	}
	maxIdle, err := integer(v, "DB_MAX_IDLE_CONNS")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		ShutdownTimeout: shutdown,
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFile:         v.GetString("LOG_FILE"),
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            port,
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASS"),
			Name:            v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    maxOpen,
			MaxIdleConns:    maxIdle,
			ConnMaxLifetime: lifetime,
			LogLevel:        v.GetString("DB_LOG_LEVEL"),
			AutoMigrate:     v.GetBool("DB_AUTO_MIGRATE"),
		},
		JWTSecret:   strings.TrimSpace(v.GetString("JWT_SECRET")),
		JWTAudience: strings.TrimSpace(v.GetString("JWT_AUDIENCE")),
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func integer(v *viper.Viper, key string) (int, error) {
	raw := v.Get(key)
	if str, ok := raw.(string); ok {
		raw = strings.TrimSpace(str)
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v.GetString(key), err)
	}
	return n, nil
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Database.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if cfg.Database.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if cfg.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("DB_PORT must be positive, got %d", cfg.Database.Port))
	}
	if cfg.Database.MaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", cfg.Database.MaxOpenConns))
	}
	if cfg.Database.MaxIdleConns < 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS must not be negative, got %d", cfg.Database.MaxIdleConns))
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}
