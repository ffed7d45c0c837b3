package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcoot/pxcanvas/internal/model"
)

// FileEnvVar names the environment variable holding an optional YAML config path
const FileEnvVar = "PXCANVAS_CONFIG"

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Identity providers
const (
	AuthLocal    = "local"
	AuthFirebase = "firebase"
)

// Config is the full server configuration
type Config struct {
	Port     int           `yaml:"port"`
	LogLevel string        `yaml:"log_level"`
	Canvas   CanvasConfig  `yaml:"canvas"`
	Storage  StorageConfig `yaml:"storage"`
	Auth     AuthConfig    `yaml:"auth"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// CanvasConfig controls the grid and the placement protocol
type CanvasConfig struct {
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	Cooldown     time.Duration `yaml:"cooldown"`
	PlaceTimeout time.Duration `yaml:"place_timeout"`
	DeltaLogSize int           `yaml:"delta_log_size"`
}

// Dimensions returns the configured grid size
func (c CanvasConfig) Dimensions() model.Dimensions {
	return model.Dimensions{Width: c.Width, Height: c.Height}
}

// StorageConfig selects and configures the cell store backend
type StorageConfig struct {
	Type        string `yaml:"type"`
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
}

// AuthConfig selects the identity provider
type AuthConfig struct {
	Provider                string        `yaml:"provider"`
	FirebaseProjectID       string        `yaml:"firebase_project_id"`
	FirebaseCredentialsFile string        `yaml:"firebase_credentials_file"`
	SessionDuration         time.Duration `yaml:"session_duration"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Port:     8080,
		LogLevel: "info",
		Canvas: CanvasConfig{
			Width:        model.DefaultWidth,
			Height:       model.DefaultHeight,
			Cooldown:     20 * time.Second,
			PlaceTimeout: 5 * time.Second,
			DeltaLogSize: 10000,
		},
		Storage: StorageConfig{Type: StorageMemory},
		Auth: AuthConfig{
			Provider:        AuthLocal,
			SessionDuration: 7 * 24 * time.Hour,
		},
		CORSAllowedOrigins: []string{"*"},
	}
}

// Load builds a Config from defaults, then the YAML file at path (if any),
// then environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the rest of the server relies on
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		errs = append(errs, fmt.Errorf("canvas dimensions must be positive, got %dx%d", c.Canvas.Width, c.Canvas.Height))
	}
	if c.Canvas.Cooldown < 0 {
		errs = append(errs, errors.New("cooldown must not be negative"))
	}
	if c.Canvas.PlaceTimeout <= 0 {
		errs = append(errs, errors.New("place timeout must be positive"))
	}
	if c.Canvas.DeltaLogSize <= 0 {
		errs = append(errs, errors.New("delta log size must be positive"))
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL required when STORAGE_TYPE=redis"))
		}
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL required when STORAGE_TYPE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}

	switch c.Auth.Provider {
	case AuthLocal:
	case AuthFirebase:
		if c.Auth.FirebaseProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_PROJECT_ID required when AUTH_PROVIDER=firebase"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth provider %q", c.Auth.Provider))
	}
	if c.Auth.SessionDuration <= 0 {
		errs = append(errs, errors.New("session duration must be positive"))
	}

	return errors.Join(errs...)
}

// SlogLevel maps LogLevel to a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyEnv(cfg *Config) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = d
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)

	setInt("CANVAS_WIDTH", &cfg.Canvas.Width)
	setInt("CANVAS_HEIGHT", &cfg.Canvas.Height)
	setDuration("CANVAS_COOLDOWN", &cfg.Canvas.Cooldown)
	setDuration("CANVAS_PLACE_TIMEOUT", &cfg.Canvas.PlaceTimeout)
	setInt("CANVAS_DELTA_LOG_SIZE", &cfg.Canvas.DeltaLogSize)

	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("REDIS_URL", &cfg.Storage.RedisURL)
	setString("DATABASE_URL", &cfg.Storage.DatabaseURL)

	setString("AUTH_PROVIDER", &cfg.Auth.Provider)
	setString("FIREBASE_PROJECT_ID", &cfg.Auth.FirebaseProjectID)
	setString("FIREBASE_CREDENTIALS_FILE", &cfg.Auth.FirebaseCredentialsFile)
	setDuration("SESSION_DURATION", &cfg.Auth.SessionDuration)

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSAllowedOrigins = origins
	}

	return errors.Join(errs...)
}
