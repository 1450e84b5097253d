package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	Database   DatabaseConfig   `mapstructure:"database" json:"database"`
	Auth       AuthConfig       `mapstructure:"auth" json:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging" json:"logging"`
	Redis      RedisConfig      `mapstructure:"redis" json:"redis"`
	Rooms      RoomsConfig      `mapstructure:"rooms" json:"rooms"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment" json:"enrichment"`
	Conference ConferenceConfig `mapstructure:"conference" json:"conference"`
	Provider   ProviderConfig   `mapstructure:"provider" json:"provider"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host" json:"host"`
	Port        int    `mapstructure:"port" json:"port"`
	CORSOrigins string `mapstructure:"cors_origins" json:"cors_origins"`
}

type DatabaseConfig struct {
	// Driver is the database/sql driver name: "postgres" (lib/pq) or "pgx".
	Driver   string `mapstructure:"driver" json:"driver"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	Database string `mapstructure:"database" json:"database"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" json:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer" json:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
}

type RoomsConfig struct {
	// Store selects the provisioning backend: "memory" or "redis".
	Store       string        `mapstructure:"store" json:"store"`
	Capacity    int           `mapstructure:"capacity" json:"capacity"`
	TokenSecret string        `mapstructure:"token_secret" json:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
	// SignalURL is the websocket endpoint the media transport dials.
	SignalURL string `mapstructure:"signal_url" json:"signal_url"`
}

type EnrichmentConfig struct {
	FormatQuietPeriod  time.Duration `mapstructure:"format_quiet_period" json:"format_quiet_period"`
	FormatMinLength    int           `mapstructure:"format_min_length" json:"format_min_length"`
	SummaryQuietPeriod time.Duration `mapstructure:"summary_quiet_period" json:"summary_quiet_period"`
	SummaryMinLength   int           `mapstructure:"summary_min_length" json:"summary_min_length"`
}

type ConferenceConfig struct {
	ConnectAttempts   int           `mapstructure:"connect_attempts" json:"connect_attempts"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay" json:"connect_retry_delay"`
	CaptureDebounce   time.Duration `mapstructure:"capture_debounce" json:"capture_debounce"`
	// Recognizer is "client" (browser recognition forwarded as text) or "whisper".
	Recognizer string `mapstructure:"recognizer" json:"recognizer"`
}

type ProviderConfig struct {
	// Type is "openai", "openai-compatible" or "stub".
	Type               string `mapstructure:"type" json:"type"`
	BaseURL            string `mapstructure:"base_url" json:"base_url,omitempty"`
	APIKey             string `mapstructure:"api_key" json:"api_key,omitempty"`
	Model              string `mapstructure:"model" json:"model"`
	TranscriptionModel string `mapstructure:"transcription_model" json:"transcription_model"`
}

// Load reads config.json from the usual locations, falling back to defaults
// when no file exists, and applies environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".dialogue"))
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.cors_origins", "http://localhost:3000")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dialogue")
	v.SetDefault("database.database", "dialogue")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.issuer", "dialogue-backend")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rooms.store", "memory")
	v.SetDefault("rooms.capacity", 10)
	v.SetDefault("rooms.token_secret", "change-me-room-secret")
	v.SetDefault("rooms.token_ttl", time.Hour)
	v.SetDefault("rooms.signal_url", "ws://localhost:5000/rtc")

	v.SetDefault("enrichment.format_quiet_period", 5*time.Second)
	v.SetDefault("enrichment.format_min_length", 50)
	v.SetDefault("enrichment.summary_quiet_period", 10*time.Second)
	v.SetDefault("enrichment.summary_min_length", 100)

	v.SetDefault("conference.connect_attempts", 3)
	v.SetDefault("conference.connect_retry_delay", time.Second)
	v.SetDefault("conference.capture_debounce", 150*time.Millisecond)
	v.SetDefault("conference.recognizer", "client")

	v.SetDefault("provider.type", "openai")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.transcription_model", "whisper-1")
}

func loadEnvOverrides(cfg *Config) {
	if port := os.Getenv("DIALOGUE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if origins := os.Getenv("DIALOGUE_CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = origins
	}
	if secret := os.Getenv("DIALOGUE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("DIALOGUE_ROOM_SECRET"); secret != "" {
		cfg.Rooms.TokenSecret = secret
	}

	// Database overrides
	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
}
