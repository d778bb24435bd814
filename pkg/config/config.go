package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Env                string
	Port               string
	APIToken           string
	DBPath             string
	SeedDemoData       bool
	ExpansionStatePath string
	NATS               NATSConfig
	Log                LogConfig
}

type NATSConfig struct {
	Enabled bool
	Port    int
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Load reads configuration from the environment, loading .env first when
// one is present in the working directory.
func Load() (Config, error) {
	envLoaded := godotenv.Load() == nil

	cfg := Config{
		Env:                getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		APIToken:           getEnv("API_BEARER_TOKEN", "hierarchy-dev-token"),
		DBPath:             getEnv("DB_PATH", "./db/hierarchy.db"),
		SeedDemoData:       getEnvBool("SEED_DEMO_DATA", false),
		ExpansionStatePath: getEnv("EXPANSION_STATE_PATH", "./data/expansion-state.json"),
		NATS: NATSConfig{
			Enabled: getEnvBool("NATS_ENABLED", true),
			Port:    getEnvInt("NATS_PORT", 4222),
			DataDir: getEnv("NATS_DATA_DIR", "./data/nats"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if envLoaded {
		logrus.Debug("Loaded configuration from .env file")
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// MaskedToken returns the API token with all but its first four characters
// hidden, for log output.
func (c Config) MaskedToken() string {
	const visible = 4
	if len(c.APIToken) <= visible {
		return strings.Repeat("*", len(c.APIToken))
	}
	return c.APIToken[:visible] + strings.Repeat("*", len(c.APIToken)-visible)
}

// SetupLogger configures the global logrus logger.
func SetupLogger(cfg LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)

	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if err != nil {
		logrus.WithField("level", cfg.Level).Warn("Unknown log level, using info")
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
