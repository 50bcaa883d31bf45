package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	Generator GeneratorConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type LogConfig struct {
	Level  string
	Format string
}

// GeneratorConfig bounds timetable generation runs.
type GeneratorConfig struct {
	MaxBacktracks       int
	TimeBudget          time.Duration
	SpreadWeight        int
	GapWeight           int
	FitWeight           int
	MaxConflictsPerUnit int
	LockTTL             time.Duration
	RunTTL              time.Duration
	Workers             int
	AllowedRoles        []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Generator = GeneratorConfig{
		MaxBacktracks:       positiveInt(v.GetInt("GENERATOR_MAX_BACKTRACKS"), 20000),
		TimeBudget:          parseDuration(v.GetString("GENERATOR_TIME_BUDGET"), 10*time.Second),
		SpreadWeight:        v.GetInt("GENERATOR_SPREAD_WEIGHT"),
		GapWeight:           v.GetInt("GENERATOR_GAP_WEIGHT"),
		FitWeight:           v.GetInt("GENERATOR_FIT_WEIGHT"),
		MaxConflictsPerUnit: positiveInt(v.GetInt("GENERATOR_MAX_CONFLICTS_PER_UNIT"), 10),
		LockTTL:             parseDuration(v.GetString("GENERATOR_LOCK_TTL"), 2*time.Minute),
		RunTTL:              parseDuration(v.GetString("GENERATOR_RUN_TTL"), time.Hour),
		Workers:             positiveInt(v.GetInt("GENERATOR_WORKERS"), 2),
		AllowedRoles:        splitAndTrim(v.GetString("GENERATOR_ROLES")),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "horario")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GENERATOR_MAX_BACKTRACKS", 20000)
	v.SetDefault("GENERATOR_TIME_BUDGET", "10s")
	v.SetDefault("GENERATOR_SPREAD_WEIGHT", 100)
	v.SetDefault("GENERATOR_GAP_WEIGHT", 10)
	v.SetDefault("GENERATOR_FIT_WEIGHT", 1)
	v.SetDefault("GENERATOR_MAX_CONFLICTS_PER_UNIT", 10)
	v.SetDefault("GENERATOR_LOCK_TTL", "2m")
	v.SetDefault("GENERATOR_RUN_TTL", "1h")
	v.SetDefault("GENERATOR_WORKERS", 2)
	v.SetDefault("GENERATOR_ROLES", "ADMIN,COORDINATOR")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func positiveInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
