package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ExchangeRate          decimal.Decimal
	MinBillableMinutes    int64
	SequenceLocation      *time.Location
	LogLevel              string
	LogFormat             string
	MetricsEnabled        bool
	NotifyChannel         string
}

// LoadDotEnv reads .env files when present. Variables already set in the
// process environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	rate, err := decimal.NewFromString(getEnv("EXCHANGE_RATE_USD_TO_LBP", "89500"))
	if err != nil || !rate.IsPositive() {
		rate = decimal.NewFromInt(89500)
	}
	minBillable, err := strconv.ParseInt(getEnv("MIN_BILLABLE_MINUTES", "0"), 10, 64)
	if err != nil || minBillable < 0 {
		minBillable = 0
	}
	loc, err := time.LoadLocation(getEnv("SEQUENCE_TIMEZONE", "Local"))
	if err != nil {
		loc = time.Local
	}
	metricsEnabled, err := strconv.ParseBool(getEnv("METRICS_ENABLED", "true"))
	if err != nil {
		metricsEnabled = true
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ExchangeRate:          rate,
		MinBillableMinutes:    minBillable,
		SequenceLocation:      loc,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		MetricsEnabled:        metricsEnabled,
		NotifyChannel:         getEnv("NOTIFY_CHANNEL", "pc:commands"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
