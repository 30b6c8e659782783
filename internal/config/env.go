package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Env struct {
	AppAddr string
	GinMode string

	DBDSN     string
	JWTSecret string

	CORSAllowedOrigins []string

	// RedisAddr switches the payment status cache, query throttle and seat
	// event broadcaster to Redis. Empty keeps them in-process.
	RedisAddr string

	KafkaBrokers  []string
	NotifyTopic   string
	NotifyWorkers int
	NotifyQueue   int

	Mpesa MpesaEnv

	HoldTTL        time.Duration
	StatusCacheTTL time.Duration
	QueryThrottle  time.Duration
}

type MpesaEnv struct {
	Environment    string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

func LoadEnv() Env {
	appAddr := strings.TrimSpace(os.Getenv("APP_ADDR"))
	if appAddr == "" {
		appAddr = ":8080"
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))

	return Env{
		AppAddr: appAddr,
		GinMode: ginMode,

		DBDSN:     getString("DB_DSN", "root:@tcp(127.0.0.1:3306)/sacco?parseTime=true&loc=UTC&charset=utf8mb4&timeout=5s&readTimeout=30s&writeTimeout=30s"),
		JWTSecret: getString("JWT_SECRET", "change-me-in-production"),

		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS"),

		RedisAddr: getString("REDIS_ADDR", ""),

		KafkaBrokers:  getList("KAFKA_BROKERS"),
		NotifyTopic:   getString("NOTIFY_TOPIC", "sacco.notifications"),
		NotifyWorkers: getInt("NOTIFY_WORKERS", 2),
		NotifyQueue:   getInt("NOTIFY_QUEUE", 256),

		Mpesa: MpesaEnv{
			Environment:    getString("MPESA_ENVIRONMENT", "sandbox"),
			ConsumerKey:    getString("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getString("MPESA_CONSUMER_SECRET", ""),
			ShortCode:      getString("MPESA_SHORT_CODE", "174379"),
			Passkey:        getString("MPESA_PASSKEY", ""),
			CallbackURL:    getString("MPESA_CALLBACK_URL", "http://localhost:8080/api/payments/callback/mpesa"),
		},

		HoldTTL:        getDuration("HOLD_TTL", 10*time.Minute),
		StatusCacheTTL: getDuration("STATUS_CACHE_TTL", 30*time.Second),
		QueryThrottle:  getDuration("QUERY_THROTTLE", 15*time.Second),
	}
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
