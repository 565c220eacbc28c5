package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	PublicURL string
	LogFormat string

	StoreDriver string // "mongo" or "sqlite"
	MongoURI    string
	MongoDB     string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string
	AdminEmail   string

	AdminJWTSecret []byte
	WebhookSecret  []byte
	ReceiptSecret  []byte
	FilesDir       string

	CacheTTL           time.Duration
	StoreRetryAttempts int
	StoreRetryBase     time.Duration
	AmountTolerance    float64
	RefCodeAttempts    int
	TransitionReplans  int
	MinCustomBudget    float64
	FanoutBuffer       int
	NotifyQueueSize    int
	NotifyWorkers      int
	NotifySendTimeout  time.Duration
	EvidenceBudget     time.Duration
	PollMaxAttempts    int
	PollInterval       time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found; using system environment")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		PublicURL:     getEnv("PUBLIC_URL", "http://localhost:8080"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		StoreDriver:   getEnv("STORE_DRIVER", "mongo"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:       getEnv("MONGO_DB", "botstore"),
		SQLitePath:    getEnv("SQLITE_PATH", "./botstore.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPUser:      getEnv("SMTP_USER", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		MailFrom:      getEnv("MAIL_FROM", "orders@localhost"),
		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		FilesDir:      getEnv("FILES_DIR", "./files"),

		AdminJWTSecret: []byte(getEnv("ADMIN_JWT_SECRET", "")),
		WebhookSecret:  []byte(getEnv("WEBHOOK_SECRET", "")),
		ReceiptSecret:  []byte(getEnv("RECEIPT_SECRET", "")),
	}

	var p parser
	cfg.RedisDB = p.int("REDIS_DB", 0)
	cfg.SMTPPort = p.int("SMTP_PORT", 587)
	cfg.CacheTTL = p.duration("CACHE_TTL", 15*time.Minute)
	cfg.StoreRetryAttempts = p.int("STORE_RETRY_ATTEMPTS", 3)
	cfg.StoreRetryBase = p.duration("STORE_RETRY_BASE", 100*time.Millisecond)
	cfg.TransitionReplans = p.int("TRANSITION_REPLANS", 3)
	cfg.AmountTolerance = p.float("AMOUNT_TOLERANCE", 0.01)
	cfg.RefCodeAttempts = p.int("REFCODE_ATTEMPTS", 5)
	cfg.MinCustomBudget = p.float("MIN_CUSTOM_BUDGET", 10)
	cfg.FanoutBuffer = p.int("FANOUT_BUFFER", 64)
	cfg.NotifyQueueSize = p.int("NOTIFY_QUEUE_SIZE", 256)
	cfg.NotifyWorkers = p.int("NOTIFY_WORKERS", 2)
	cfg.NotifySendTimeout = p.duration("NOTIFY_SEND_TIMEOUT", 20*time.Second)
	cfg.EvidenceBudget = p.duration("EVIDENCE_BUDGET", 5*time.Second)
	cfg.PollMaxAttempts = p.int("POLL_MAX_ATTEMPTS", 20)
	cfg.PollInterval = p.duration("POLL_INTERVAL", 3*time.Second)
	if p.err != nil {
		return nil, p.err
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("PORT: %q is not a number", cfg.Port)
	}
	if cfg.StoreDriver != "mongo" && cfg.StoreDriver != "sqlite" {
		return nil, fmt.Errorf("STORE_DRIVER: unknown driver %q", cfg.StoreDriver)
	}
	if len(cfg.AdminJWTSecret) == 0 {
		slog.Warn("ADMIN_JWT_SECRET not set; admin routes will reject every token")
	}
	if len(cfg.ReceiptSecret) == 0 {
		cfg.ReceiptSecret = cfg.AdminJWTSecret
	}
	return cfg, nil
}

// NewLogger returns a JSON logger on stdout, or a text one when LOG_FORMAT=console.
func NewLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if format == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return v
}
