package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the portal API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	FirestoreProject string
	CredentialsFile  string

	QueueCollection   string
	LiveCollection    string
	ClaimedCollection string
	UsersCollection   string

	RedisAddr     string
	RedisPassword string
	NameCacheTTL  time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	BulkAttempts  int
	BulkBaseDelay time.Duration

	SMSEndpoint string
	SMSKey      string

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		QueueCollection:   "rideQueue",
		LiveCollection:    "liveRides",
		ClaimedCollection: "claimedRides",
		UsersCollection:   "userAccess",
		NameCacheTTL:      15 * time.Minute,
		KafkaTopic:        "ride-events",
		BulkAttempts:      3,
		BulkBaseDelay:     100 * time.Millisecond,
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.FirestoreProject = strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT"))
	cfg.CredentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))

	setStringFromEnv(&cfg.QueueCollection, "QUEUE_COLLECTION")
	setStringFromEnv(&cfg.LiveCollection, "LIVE_COLLECTION")
	setStringFromEnv(&cfg.ClaimedCollection, "CLAIMED_COLLECTION")
	setStringFromEnv(&cfg.UsersCollection, "USERS_COLLECTION")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.NameCacheTTL, "NAME_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.BulkAttempts, "BULK_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.BulkBaseDelay, "BULK_BASE_DELAY", &errs)

	cfg.SMSEndpoint = strings.TrimSpace(os.Getenv("SMS_ENDPOINT"))
	cfg.SMSKey = os.Getenv("SMS_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.BulkAttempts <= 0 {
		errs = append(errs, fmt.Errorf("BULK_ATTEMPTS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
