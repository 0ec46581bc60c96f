// The notifier consumes ride lifecycle events from Kafka and texts drivers
// their claim confirmations. It runs separately from the API so a slow SMS
// gateway never backs up claim traffic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"google.golang.org/api/option"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/store"
)

var (
	eventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total ride events consumed",
	})
	eventsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total undecodable events received",
	})
	smsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_sms_sent_total",
		Help: "Total claim SMS delivered to the gateway",
	})
	smsErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_sms_errors_total",
		Help: "Total SMS sends that exhausted retries",
	})
	smsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_sms_skipped_total",
		Help: "Total claim events skipped for lack of a phone number",
	})
)

// sender is the SMS gateway surface; faked in tests.
type sender interface {
	Send(ctx context.Context, to, body string) error
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-dispatch-notifier"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.FirestoreProject != "" {
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		fs, err := store.NewFirestoreStore(ctx, cfg.FirestoreProject, opts...)
		if err != nil {
			logger.Error("firestore init failed", "project", cfg.FirestoreProject, "error", err)
			os.Exit(1)
		}
		defer fs.Close()
		st = fs
	} else {
		logger.Warn("FIRESTORE_PROJECT not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	var cache directory.Cache
	if cfg.RedisAddr != "" {
		rc := directory.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.NameCacheTTL)
		defer rc.Close()
		cache = rc
	}
	dir := directory.New(st, cfg.UsersCollection, cache, logger)

	if cfg.SMSEndpoint == "" {
		logger.Error("SMS_ENDPOINT is required")
		os.Exit(1)
	}
	sms := notify.NewSMSSender(cfg.SMSEndpoint, cfg.SMSKey)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	logger.Info("notifier consuming", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down notifier")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		eventsConsumed.Inc()

		var event models.RideEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			eventsInvalid.Inc()
			logger.Warn("invalid event", "error", err)
			continue
		}
		handleEvent(ctx, logger, dir, sms, event)
	}
}

func handleEvent(ctx context.Context, logger *slog.Logger, dir *directory.Directory, sms sender, event models.RideEvent) {
	if event.Type != models.EventClaim {
		return
	}
	record, ok, err := dir.Lookup(ctx, event.Driver)
	if err != nil || !ok || record.Phone == "" {
		smsSkipped.Inc()
		return
	}
	body := notify.ComposeSMS(event.RideID, event.Ride)
	if err := sendWithRetry(ctx, sms, record.Phone, body, 3, 200*time.Millisecond); err != nil {
		smsErrors.Inc()
		logger.Warn("sms send failed", "ride_id", event.RideID, "driver", event.Driver, "error", err)
		return
	}
	smsSent.Inc()
}

func sendWithRetry(ctx context.Context, sms sender, to, body string, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sms.Send(ctx, to, body); err != nil {
			lastErr = err
			if i < attempts-1 {
				time.Sleep(delay)
				delay *= 2
			}
			continue
		}
		return nil
	}
	return lastErr
}
