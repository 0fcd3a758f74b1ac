// Command server runs the badge progression engine: a Kafka intake feeding
// the rule evaluation pipeline, plus the HTTP surface for configuration,
// progress reads, and issuer webhooks.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"insignia/internal/badges/handler"
	"insignia/internal/badges/intake"
	badgemetrics "insignia/internal/badges/metrics"
	"insignia/internal/badges/service"
	"insignia/internal/badges/store"
	"insignia/internal/events"
	"insignia/internal/issuer"
	"insignia/internal/issuer/accredible"
	"insignia/internal/issuer/credly"
	"insignia/internal/platform/config"
	"insignia/internal/platform/httpserver"
	"insignia/internal/platform/kafka/consumer"
	"insignia/internal/platform/logger"
	"insignia/internal/platform/redis"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := events.Load(cfg.EventRegistryPath)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	pg := store.NewPostgres(db)
	txRunner := store.NewPostgresTxRunner(db)

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	svc, err := service.New(pg, registry, service.WithLogger(log))
	if err != nil {
		return err
	}

	issuers := issuer.NewRegistry()
	issuers.Register(issuer.KindInternal, issuer.NewInternal())

	router := chi.NewRouter()

	if cfg.Credly.OrganizationID != "" {
		credlyClient, err := credly.New(credly.Config{
			APIBaseURL:     cfg.Credly.APIBaseURL,
			OrganizationID: cfg.Credly.OrganizationID,
			APIKey:         cfg.Credly.APIKey,
		}, credly.WithLogger(log))
		if err != nil {
			return err
		}
		issuers.Register(issuer.KindCredly, credlyClient)
		credly.NewWebhook(pg, cfg.Credly.WebhookSecret, log).Register(router)
	}

	if cfg.Accredible.APIKey != "" {
		groupID, err := strconv.ParseInt(cfg.Accredible.GroupID, 10, 64)
		if err != nil {
			return errors.New("INSIGNIA_ACCREDIBLE_GROUP_ID must be numeric")
		}
		accredibleClient, err := accredible.New(accredible.Config{
			APIBaseURL: cfg.Accredible.APIBaseURL,
			APIKey:     cfg.Accredible.APIKey,
			GroupID:    groupID,
		}, accredible.WithLogger(log))
		if err != nil {
			return err
		}
		issuers.Register(issuer.KindAccredible, accredibleClient)
	}

	bridge, err := issuer.NewBridge(pg, issuers, log)
	if err != nil {
		return err
	}

	dispatcher := service.NewDispatcher(log)
	dispatcher.Register(bridge)

	engineMetrics := badgemetrics.New()
	processor, err := service.NewProcessor(txRunner, dispatcher, log,
		service.WithProcessorMetrics(engineMetrics))
	if err != nil {
		return err
	}

	var intakeOpts []intake.HandlerOption
	if redisClient != nil {
		intakeOpts = append(intakeOpts,
			intake.WithDeduper(intake.NewRedisDeduper(redisClient, cfg.Redis.DedupTTL)))
	}
	intakeHandler, err := intake.NewHandler(processor, registry, log, intakeOpts...)
	if err != nil {
		return err
	}

	// One topic per event type unless the deployment overrides the list.
	topics := cfg.Kafka.Topics
	if len(topics) == 0 {
		topics = registry.Types()
	}
	if err := consumer.EnsureTopics(ctx, cfg.Kafka.Brokers, topics...); err != nil {
		return err
	}
	kafkaConsumer, err := consumer.New(consumer.Config{
		Brokers: cfg.Kafka.Brokers,
		Group:   cfg.Kafka.Group,
		Topics:  topics,
	}, intakeHandler, log)
	if err != nil {
		return err
	}
	defer kafkaConsumer.Close()

	handler.New(svc, log, []byte(cfg.AdminJWTSigningKey)).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting event intake", "topics", topics, "group", cfg.Kafka.Group)
		return kafkaConsumer.Run(groupCtx)
	})

	group.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
