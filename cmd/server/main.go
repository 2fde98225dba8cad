package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"payment_processing/internal/cache"
	"payment_processing/internal/config"
	"payment_processing/internal/gateway"
	"payment_processing/internal/handlers"
	"payment_processing/internal/kafka"
	"payment_processing/internal/metrics"
	"payment_processing/internal/repository"
	"payment_processing/internal/service"

	"github.com/go-chi/chi/v5"
)

func main() {
	ctx := context.Background()
	logger := log.Default()

	// ---------- config ----------
	cfg := config.Load()

	// ---------- db ----------
	if err := repository.RunMigrations(cfg.DBDSN, cfg.MigrationsDir); err != nil {
		log.Fatal("migrations:", err)
	}

	pool, err := repository.NewPool(cfg.DBDSN)
	if err != nil {
		log.Fatal("db:", err)
	}
	defer pool.Close()

	// ---------- repositories ----------
	paymentRepo := repository.NewPaymentRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool, cfg.OutboxMaxRetries)

	// ---------- redis cache ----------
	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisCache.Close()

	// ---------- metrics ----------
	metrics.Register()
	metrics.StartDBCollectors(ctx, paymentRepo, outboxRepo, 10*time.Second, logger)
	cache.StartRedisSizeCollector(ctx, redisCache.Client(), 30*time.Second, logger)

	// ---------- kafka producer ----------
	producer, err := kafka.NewSyncProducer(cfg.KafkaBrokers, cfg.EventsTopic, cfg.DLQTopic)
	if err != nil {
		log.Fatal("kafka producer:", err)
	}
	defer producer.Close()

	// ---------- saga command handlers ----------
	gw := gateway.NewSimulated(cfg.GatewaySuccessPercent, cfg.GatewayDelay)
	paymentService := service.NewPaymentService(pool, paymentRepo, outboxRepo, gw, cfg.GatewayTimeout, logger)

	// ---------- kafka consumer ----------
	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaGroupID,
		cfg.ProcessTopic,
		cfg.CompensateTopic,
		paymentService,
		producer,
		kafka.DefaultRetryPolicy(),
		redisCache,
		logger,
	)
	if err != nil {
		log.Fatal("kafka consumer:", err)
	}
	defer consumer.Close()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Printf("consumer stopped: %v", err)
		}
	}()

	// ---------- dead-letter monitor ----------
	dlqMonitor, err := kafka.NewDLQMonitor(cfg.KafkaBrokers, cfg.DLQGroupID, cfg.DLQTopic, logger)
	if err != nil {
		log.Fatal("dlq monitor:", err)
	}
	defer dlqMonitor.Close()

	go func() {
		if err := dlqMonitor.Start(ctx); err != nil {
			logger.Printf("dlq monitor stopped: %v", err)
		}
	}()

	// ---------- outbox relay ----------
	relay := service.NewOutboxRelay(
		outboxRepo,
		producer,
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxRetentionDays,
		cfg.OutboxMaxRetries,
		logger,
	)
	relay.Start(ctx)

	// ---------- handlers ----------
	h := handlers.NewPaymentHandler(paymentService, paymentRepo, redisCache, cfg.CacheTTL)

	// ---------- router ----------
	r := chi.NewRouter()
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	handlers.RegisterPaymentRoutes(r, h)

	// ---------- start server ----------
	addr := ":" + cfg.HTTPPort
	log.Println("server starting on", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal(err)
	}
}
