package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/checkout"
	"github.com/billmalea/devshop-checkout/internal/circuitbreaker"
	"github.com/billmalea/devshop-checkout/internal/delivery"
	"github.com/billmalea/devshop-checkout/internal/events"
	"github.com/billmalea/devshop-checkout/internal/metrics"
	"github.com/billmalea/devshop-checkout/internal/payment"
	"github.com/billmalea/devshop-checkout/internal/store"
	"github.com/billmalea/devshop-checkout/internal/webhooks"
	"github.com/billmalea/devshop-checkout/internal/ws"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Database configuration
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "checkout")
	dbPassword := getEnv("DB_PASSWORD", "checkout")
	dbName := getEnv("DB_NAME", "checkout")

	// Kafka configuration
	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")

	// Service configuration
	port := getEnv("CHECKOUT_SERVICE_PORT", "8080")

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPassword, dbName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			logger.Info("Database connection established")
			break
		}
		logger.Info("Waiting for database...")
		time.Sleep(2 * time.Second)
	}

	orderStore := store.New(db, logger)
	if err := orderStore.CreateTables(); err != nil {
		logger.WithError(err).Fatal("Failed to create tables")
	}

	producer, err := events.NewKafkaProducer(kafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	// Redis is optional: without it location listings skip the cache.
	var locationCache *delivery.LocationCache
	if redisAddr := getEnv("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: getEnv("REDIS_PASSWORD", ""),
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unavailable, location cache disabled")
		} else {
			locationCache = delivery.NewLocationCache(rdb, 15*time.Minute, logger)
			logger.Info("Redis location cache enabled")
		}
		cancel()
	}

	paymentBreaker := circuitbreaker.New(circuitbreaker.Config{
		Name:         getEnv("PAYMENT_PROVIDER", "tinypesa"),
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}, logger)

	paymentService, err := payment.NewService(payment.Config{
		Provider: getEnv("PAYMENT_PROVIDER", "tinypesa"),
		Mpesa: payment.MpesaConfig{
			BaseURL:        getEnv("MPESA_BASE_URL", ""),
			ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:      getEnv("MPESA_SHORT_CODE", ""),
			Passkey:        getEnv("MPESA_PASSKEY", ""),
			CallbackURL:    getEnv("MPESA_CALLBACK_URL", ""),
		},
		TinyPesa: payment.TinyPesaConfig{
			BaseURL: getEnv("TINYPESA_BASE_URL", ""),
			APIKey:  getEnv("TINYPESA_API_KEY", ""),
		},
	}, paymentBreaker, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure payment provider")
	}

	deliveryBreaker := circuitbreaker.New(circuitbreaker.Config{
		Name:         "pickup-mtaani",
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}, logger)

	deliveryClient, err := delivery.NewClient(
		getEnv("PICKUP_MTAANI_BASE_URL", "https://api.pickupmtaani.com/api/v1"),
		getEnv("PICKUP_MTAANI_API_KEY", ""),
		deliveryBreaker, locationCache, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure delivery network client")
	}

	if webhookURL := getEnv("DELIVERY_WEBHOOK_URL", ""); webhookURL != "" {
		registerCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := deliveryClient.RegisterWebhook(registerCtx, webhookURL); err != nil {
			logger.WithError(err).Warn("Failed to register delivery webhook URL")
		}
		cancel()
	}

	hub := ws.NewHub(logger)
	go hub.Run()

	fallbackFee, err := decimal.NewFromString(getEnv("FALLBACK_DELIVERY_FEE", "200"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid FALLBACK_DELIVERY_FEE")
	}

	orchestrator := checkout.NewOrchestrator(orderStore, paymentService, deliveryClient,
		producer, fallbackFee, logger)
	checkoutHandler := checkout.NewHandler(orchestrator, logger)
	paymentHandler := payment.NewHandler(paymentService, logger)
	deliveryHandler := delivery.NewHandler(deliveryClient, logger)
	webhookHandler := webhooks.NewHandler(orderStore, producer, hub, logger)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck(db)).Methods("GET")
	router.HandleFunc("/checkout", checkoutHandler.Checkout).Methods("POST")

	router.HandleFunc("/payments/stk", paymentHandler.InitiateSTK).Methods("POST")
	router.HandleFunc("/payments/status", paymentHandler.PaymentStatus).Methods("GET")
	router.HandleFunc("/payments/mpesa/callback", webhookHandler.MpesaCallback).Methods("POST")
	router.HandleFunc("/payments/tinypesa/callback", webhookHandler.TinyPesaCallback).Methods("POST")

	router.HandleFunc("/webhooks/pickup-mtaani", webhookHandler.DeliveryWebhook).Methods("POST")
	router.HandleFunc("/webhooks/pickup-mtaani", webhookHandler.DeliveryWebhookLiveness).Methods("GET")

	router.HandleFunc("/delivery/zones", deliveryHandler.ListZones).Methods("GET")
	router.HandleFunc("/delivery/areas", deliveryHandler.ListAreas).Methods("GET")
	router.HandleFunc("/delivery/locations", deliveryHandler.ListAgentLocations).Methods("GET")
	router.HandleFunc("/delivery/agents", deliveryHandler.ListAgents).Methods("GET")
	router.HandleFunc("/delivery/doorstep-destinations", deliveryHandler.ListDoorstepDestinations).Methods("GET")
	router.HandleFunc("/delivery/charge", deliveryHandler.DeliveryCharge).Methods("GET")

	router.HandleFunc("/ws", hub.HandleWebSocket)
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	router.Use(loggingMiddleware(logger))
	router.Use(metrics.Middleware)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting checkout service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func healthCheck(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","service":"checkout-service"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"checkout-service"}`))
	}
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Info("Request received")

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
