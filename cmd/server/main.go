package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catering-service/config"
	"catering-service/internal/api"
	"catering-service/internal/broker"
	"catering-service/internal/catalog"
	"catering-service/internal/notify"
	"catering-service/internal/payment"
	"catering-service/internal/redisclient"
	"catering-service/internal/security"
	"catering-service/internal/service"
	"catering-service/internal/store"
	"catering-service/internal/util"
	"catering-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// mongoPinger adapts the mongo client to the readiness probe
type mongoPinger struct {
	client *mongo.Client
}

func (m mongoPinger) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting catering service")

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL, cfg.Business.StorePrefix)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	mongoCtx, mongoCancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoClient, mongoDB, err := catalog.Connect(mongoCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	mongoCancel()
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Error("Error disconnecting MongoDB", zap.Error(err))
		}
	}()
	logger.Info("MongoDB connected")

	products := catalog.NewCached(
		catalog.Chain{
			catalog.NewMenuSource(mongoDB, cfg.Mongo.MenuCollection),
			catalog.NewAlcoholSource(mongoDB, cfg.Mongo.AlcoholCollection),
		},
		redisClient,
		cfg.Business.CatalogCacheTTL,
	)

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	signer := security.NewSigner(cfg.Payment.SigningSecret, cfg.Payment.NotificationSecret)
	piiCodec, err := security.NewPIICodec(cfg.Security.PIISecret)
	if err != nil {
		logger.Fatal("Failed to initialize PII codec", zap.Error(err))
	}
	csrfGuard := security.NewCSRFGuard(cfg.Security.CSRFSecret)

	paymentClient := payment.NewClient(payment.Config{
		Endpoint:        cfg.Payment.Endpoint,
		MerchantID:      cfg.Payment.MerchantID,
		Currency:        cfg.Business.Currency.String(),
		ReturnURL:       cfg.Payment.ReturnURL,
		NotificationURL: cfg.Payment.NotificationURL,
		Timeout:         cfg.Payment.Timeout,
	}, signer)

	renderer, err := notify.NewRenderer()
	if err != nil {
		logger.Fatal("Failed to parse notification templates", zap.Error(err))
	}

	var emailSender notify.EmailSender
	if cfg.Email.SMTPHost != "" {
		emailSender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			Timeout:  cfg.Email.Timeout,
		})
	}

	var chatSender notify.ChatSender
	if cfg.Chat.BotToken != "" && cfg.Chat.ChatID != "" {
		chatSender = notify.NewTelegramSender(notify.TelegramConfig{
			APIBase:  cfg.Chat.APIBase,
			BotToken: cfg.Chat.BotToken,
			ChatID:   cfg.Chat.ChatID,
			Timeout:  cfg.Chat.Timeout,
		})
	} else {
		logger.Warn("Telegram not configured, operator chat alerts disabled")
	}

	dispatcher := notify.NewDispatcher(renderer, emailSender, chatSender, cfg.Email.OperatorEmail, cfg.Email.Timeout)

	checkoutService := service.NewCheckoutService(
		db,
		service.NewPriceAuthority(products),
		paymentClient,
		redisClient,
		eventPublisher,
		csrfGuard,
		piiCodec,
		service.CheckoutConfig{
			DeliveryFee: cfg.Business.DeliveryFee,
			LockTTL:     cfg.Business.CheckoutLockTTL,
		},
	)
	settlementService := service.NewSettlementService(db, signer, piiCodec, dispatcher, eventPublisher, cfg.Business.Currency)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	auditConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	auditWorker := worker.NewAuditWorker(auditConsumer, db)
	go func() {
		if err := auditWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Audit worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(checkoutService, settlementService, csrfGuard, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
		"mongodb":  mongoPinger{client: mongoClient},
	}, cfg.Security.CookieSecure)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := auditWorker.Stop(); err != nil {
		logger.Error("Error stopping audit worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
