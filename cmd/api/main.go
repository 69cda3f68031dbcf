package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "receivables/api/swagger" // swagger docs
	"receivables/internal/client"
	"receivables/internal/database"
	"receivables/internal/event"
	"receivables/internal/gateway"
	"receivables/internal/handler"
	"receivables/internal/middleware"
	"receivables/internal/model"
	"receivables/internal/repository"
	"receivables/internal/service"
	"receivables/internal/websocket"
	"receivables/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title           Receivables Approval & Origination API
// @version         1.0
// @description     Approval workflow and ACH payment origination engine for the receivables platform.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}
	defer logger.Sync()

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	dbSslMode := os.Getenv("DB_SSLMODE")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == "" {
		dbPort = "5432"
	}
	if dbUser == "" {
		dbUser = "postgres"
	}
	if dbPassword == "" {
		dbPassword = "postgres"
	}
	if dbName == "" {
		dbName = "postgres"
	}
	if dbSslMode == "" {
		dbSslMode = "disable"
	}

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	logger.Info("connected to postgres")

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	ruleRepo := repository.NewRuleRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	payorDirectory := client.NewStaticPayorDirectory()
	paymentGateway := gateway.NewSandboxGateway(logger)
	alerter := gateway.NewLogAlerter(logger)

	ruleService := service.NewRuleService(ruleRepo, auditRepo, txManager)
	approvalService := service.NewApprovalService(approvalRepo, auditRepo, outboxRepo, ruleService, txManager, logger)
	originationService := service.NewOriginationService(
		paymentRepo, batchRepo, approvalRepo, auditRepo, outboxRepo,
		payorDirectory, paymentGateway, txManager, logger,
	)
	lifecycleService := service.NewLifecycleService(paymentRepo, auditRepo, outboxRepo, alerter, txManager, logger)
	auditService := service.NewAuditService(auditRepo)

	// Event bus: outbox rows are dispatched here at least once.
	bus := event.NewBus()
	bus.Subscribe(model.EventChainCompleted, originationService.HandleChainCompleted)
	bus.Subscribe(model.EventSlotApproved, func(ctx context.Context, ev model.OutboxEvent) error {
		wsHub.Notify("approval.slot_approved", ev)
		return nil
	})
	bus.Subscribe(model.EventChainRejected, func(ctx context.Context, ev model.OutboxEvent) error {
		wsHub.Notify("approval.chain_rejected", ev)
		return nil
	})
	bus.Subscribe(model.EventPaymentReturned, func(ctx context.Context, ev model.OutboxEvent) error {
		wsHub.Notify("payment.returned", ev)
		return nil
	})

	// Background workers
	manager := worker.NewManager(logger)
	manager.Register(worker.NewOutboxWorker(outboxRepo, bus, logger))
	manager.Register(worker.NewBatchWindowWorker(
		batchRepo, originationService,
		envDuration("BATCH_CHECK_INTERVAL", 30*time.Second),
		envDuration("BATCH_WINDOW", 15*time.Minute),
		logger,
	))

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if err := manager.StartAll(workerCtx); err != nil {
		logger.Fatal("worker startup failed", zap.Error(err))
	}

	// Initialize Handlers
	ruleHandler := handler.NewRuleHandler(ruleService)
	approvalHandler := handler.NewApprovalHandler(approvalService)
	paymentHandler := handler.NewPaymentHandler(lifecycleService, originationService)
	batchHandler := handler.NewBatchHandler(originationService)
	gatewayHandler := handler.NewGatewayHandler(lifecycleService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	ruleHandler.RegisterRoutes(router.Group(""))
	approvalHandler.RegisterRoutes(router.Group(""))
	paymentHandler.RegisterRoutes(router.Group(""))
	batchHandler.RegisterRoutes(router.Group(""))
	gatewayHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown: stop accepting requests, then stop workers so no
	// outbox dispatch is cut off mid-batch.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancelWorkers()
	if err := manager.StopAll(); err != nil {
		logger.Error("worker shutdown failed", zap.Error(err))
	}
	logger.Info("stopped")
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("GIN_MODE") == "release" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
