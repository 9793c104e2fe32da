package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/auth"
	"messaging-service/internal/config"
	"messaging-service/internal/crypto"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	// Content key derivation is deliberately slow; it runs once at startup.
	cipher, err := crypto.New(cfg.MessageSecret, cfg.MessageKDFSalt, cfg.MessageKDFCost)
	if err != nil {
		log.Fatalf("failed to init content cipher: %v", err)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}()

	if cfg.AMQPURL != "" {
		eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("event publisher disabled: %v", err)
		} else {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		}
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.Mode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRoutingKey, "messaging-service", cfg.Environment)

	messageRepo := repositories.NewMessageRepo(database)
	listingRepo := repositories.NewListingRepo(database)
	userRepo := repositories.NewUserRepo(database)

	registry := ws.NewRegistry()
	relay := ws.NewRelayHandler(registry, verifier, userRepo, messageRepo, cipher)
	messageHandler := handlers.NewMessageHandler(messageRepo, listingRepo, userRepo, cipher, auditEmitter)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		observability.HTTPMetricsMiddleware(),
		otelgin.Middleware("messaging-service"),
	)

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.POST("/api/messages", authMiddleware, messageHandler.SendMessage)
	router.GET("/api/messages/conversation/:user_id", authMiddleware, messageHandler.GetConversation)
	router.GET("/api/messages/listing/:listing_id", authMiddleware, messageHandler.GetListingMessages)
	router.GET("/api/messages/listing/:listing_id/owner", authMiddleware, messageHandler.GetOwnerConversations)

	router.GET("/ws", relay.Handle)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.AuditEnabled)

	if err := router.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
