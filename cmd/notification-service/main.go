package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"relay/bus"
	"relay/core"
	"relay/middlewares"
	"relay/notifications"
	"relay/notifications/channels"
	"relay/registry"
)

func main() {
	core.LoadEnvs()
	logger := core.NewLogger()
	defer logger.Sync()

	config := notifications.LoadConfig()

	core.ConnectDB()
	db := core.GetDB()
	if db == nil {
		logger.Fatal("database connection unavailable")
	}
	if err := db.AutoMigrate(notifications.GetModels()...); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	eventBus, err := bus.ConnectNATS(bus.NATSConfig{
		URL:        natsURL(),
		QueueGroup: queueGroup(config.ServiceName),
		Name:       config.ServiceName,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}

	service := notifications.NewService(db, eventBus, config, logger)
	service.RegisterAdapter(channels.NewEmailAdapter(channels.EmailConfig{
		FromEmail:    os.Getenv("SMTP_FROM_EMAIL"),
		FromName:     os.Getenv("SMTP_FROM_NAME"),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
	}))
	service.RegisterAdapter(channels.NewPushAdapter(db, channels.PushConfig{
		APIEndpoint: os.Getenv("PUSH_API_ENDPOINT"),
		ServerKey:   os.Getenv("PUSH_SERVER_KEY"),
		Timeout:     config.ProviderTimeout,
	}))
	service.RegisterAdapter(channels.NewInAppAdapter(db, config.InAppMarkDelivered))
	service.RegisterAdapter(channels.NewWebhookAdapter(channels.WebhookConfig{
		SigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),
		Timeout:       config.ProviderTimeout,
	}))
	service.RegisterAdapter(channels.NewSMSAdapter(channels.SMSConfig{
		APIEndpoint: os.Getenv("SMS_API_ENDPOINT"),
		AccountSID:  os.Getenv("SMS_ACCOUNT_SID"),
		AuthToken:   os.Getenv("SMS_AUTH_TOKEN"),
		FromNumber:  os.Getenv("SMS_FROM_NUMBER"),
		Timeout:     config.ProviderTimeout,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := notifications.NewDispatcher(service, logger)
	dispatcher.Start(ctx)

	triggers := notifications.NewEventTriggers(service, logger)
	if err := triggers.Start(eventBus); err != nil {
		logger.Fatal("failed to subscribe event triggers", zap.Error(err))
	}

	registryClient := connectRegistry(config.ServiceName, config.HTTPPort, logger)

	router := gin.Default()
	router.Use(middlewares.CORSMiddleware())

	controller := notifications.NewController(service)
	router.GET("/health", controller.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	notifications.RegisterRoutes(router.Group("/api/v1/notifications"), controller)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("notification service listening", zap.Int("port", config.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Shutdown order: HTTP first, then bus handlers, then the delivery
	// queue drain, then registry and connections.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}

	triggers.Stop()
	dispatcher.Stop()

	if registryClient != nil {
		if err := registryClient.Deregister(); err != nil {
			logger.Warn("deregister failed", zap.Error(err))
		}
	}

	if err := eventBus.Close(); err != nil {
		logger.Warn("bus close error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func natsURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return "nats://localhost:4222"
}

// queueGroup defaults to the service name so replicas compete for
// messages instead of each receiving a copy.
func queueGroup(serviceName string) string {
	if group := os.Getenv("NATS_QUEUE_GROUP"); group != "" {
		return group
	}
	return serviceName
}

// connectRegistry registers with consul when one is configured. The
// service keeps running without discovery otherwise.
func connectRegistry(name string, port int, logger *zap.Logger) *registry.Client {
	host := os.Getenv("CONSUL_HOST")
	if host == "" {
		logger.Info("no registry configured, skipping registration")
		return nil
	}

	registryConfig := registry.DefaultConfig()
	registryConfig.Host = host

	client, err := registry.NewClient(registryConfig, logger)
	if err != nil {
		logger.Warn("failed to create registry client", zap.Error(err))
		return nil
	}

	if err := client.Register(name, port, []string{"notifications"}, map[string]string{
		"protocol": "http",
	}); err != nil {
		logger.Warn("registry registration failed", zap.Error(err))
		return nil
	}

	return client
}
