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

	"relay/audit"
	"relay/bus"
	"relay/core"
	"relay/middlewares"
	"relay/registry"
)

func main() {
	core.LoadEnvs()
	logger := core.NewLogger()
	defer logger.Sync()

	config := audit.LoadConfig()

	core.ConnectDB()
	db := core.GetDB()
	if db == nil {
		logger.Fatal("database connection unavailable")
	}
	if err := db.AutoMigrate(audit.GetModels()...); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Replicas share a queue group so they compete for messages
	// instead of each writing a row; the unique event_id index covers
	// redeliveries.
	eventBus, err := bus.ConnectNATS(bus.NATSConfig{
		URL:        natsURL(),
		QueueGroup: queueGroup(config.ServiceName),
		Name:       config.ServiceName,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}

	service := audit.NewService(db, eventBus, config, logger)
	if err := service.StartIntake(); err != nil {
		logger.Fatal("failed to start intake", zap.Error(err))
	}

	registryClient := connectRegistry(config.ServiceName, config.HTTPPort, logger)

	router := gin.Default()
	router.Use(middlewares.CORSMiddleware())

	controller := audit.NewController(service)
	router.GET("/health", controller.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	audit.RegisterRoutes(router.Group("/api/v1/audit"), controller)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("audit service listening", zap.Int("port", config.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}

	service.StopIntake()

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

	if err := client.Register(name, port, []string{"audit"}, map[string]string{
		"protocol": "http",
	}); err != nil {
		logger.Warn("registry registration failed", zap.Error(err))
		return nil
	}

	return client
}
