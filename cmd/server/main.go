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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openfleet/dispatchmap/internal/api/handlers"
	"github.com/openfleet/dispatchmap/internal/config"
	"github.com/openfleet/dispatchmap/internal/service"
	"github.com/openfleet/dispatchmap/pkg/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting dispatchmap",
		zap.String("port", cfg.ServerPort),
		zap.String("fleet", cfg.FleetID),
		zap.String("backend", cfg.BackendURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Viewer broadcast hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// The tracking session: stream client + store + clustering + intent.
	session := service.NewSession(cfg, logger)

	wsHub.SetInitDataProvider(func() *ws.InitData {
		return &ws.InitData{
			Drivers:  session.Snapshot(),
			Clusters: session.Recompute(cfg.DefaultZoom),
			Connection: map[string]any{
				"state":   session.ConnectionState(),
				"quality": session.ConnectionQuality(),
			},
		}
	})

	if err := session.Start(ctx); err != nil {
		// Not fatal: the session keeps retrying with backoff, and viewers
		// see last-known positions with a disconnected indicator meanwhile.
		logger.Warn("initial backend connect failed, retrying in background", zap.Error(err))
	}

	// Fan session updates out to every connected viewer.
	go func() {
		for update := range session.Subscribe() {
			wsHub.BroadcastClusters(update.Clusters)
			wsHub.BroadcastConnection(map[string]any{
				"state":              update.State,
				"quality":            update.Quality,
				"reconnect_attempts": update.ReconnectAttempts,
			})
		}
	}()

	handler := handlers.NewHandler(logger, session, wsHub)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	session.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger builds the zap logger for the chosen mode.
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
