package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"docqa-platform/internal/bootstrap"
	"docqa-platform/internal/logger"
	"docqa-platform/middleware"
	"docqa-platform/routes"
)

const serviceName = "docqa-api"

func main() {
	app, err := bootstrap.New(context.Background(), serviceName)
	if err != nil {
		log.Fatal("Failed to start application:", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Shutdown finished with errors", "error", err)
		}
	}()
	cfg := app.Config

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware(serviceName))
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.MetricsMiddleware(app.Metrics))
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	// Multipart overhead on top of the largest allowed upload.
	router.Use(middleware.RequestSizeLimit(cfg.MaxFileSize + 1<<20))

	routes.SetupRoutes(router, routes.Deps{
		Config:      cfg,
		Tokens:      app.Tokens,
		RateLimiter: app.Redis,
		Ingestion:   app.Ingestion,
		QA:          app.QA,
		Maintenance: app.Maintenance,
		Queue:       app.Queue,
		Monitor:     app.Monitor,
		Side:        app.Side,
		Checks:      app.HealthChecks(),
		StartedAt:   app.StartedAt,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port, "relational_db", cfg.RelationalDB, "vector_db", app.Retriever.Backend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
