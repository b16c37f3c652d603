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

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"boardmarket/chatservice/internal/chat"
	"boardmarket/chatservice/internal/config"
	"boardmarket/chatservice/internal/httpapi"
	"boardmarket/chatservice/internal/logging"
	"boardmarket/chatservice/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("initialize logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	chatMetrics := metrics.New(promRegistry)

	registry := chat.NewRegistry(cfg,
		chat.WithLogger(logger),
		chat.WithMetrics(chatMetrics),
	)

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:   logger,
		Registry: registry,
		Config:   cfg,
		Gatherer: promRegistry,
	})
	router := mux.NewRouter()
	handlers.Register(router)
	router.Use(logging.HTTPTraceMiddleware(logger))

	server := &http.Server{
		Addr:    cfg.Address,
		Handler: router,
	}

	go func() {
		logger.Info("chat service listening", logging.String("addr", cfg.Address))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", logging.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("chat service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", logging.Error(err))
	}
	registry.Close()
}
