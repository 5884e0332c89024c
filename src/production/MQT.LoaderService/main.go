package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	container "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Container"
	mqtloader "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Loader"
	"gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Startup/health"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewLoaderContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	cfg := ctr.GetConfig()
	logger.Info("Starting reading loader")
	ctr.WritePIDFile(cfg.Process.PIDFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := ctr.GetStore()
	if err != nil {
		logger.FatalWithError(err, "Failed to connect to reading store")
	}

	aliases, err := config.LoadAliasFile(cfg.AliasFile, config.DefaultLoaderAliases())
	if err != nil {
		logger.FatalWithError(err, "Failed to load alias file")
	}
	catalog, err := mqtloader.LoadTypeCatalog(ctx, store, aliases.TypeAliases)
	if err != nil {
		logger.FatalWithError(err, "Failed to load value types")
	}
	logger.Logger.Info().Strs("types", catalog.Keys()).Msg("Value types loaded")

	normalizer := mqtloader.NewRecordNormalizer(store, catalog, aliases.GNSSAliases, cfg.LocationPolicy, logger)
	m := ctr.GetMetrics()
	queue := ctr.GetQueue()
	session := ctr.GetSession()

	// registered first so the subscription is only sent from the connect callback
	sub := mqtloader.NewSubscriber(queue, m.JobsReceived, logger)
	if err := sub.Start(ctx, session, cfg.MQTT.Topic); err != nil {
		logger.FatalWithError(err, "Failed to subscribe")
	}
	if err := session.Connect(ctx); err != nil {
		logger.FatalWithError(err, "Failed to connect to MQTT broker")
	}
	logger.Logger.Info().Str("topic", cfg.MQTT.Topic).Msg("Subscribed")

	srv := startHealthServer(ctr, health.NewHealthChecker(store, session, queue))

	worker := mqtloader.NewWorker(mqtloader.WorkerConfig{
		PollInterval:   cfg.PollInterval,
		PingAttempts:   cfg.DBPingAttempts,
		PingDelay:      cfg.DBPingDelay,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		DryRun:         cfg.Process.DryRun,
	}, queue, normalizer, store, session, m, logger)

	runErr := worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Health server shutdown failed")
	}

	if runErr != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(runErr, "Loader stopped")
	}
	logger.Info("Shutting down...")
}

// startHealthServer serves /health and /metrics on HEALTH_PORT
func startHealthServer(ctr *container.LoaderContainer, checker *health.HealthChecker) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	health.RegisterRoutes(router, checker, ctr.GetRegistry().Handler())

	cfg := ctr.GetConfig().Server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger := ctr.GetLogger()
	go func() {
		logger.Info("Health server starting on port " + cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithError(err, "Health server failed")
		}
	}()
	return srv
}
