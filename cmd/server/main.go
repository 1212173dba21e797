// Command server runs the paper parser HTTP API: submission, task status
// and streaming, literature and graph reads, and upload presigning.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/tyqqj0/paper-parser/internal/config"
	"github.com/tyqqj0/paper-parser/internal/graph"
	"github.com/tyqqj0/paper-parser/internal/objectstore"
	"github.com/tyqqj0/paper-parser/internal/observability"
	"github.com/tyqqj0/paper-parser/internal/server"
	"github.com/tyqqj0/paper-parser/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := observability.NewLogger(observability.DefaultLoggingConfig())
		bootLogger.Fatal().Err(err).Msg("loading configuration")
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	}).With().Str("service", "paper-parser-server").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("paper_parser")

	dao, err := graph.NewDAO(ctx, graph.Config{
		URI:                   cfg.Neo4j.URI,
		Username:              cfg.Neo4j.Username,
		Password:              cfg.Neo4j.Password,
		Database:              cfg.Neo4j.Database,
		MaxConnectionPoolSize: cfg.Neo4j.MaxConnectionPoolSize,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connecting to graph store")
	}
	defer func() { _ = dao.Close(context.Background()) }()

	if err := dao.EnsureConstraints(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensuring graph constraints")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	store := tasks.NewStore(tasks.StoreConfig{ResultTTL: cfg.Redis.TaskResultTTL}, redisClient, logger)

	producer := tasks.NewProducer(tasks.QueueConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	}, logger)
	defer func() { _ = producer.Close() }()

	var uploader server.Uploader
	if cfg.ObjectStore.AccessKey != "" {
		objStore, err := objectstore.New(objectstore.Config{
			Endpoint:      cfg.ObjectStore.Endpoint,
			AccessKey:     cfg.ObjectStore.AccessKey,
			SecretKey:     cfg.ObjectStore.SecretKey,
			Bucket:        cfg.ObjectStore.Bucket,
			UseSSL:        cfg.ObjectStore.UseSSL,
			PresignExpiry: cfg.ObjectStore.PresignExpiry,
			PublicHosts:   cfg.ObjectStore.PublicHosts,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connecting to object store")
		}
		uploader = objStore
	} else {
		logger.Warn().Msg("object store credentials absent, upload surface disabled")
	}

	srv := server.NewServer(server.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsPath:     cfg.Metrics.Path,
	}, store, producer, dao, uploader, metrics, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server stopped")
		os.Exit(1)
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
