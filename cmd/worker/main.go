// Command worker runs the ingestion workers: it dequeues submissions from
// the task queue and executes the full ingestion plan for each.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tyqqj0/paper-parser/internal/config"
	"github.com/tyqqj0/paper-parser/internal/content"
	"github.com/tyqqj0/paper-parser/internal/dedup"
	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/graph"
	"github.com/tyqqj0/paper-parser/internal/linker"
	"github.com/tyqqj0/paper-parser/internal/metadata"
	"github.com/tyqqj0/paper-parser/internal/objectstore"
	"github.com/tyqqj0/paper-parser/internal/observability"
	"github.com/tyqqj0/paper-parser/internal/references"
	"github.com/tyqqj0/paper-parser/internal/requester"
	"github.com/tyqqj0/paper-parser/internal/sources/arxiv"
	"github.com/tyqqj0/paper-parser/internal/sources/crossref"
	"github.com/tyqqj0/paper-parser/internal/sources/grobid"
	"github.com/tyqqj0/paper-parser/internal/sources/semanticscholar"
	"github.com/tyqqj0/paper-parser/internal/sources/unpaywall"
	"github.com/tyqqj0/paper-parser/internal/tasks"
	"github.com/tyqqj0/paper-parser/internal/urlmapping"
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
	}).With().Str("service", "paper-parser-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("paper_parser_worker")

	rq := requester.New(requester.Config{
		ExternalProxy:   cfg.Requester.ExternalProxy,
		InternalTimeout: cfg.Requester.InternalTimeout,
		ExternalTimeout: cfg.Requester.ExternalTimeout,
		MaxRetries:      cfg.Requester.MaxRetries,
		RetryBaseDelay:  cfg.Requester.RetryBaseDelay,
		UserAgent:       cfg.Requester.UserAgent,
	}, logger)

	// External source clients.
	crossrefClient := crossref.New(crossref.Config{
		BaseURL:   cfg.Sources.CrossRef.BaseURL,
		RateLimit: cfg.Sources.CrossRef.RateLimit,
		Email:     cfg.Sources.CrossRef.Email,
		Enabled:   cfg.Sources.CrossRef.Enabled,
	}, rq)
	arxivClient := arxiv.New(arxiv.Config{
		BaseURL:   cfg.Sources.ArXiv.BaseURL,
		RateLimit: cfg.Sources.ArXiv.RateLimit,
		Enabled:   cfg.Sources.ArXiv.Enabled,
	}, rq)
	s2Client := semanticscholar.New(semanticscholar.Config{
		BaseURL:   cfg.Sources.SemanticScholar.BaseURL,
		APIKey:    cfg.Sources.SemanticScholar.APIKey,
		RateLimit: cfg.Sources.SemanticScholar.RateLimit,
		Enabled:   cfg.Sources.SemanticScholar.Enabled,
	}, rq)
	unpaywallClient := unpaywall.New(unpaywall.Config{
		BaseURL:   cfg.Sources.Unpaywall.BaseURL,
		Email:     cfg.Sources.Unpaywall.Email,
		RateLimit: cfg.Sources.Unpaywall.RateLimit,
		Enabled:   cfg.Sources.Unpaywall.Enabled,
	}, rq)
	grobidClient := grobid.New(grobid.Config{
		BaseURL: cfg.Sources.Grobid.BaseURL,
		Enabled: cfg.Sources.Grobid.Enabled,
	}, rq)

	// Graph store.
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

	// Task store.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()
	store := tasks.NewStore(tasks.StoreConfig{ResultTTL: cfg.Redis.TaskResultTTL}, redisClient, logger)

	// Object store is optional for workers; without it the native fetch
	// path is skipped and object URLs fall back to HTTPS.
	var objStore content.ObjectStore
	if cfg.ObjectStore.AccessKey != "" {
		st, err := objectstore.New(objectstore.Config{
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
		objStore = st
	}

	// Pipeline components.
	mapper := urlmapping.NewService(
		urlmapping.NewDefaultRegistry(rq, s2Client),
		cfg.Pipeline.MappingConfidence,
		logger,
	)
	deduper := dedup.NewEngine(dedup.Config{InFlightWindow: cfg.Pipeline.InFlightWindow}, dao, store, store, logger)
	metaFetcher := metadata.NewFetcher(metadata.Config{Threshold: cfg.Pipeline.MetadataConfidence},
		crossrefClient, arxivClient, s2Client, grobidClient, metadata.NewScraper(rq), logger)
	contentFetcher := content.NewFetcher(content.Config{MaxBytes: cfg.Pipeline.PDFMaxBytes},
		rq, objStore, unpaywallClient, logger)
	refsFetcher := references.NewFetcher(crossrefClient, s2Client, grobidClient, rq, logger)
	citationLinker := linker.New(linker.Config{
		GateThreshold:   cfg.Pipeline.LinkerGateThreshold,
		AcceptThreshold: cfg.Pipeline.LinkerAcceptThreshold,
		YearTolerance:   cfg.Pipeline.LinkerYearTolerance,
	}, dao, logger)

	coordinator := tasks.NewCoordinator(tasks.CoordinatorConfig{
		HardTimeout: cfg.Pipeline.TaskHardTimeout,
		SoftTimeout: cfg.Pipeline.TaskSoftTimeout,
	}, mapper, deduper, metaFetcher, contentFetcher, refsFetcher, dao, citationLinker, store, metrics, logger)

	consumer := tasks.NewConsumer(tasks.QueueConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		Workers:  cfg.Kafka.Workers,
		Prefetch: cfg.Kafka.Prefetch,
	}, logger)

	logger.Info().
		Int("workers", cfg.Kafka.Workers).
		Str("topic", cfg.Kafka.Topic).
		Msg("worker starting")

	err = consumer.Run(ctx, func(ctx context.Context, msg *tasks.QueueMessage) error {
		task, loadErr := store.GetTask(ctx, msg.TaskID)
		if loadErr != nil {
			// The snapshot may have expired; rebuild it from the message.
			task = domain.NewTask(msg.TaskID, msg.Submission, time.Now().UTC())
		}
		return coordinator.Execute(ctx, task)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped")
	}
	logger.Info().Msg("worker stopped")
}
