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

	"github.com/redis/go-redis/v9"

	"github.com/iago/mathdoc-back/internal/ai"
	"github.com/iago/mathdoc-back/internal/cache"
	"github.com/iago/mathdoc-back/internal/config"
	contextbuilder "github.com/iago/mathdoc-back/internal/context"
	httpserver "github.com/iago/mathdoc-back/internal/http"
	"github.com/iago/mathdoc-back/internal/http/handlers"
	"github.com/iago/mathdoc-back/internal/mathpix"
	"github.com/iago/mathdoc-back/internal/queue"
	"github.com/iago/mathdoc-back/internal/repository"
	"github.com/iago/mathdoc-back/internal/retry"
	"github.com/iago/mathdoc-back/internal/service"
	"github.com/iago/mathdoc-back/internal/session"
	"github.com/iago/mathdoc-back/internal/storage"
	"github.com/iago/mathdoc-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[mathdoc] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, objects, storageCloser := setupStorage(ctx, cfg, logger)
	defer storageCloser()
	artifacts := storage.NewArtifactStore(backend, storage.ArtifactStoreConfig{})

	remote := mathpix.NewClient(mathpix.ClientConfig{
		AppID:     cfg.MathpixAppID,
		AppKey:    cfg.MathpixAppKey,
		BaseURL:   cfg.MathpixBaseURL,
		Timeout:   cfg.MathpixTimeout(),
		Artifacts: artifacts,
	})
	if !remote.Available() {
		logger.Printf("MATHPIX_APP_ID/MATHPIX_APP_KEY not configured, conversions will fail with invalid_credentials")
	}
	conversions := service.NewConversionService(remote, service.ConversionConfig{
		Retry: retry.Policy{
			MaxAttempts: cfg.ConversionMaxAttempts,
			BaseDelay:   time.Duration(cfg.ConversionRetryBaseMS) * time.Millisecond,
		},
		PollInterval:  time.Duration(cfg.ConversionPollIntervalMS) * time.Millisecond,
		PollAttempts:  cfg.ConversionPollAttempts,
		MinConfidence: cfg.ConversionMinConfidence,
		Logger:        logger,
	})

	mirror, mirrorCloser := setupMirror(ctx, cfg, logger)
	defer mirrorCloser()
	documents := service.NewDocumentService(artifacts, mirror, service.DocumentsConfig{
		ResolveTimeout: cfg.ResolveTimeout(),
		Concurrency:    cfg.ResolveConcurrency,
		Logger:         logger,
	})

	sessions := session.NewTracker(time.Duration(cfg.SessionIdleMinutes) * time.Minute)
	sessions.Subscribe(func(ctx context.Context, event session.Event) {
		switch event.Kind {
		case session.SignedIn:
			// Warm the mirror without holding up the request that signed in.
			go func(ctx context.Context, ownerID string) {
				if _, err := documents.ResolveAll(ctx, ownerID, false); err != nil {
					logger.Printf("document warm-up failed owner_id=%s err=%v", ownerID, err)
				}
			}(context.WithoutCancel(ctx), event.Identity.UserID)
		case session.SignedOut:
			if err := documents.Forget(ctx, event.Identity.UserID); err != nil {
				logger.Printf("mirror clear failed owner_id=%s err=%v", event.Identity.UserID, err)
			}
		}
	})

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	jobsService := service.NewJobsService(repo, producer)
	uploads := service.NewUploadService(artifacts, jobsService, service.UploadConfig{
		MaxBytes: cfg.UploadMaxBytes,
		MaxPages: cfg.UploadMaxPages,
		Logger:   logger,
	})

	generator, generatorCloser := setupGenerator(ctx, cfg, logger)
	defer generatorCloser()
	exercises, err := service.NewExerciseService(service.ExerciseDependencies{
		Router: ai.NewModelRouter(ai.ModelRouterConfig{
			ExercisesPrimary:  cfg.ModelExercisesPrimary,
			ExercisesFallback: cfg.ModelExercisesFallback,
			SolutionPrimary:   cfg.ModelSolutionPrimary,
			SolutionFallback:  cfg.ModelSolutionFallback,
		}),
		Client:  generator,
		Builder: contextbuilder.NewBuilder(contextbuilder.NewMarkupRetriever()),
		Cache: cache.NewGenerationCache(cache.GenerationCacheConfig{
			TTL:        time.Duration(cfg.GenerationCacheTTLSecs) * time.Second,
			MaxEntries: cfg.GenerationCacheEntries,
		}),
		Documents:      documents,
		Logger:         logger,
		MaxInputTokens: cfg.GenerationMaxInputToken,
	})
	if err != nil {
		logger.Fatalf("exercise service: %v", err)
	}

	api := handlers.NewAPI(handlers.Dependencies{
		Jobs:      jobsService,
		Uploads:   uploads,
		Documents: documents,
		Exercises: exercises,
		Sessions:  sessions,
		Logger:    logger,
	})
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		JWTSecret:      cfg.JWTSecret,
		DevToken:       cfg.DevAuthToken,
		Sessions:       sessions,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Objects:        objects,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, repo, conversions, documents, logger)
		go processor.Start(ctx)
		logger.Printf("worker enabled and started")
	} else {
		logger.Printf("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// setupStorage returns the object backend and, for the in-memory backend,
// the handler that serves its objects.
func setupStorage(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (storage.Backend, http.Handler, func()) {
	urlTTL := time.Duration(cfg.StorageURLTTLSeconds) * time.Second

	switch cfg.StorageBackend {
	case "gcs":
		gcsBackend, err := storage.NewGCSBackend(ctx, storage.GCSConfig{Bucket: cfg.GCSBucket, URLTTL: urlTTL})
		if err != nil {
			logger.Printf("failed to initialize gcs storage, fallback to memory: %v", err)
			break
		}
		logger.Printf("gcs storage initialized bucket=%s", cfg.GCSBucket)
		return gcsBackend, nil, func() { _ = gcsBackend.Close() }
	case "minio":
		minioBackend, err := storage.NewMinioBackend(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			URLTTL:    urlTTL,
		})
		if err != nil {
			logger.Printf("failed to initialize minio storage, fallback to memory: %v", err)
			break
		}
		logger.Printf("minio storage initialized bucket=%s", cfg.MinioBucket)
		return minioBackend, nil, func() {}
	case "memory":
	default:
		logger.Printf("unknown STORAGE_BACKEND=%q, using memory", cfg.StorageBackend)
	}

	memory := storage.NewMemoryBackend(cfg.PublicBaseURL)
	logger.Printf("in-memory storage serving signed object urls under %s/objects/", cfg.PublicBaseURL)
	return memory, memory, func() {}
}

func setupMirror(ctx context.Context, cfg config.Config, logger *log.Logger) (cache.Mirror, func()) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryMirror(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Printf("redis unavailable for document mirror, fallback to memory: %v", err)
		_ = client.Close()
		return cache.NewMemoryMirror(), func() {}
	}
	logger.Printf("redis document mirror initialized")
	return cache.NewRedisMirror(client), func() { _ = client.Close() }
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Printf("failed to apply migrations, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)

	switch cfg.QueueBackend {
	case "redis":
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: 3,
		})
		if err != nil {
			logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
			break
		}
		logger.Printf("redis streams queue initialized")
		baseProducer, consumer = streams, streams
		baseCloser = func() { _ = streams.Close() }
	case "rabbitmq":
		rabbit, err := queue.NewRabbitQueue(queue.RabbitConfig{
			URL:         cfg.RabbitMQURL,
			Queue:       cfg.RabbitMQQueue,
			MaxAttempts: 3,
			Logger:      logger,
		})
		if err != nil {
			logger.Printf("failed to initialize rabbitmq queue, fallback to local: %v", err)
			break
		}
		logger.Printf("rabbitmq queue initialized queue=%s", cfg.RabbitMQQueue)
		baseProducer, consumer = rabbit, rabbit
		baseCloser = func() { _ = rabbit.Close() }
	}
	if baseProducer == nil {
		local := queue.NewLocalQueue(512, 3, logger)
		baseProducer, consumer = local, local
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		producer = batching
		batchingCloser = batching.Close
		logger.Printf(
			"queue batching enabled size=%d flush_ms=%d queue_capacity=%d max_in_flight=%d",
			cfg.QueueBatchSize,
			cfg.QueueBatchFlushMS,
			cfg.QueueBatchQueueCapacity,
			cfg.QueueBatchMaxInFlight,
		)
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}

func setupGenerator(ctx context.Context, cfg config.Config, logger *log.Logger) (ai.TextGenerator, func()) {
	timeout := time.Duration(cfg.AITimeoutMS) * time.Millisecond

	switch cfg.AIProvider {
	case "openai":
		return ai.NewOpenAIClient(ai.OpenAIClientConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrganization,
			Timeout:      timeout,
			MaxRetries:   cfg.AIMaxRetries,
		}), func() {}
	case "vertex":
		vertex, err := ai.NewVertexClient(ctx, ai.VertexClientConfig{
			ProjectID: cfg.VertexProjectID,
			Region:    cfg.VertexRegion,
		})
		if err != nil {
			logger.Printf("failed to initialize vertex client, generation disabled: %v", err)
			return nil, func() {}
		}
		return vertex, func() { _ = vertex.Close() }
	default:
		return ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:     cfg.OpenRouterAPIKey,
			BaseURL:    cfg.OpenRouterBaseURL,
			Timeout:    timeout,
			MaxRetries: cfg.AIMaxRetries,
			SiteURL:    cfg.OpenRouterSiteURL,
			AppName:    "mathdoc",
		}), func() {}
	}
}
