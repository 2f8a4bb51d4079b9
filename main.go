package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"prospek/features/catalog"
	"prospek/features/document"
	"prospek/features/search"
	"prospek/features/stats"
	"prospek/internal/adapter/docling"
	"prospek/internal/adapter/gemini"
	"prospek/internal/adapter/llamacpp"
	"prospek/internal/adapter/telegram"
	wstore "prospek/internal/adapter/weaviate"
	"prospek/internal/config"
	"prospek/internal/logger"
	"prospek/internal/middleware"
	"prospek/internal/pipeline"
	"prospek/internal/retrieval"
	"prospek/internal/settings"
	"prospek/internal/vector"
	"prospek/internal/worker"
)

func main() {
	// Initialize structured logger
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// 1. Database Connection
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}
	defer db.Close()

	// Retry connection
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", cfg.BootstrapRetryAttempts)
		time.Sleep(time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping db after retries: %w", err)
	}

	// 2. Run Migrations
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("migrations applied successfully")

	// 3. NSQ Producer
	nsqCfg := nsq.NewConfig()
	nsqProducer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		return fmt.Errorf("failed to create NSQ producer: %w", err)
	}
	defer nsqProducer.Stop()

	// Pre-create topics to avoid consumer startup 404s against lookupd.
	// NSQ creates topics lazily on publish; consumers of topics nothing has
	// published to yet would otherwise spin until the first message.
	go precreateTopics(cfg.NSQDHTTP,
		config.TopicDownloaded, config.TopicReady, config.TopicFailed, config.TopicAlert)

	// 4. Optional Weaviate search mirror
	var mirror *wstore.Store
	if cfg.MirrorEnabled {
		wCfg := weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme}
		wClient, err := weaviate.NewClient(wCfg)
		if err != nil {
			return fmt.Errorf("failed to create weaviate client: %w", err)
		}
		wAdapter := vector.NewWeaviateClientAdapter(wClient)

		for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
			if err := vector.EnsureSchema(ctx, wAdapter); err == nil {
				slog.Info("weaviate schema ensured")
				break
			}
			slog.Warn("failed to ensure weaviate schema, retrying...", "attempt", i+1, "error", err)
			time.Sleep(time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second)
		}
		if err := vector.EnsureSchema(ctx, wAdapter); err != nil {
			return fmt.Errorf("failed to ensure weaviate schema after retries: %w", err)
		}
		mirror = wstore.NewStore(wClient)
	}

	// 5. Features & Adapters
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)
	settingsHandler := settings.NewHandler(settingsService)

	// Seed the Gemini key from the environment so a fresh deployment works
	// before anyone touches the settings endpoint.
	if cfg.GeminiAPIKey != "" {
		if cur, err := settingsService.Get(ctx); err == nil && cur.GeminiAPIKey == "" {
			cur.GeminiAPIKey = cfg.GeminiAPIKey
			if err := settingsService.Update(ctx, cur); err != nil {
				slog.Warn("failed to seed gemini api key from environment", "error", err)
			}
		}
	}

	catalogRepo := catalog.NewPostgresRepo(db)
	catalogService := catalog.NewService(catalogRepo)
	catalogHandler := catalog.NewHandler(catalogService)

	var docMirror document.SearchMirror
	if mirror != nil {
		docMirror = mirror
	}
	docRepo := document.NewPostgresRepo(db)
	docService := document.NewService(docRepo, docMirror)
	docHandler := document.NewHandler(docService)

	converter := docling.NewClient(cfg.ConvertURL, cfg.ConvertPreset, cfg.PageBreakToken,
		cfg.RenderDPI, time.Duration(cfg.ConvertTimeoutSecs)*time.Second)

	var embedder pipeline.Embedder
	if cfg.EmbedProvider == "gemini" {
		embedder = gemini.NewDynamicEmbedder(settingsService)
	} else {
		embedder = llamacpp.NewEmbedder(cfg.EmbedBaseURL, cfg.EmbedModel,
			time.Duration(cfg.EmbedTimeoutSecs)*time.Second)
	}

	vecStore := vector.NewStore(db)

	// The migration fixes the column dimension; EMBED_DIM must agree or every
	// vector write would fail with an opaque Postgres error.
	colDim, err := vecStore.ColumnDimension(ctx)
	if err != nil {
		return err
	}
	if colDim != cfg.EmbedDim {
		return fmt.Errorf("EMBED_DIM is %d but the slides vector column is vector(%d)", cfg.EmbedDim, colDim)
	}

	notifier := telegram.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID)

	// 6. Pipeline
	var pipeMirror pipeline.Mirror
	if mirror != nil {
		pipeMirror = mirror
	}
	pipe, err := pipeline.New(docService, docRepo, converter, embedder, vecStore, pipeMirror,
		nsqProducer, notifier, pipeline.Options{
			BatchSize:      cfg.PipelineBatchSize,
			Interval:       time.Duration(cfg.PipelineIntervalSecs) * time.Second,
			MaxAttempts:    cfg.PipelineMaxRetries,
			RetryBase:      time.Duration(cfg.PipelineRetryBaseMS) * time.Millisecond,
			EmbedBatchSize: cfg.EmbedBatchSize,
			EmbedDim:       cfg.EmbedDim,
			Lease:          time.Duration(cfg.ClaimLeaseMins) * time.Minute,
			DataDir:        cfg.DataDir,
			Concurrency:    cfg.PipelineConcurrency,
		})
	if err != nil {
		return err
	}
	defer pipe.Close()
	go pipe.Run(ctx)

	// 7. Download event consumer
	registerConsumer := worker.NewRegisterConsumer(docService)
	consumer, err := nsq.NewConsumer(config.TopicDownloaded, "prospek", nsq.NewConfig())
	if err != nil {
		slog.Error("failed to create NSQ consumer", "error", err)
	} else {
		consumer.AddHandler(nsq.HandlerFunc(registerConsumer.HandleMessage))
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect to NSQLookupd", "error", err)
		} else {
			slog.Info("download event consumer connected", "topic", config.TopicDownloaded)
		}
		defer consumer.Stop()
	}

	// 8. Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, vecStore, settingsService, queryLogger)
	searchHandler := search.NewHandler(retrievalService)
	statsHandler := stats.NewHandler(docRepo, vecStore)

	// 9. Routes
	mux := http.NewServeMux()
	mux.Handle("POST /documents", middleware.CorrelationID(http.HandlerFunc(docHandler.Register)))
	mux.Handle("GET /documents", middleware.CorrelationID(http.HandlerFunc(docHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(http.HandlerFunc(docHandler.Get)))
	mux.Handle("POST /documents/{id}/reprocess", middleware.CorrelationID(http.HandlerFunc(docHandler.Reprocess)))

	mux.Handle("PUT /boards", middleware.CorrelationID(http.HandlerFunc(catalogHandler.ImportBoards)))
	mux.Handle("PUT /issuers", middleware.CorrelationID(http.HandlerFunc(catalogHandler.ImportIssuers)))
	mux.Handle("GET /issuers", middleware.CorrelationID(http.HandlerFunc(catalogHandler.ListIssuers)))
	mux.Handle("PUT /collections", middleware.CorrelationID(http.HandlerFunc(catalogHandler.ImportCollections)))
	mux.Handle("GET /collections", middleware.CorrelationID(http.HandlerFunc(catalogHandler.ListCollections)))

	mux.Handle("POST /search", middleware.CorrelationID(http.HandlerFunc(searchHandler.Search)))
	mux.Handle("GET /stats", middleware.CorrelationID(http.HandlerFunc(statsHandler.Stats)))

	mux.Handle("GET /settings", middleware.CorrelationID(http.HandlerFunc(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(http.HandlerFunc(settingsHandler.UpdateSettings)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// 10. Serve
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", cfg.ServerPort)
	return srv.ListenAndServe()
}

// precreateTopics hits the nsqd http api so topics exist before anything
// publishes to them.
func precreateTopics(nsqdHTTP string, topics ...string) {
	// Wait for nsqd to be ready
	time.Sleep(2 * time.Second)
	for _, topic := range topics {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil)
		if err != nil {
			slog.Warn("failed to pre-create topic", "topic", topic, "error", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			slog.Info("topic pre-created", "topic", topic)
		}
	}
}
