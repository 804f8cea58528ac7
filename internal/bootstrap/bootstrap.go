package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crospyder/ocr-core/internal/config"
	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/ports"
	"github.com/crospyder/ocr-core/internal/core/usecase"
	"github.com/crospyder/ocr-core/internal/infrastructure/classifier"
	"github.com/crospyder/ocr-core/internal/infrastructure/export/xlsx"
	"github.com/crospyder/ocr-core/internal/infrastructure/ocr"
	"github.com/crospyder/ocr-core/internal/infrastructure/queue/nats"
	"github.com/crospyder/ocr-core/internal/infrastructure/registry/sudreg"
	"github.com/crospyder/ocr-core/internal/infrastructure/registry/vies"
	"github.com/crospyder/ocr-core/internal/infrastructure/repository/postgres"
	"github.com/crospyder/ocr-core/internal/infrastructure/resilience"
	"github.com/crospyder/ocr-core/internal/infrastructure/search/elastic"
	"github.com/crospyder/ocr-core/internal/infrastructure/storage/localfs"
	"github.com/crospyder/ocr-core/internal/infrastructure/storage/s3"
	"github.com/crospyder/ocr-core/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue     ports.MessageQueue
	Ingest    *usecase.IngestUseCase
	Documents *usecase.DocumentService
	Reprocess *usecase.ReprocessUseCase
	Metrics   *metrics.PipelineMetrics

	closeFn func()
}

// New wires every adapter from cfg. Pipeline and external-call metrics are
// registered on registerer; a nil registerer keeps them private.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, registerer prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	rules = rules.WithOperator(cfg.OperatorName, cfg.OperatorOIB)
	policy, err := classificationPolicy(rules.Classification)
	if err != nil {
		return nil, err
	}
	operator := domain.Operator{Name: rules.Operator.Name, TaxID: rules.Operator.TaxID}
	if operator.TaxID == "" {
		logger.Warn("operator_not_configured", "effect", "identity checks and tie-break are skipped")
	}

	pipelineMetrics := metrics.NewPipelineMetrics("ocr-core", registerer)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	docs := postgres.NewDocumentRepository(db)
	if err := docs.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	counterParties := postgres.NewCounterPartyRepository(db)

	storage, err := newStorage(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := func(base resilience.Config, limiter *resilience.Limiter) *resilience.Executor {
		opts := []resilience.Option{
			resilience.WithObserver(pipelineMetrics.ObserveExternalCall),
			resilience.WithLogger(logger),
		}
		if limiter != nil {
			opts = append(opts, resilience.WithLimiter(limiter))
		}
		return resilience.NewExecutor(resilienceConfig(base, cfg), opts...)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSReprocessSubject, nats.Options{
		ResilienceExecutor: executor(resilience.DefaultConfig(), nil),
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	classifierClient := classifier.New(cfg.ClassifierURL, classifier.Options{
		Timeout:  cfg.ClassifierTimeout,
		Executor: executor(resilience.DefaultConfig(), nil),
		Logger:   logger,
	})

	var registry ports.CompanyRegistry
	if cfg.SudregClientID != "" {
		registry = sudreg.NewCachedRegistry(sudreg.New(sudreg.Options{
			BaseURL:      cfg.SudregURL,
			TokenURL:     cfg.SudregTokenURL,
			ClientID:     cfg.SudregClientID,
			ClientSecret: cfg.SudregClientSecret,
			Timeout:      cfg.SudregTimeout,
			Executor:     executor(resilience.RegistryConfig(), resilience.NewLimiter(cfg.SudregRPS, cfg.SudregBurst)),
			Logger:       logger,
		}), cfg.RegistryCacheTTL)
	} else {
		logger.Warn("registry_not_configured", "effect", "counter-parties are matched from the local cache only")
	}

	var vat ports.VATValidator
	if cfg.VIESURL != "" {
		vat = vies.New(cfg.VIESURL, vies.Options{
			Timeout:  cfg.VIESTimeout,
			Executor: executor(resilience.RegistryConfig(), nil),
			Logger:   logger,
		})
	}

	var indexer ports.SearchIndexer
	if cfg.SearchURL != "" {
		indexer = elastic.New(cfg.SearchURL, cfg.SearchIndex, elastic.Options{
			Executor: executor(resilience.DefaultConfig(), nil),
			Logger:   logger,
		})
	}

	extractor := ocr.NewExtractor(ocr.Config{
		Tesseract: cfg.OCRBinary,
		Languages: cfg.OCRLanguages,
	}, logger)

	entities := usecase.NewEntityResolver(counterParties, registry, vat, logger)
	classification := usecase.NewClassificationResolver(classifierClient, policy, operator, logger)
	pipeline := usecase.NewDocumentPipeline(classification, entities, operator, pipelineMetrics, logger)

	ingestUC := usecase.NewIngestUseCase(
		docs,
		storage,
		extractor,
		pipeline,
		indexer,
		classifierClient,
		usecase.IngestOptions{
			Concurrency:    cfg.IngestConcurrency,
			MaxUploadBytes: cfg.MaxUploadBytes,
			TrainingMode:   cfg.TrainingMode,
		},
		pipelineMetrics,
		logger,
	)
	reprocessUC := usecase.NewReprocessUseCase(docs, pipeline, indexer, pipelineMetrics, logger)
	documentService := usecase.NewDocumentService(docs, counterParties, entities, indexer, queue, xlsx.NewWriter(), operator, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:     queue,
		Ingest:    ingestUC,
		Documents: documentService,
		Reprocess: reprocessUC,
		Metrics:   pipelineMetrics,

		closeFn: closeAll(queue, db),
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func closeAll(queue *nats.Queue, db *sql.DB) func() {
	return func() {
		queue.Close()
		_ = db.Close()
	}
}

func newStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "", "localfs":
		return localfs.New(cfg.StoragePath)
	case "s3":
		store, err := s3.New(s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// resilienceConfig applies the env overrides on top of a per-service base.
func resilienceConfig(base resilience.Config, cfg config.Config) resilience.Config {
	rc := base
	if cfg.RetryMaxAttempts > 0 {
		rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	}
	rc.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerOpenTimeout > 0 {
		rc.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	}
	return rc
}

func classificationPolicy(rules config.ClassificationRules) (usecase.ClassificationPolicy, error) {
	policy := usecase.ClassificationPolicy{
		TieThreshold:    rules.TieThreshold,
		PositionLines:   rules.PositionLines,
		AdjacencyWindow: rules.AdjacencyWindow,
		BuyerKeywords:   rules.BuyerKeywords,
		SellerKeywords:  rules.SellerKeywords,
		CandidateLabels: rules.CandidateLabels,
		LabelExamples:   rules.LabelExamples,
	}
	if rules.ContractPattern != "" {
		pattern, err := regexp.Compile(rules.ContractPattern)
		if err != nil {
			return usecase.ClassificationPolicy{}, fmt.Errorf("compile contract_pattern: %w", err)
		}
		policy.ContractPattern = pattern
	}
	if len(rules.LabelMap) > 0 {
		policy.LabelMap = make(map[string]domain.DocumentType, len(rules.LabelMap))
		for label, docType := range rules.LabelMap {
			policy.LabelMap[strings.ToLower(label)] = domain.ParseDocumentType(docType)
		}
	}
	return policy, nil
}
