package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"

	"github.com/auditgrid/audit-assistant/internal/config"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
	"github.com/auditgrid/audit-assistant/internal/core/usecase"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/chunking"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/embedding"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/extractor"
	pdfextract "github.com/auditgrid/audit-assistant/internal/infrastructure/extractor/pdf"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/extractor/plaintext"
	xlsxextract "github.com/auditgrid/audit-assistant/internal/infrastructure/extractor/xlsx"
	graphneo4j "github.com/auditgrid/audit-assistant/internal/infrastructure/graph/neo4j"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/llm/gemini"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/llm/ollama"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/queue/nats"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/repository/postgres"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/resilience"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/storage/localfs"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue   ports.MessageQueue
	Repo    ports.DocumentRepository
	Ingest  ports.DocumentIngestor
	Process ports.DocumentProcessor
	Query   ports.AuditQueryService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	repo := postgres.NewDocumentRepository(db)
	chunkStore := postgres.NewChunkStore(db)
	identity := postgres.NewIdentityRepository(db)
	audit := postgres.NewAuditRepository(db)
	prompts := postgres.NewPromptRepository(db, logger)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)

	var geminiClient *gemini.Client
	if cfg.GeminiAPIKey != "" {
		geminiClient = gemini.New(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiGenModel, cfg.GeminiEmbedModel, executor)
	}

	var generator ports.Generator = ollamaClient
	if cfg.GenerationProvider == "gemini" && geminiClient != nil {
		generator = geminiClient
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.EmbedRatePerSecond), cfg.EmbedRatePerSecond)
	var embedder ports.Embedder
	if geminiClient != nil {
		embedder = embedding.NewFailover(geminiClient, ollamaClient, limiter, cfg.EmbedCacheSize, logger)
	} else {
		embedder = embedding.NewFailover(ollamaClient, nil, limiter, cfg.EmbedCacheSize, logger)
	}

	vectorStore, err := qdrant.NewStore(qdrant.Config{
		URL:                cfg.QdrantURL,
		APIKey:             cfg.QdrantAPIKey,
		AdminLawCollection: cfg.QdrantAdminLawCollection,
		CustomerCollection: cfg.QdrantCustomerCollection,
		MemoryCollection:   cfg.QdrantMemoryCollection,
		Dims:               uint64(cfg.QdrantVectorDims),
	}, executor, logger)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	if err := vectorStore.EnsureCollections(ctx); err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("ensure qdrant collections: %w", err)
	}
	memoryStore := qdrant.NewMemoryStore(vectorStore)

	var graphEnricher ports.GraphEnricher
	var graphDriver neo4j.DriverWithContext
	if cfg.GraphEnabled {
		graphDriver, err = neo4j.NewDriverWithContext(cfg.Neo4jURI,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
		if err != nil {
			queue.Close()
			_ = db.Close()
			return nil, fmt.Errorf("init graph driver: %w", err)
		}
		graphEnricher = graphneo4j.NewEnricher(graphDriver, generator, logger)
	}

	rules := usecase.DefaultIntentRules()
	if cfg.IntentRulesPath != "" {
		loaded, err := usecase.LoadIntentRules(cfg.IntentRulesPath)
		if err != nil {
			logger.Warn("intent rules file rejected, using defaults",
				"path", cfg.IntentRulesPath, "error", err)
		} else {
			rules = loaded
		}
	}

	gate := usecase.NewPolicyGate(identity, audit, logger)
	planner := usecase.NewPlanner(rules, generator, logger)
	retriever := usecase.NewRetriever(embedder, vectorStore, chunkStore, graphEnricher, memoryStore, logger)
	reranker := usecase.NewReranker(generator, logger)
	builder := usecase.NewEvidenceBuilder(chunkStore, vectorStore, logger)
	assembler := usecase.NewPromptAssembler(prompts)
	grounding := usecase.NewGroundingChecker(generator, logger)
	queryService := usecase.NewQueryService(gate, planner, retriever, reranker, builder, assembler, generator, grounding, embedder, memoryStore, logger)

	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	docExtractor := extractor.NewComposite(
		plaintext.NewExtractor(storage),
		pdfextract.NewExtractor(storage),
		xlsxextract.NewExtractor(storage),
	)

	ingest := usecase.NewIngestService(repo, storage, queue, logger)
	process := usecase.NewProcessService(repo, docExtractor, chunker, embedder, vectorStore, chunkStore, graphEnricher, logger)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Queue:   queue,
		Repo:    repo,
		Ingest:  ingest,
		Process: process,
		Query:   queryService,

		closeFn: func() {
			queue.Close()
			if graphDriver != nil {
				_ = graphDriver.Close(context.Background())
			}
			_ = vectorStore.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
