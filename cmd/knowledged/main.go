// Knowledged is a multi-tenant knowledge retrieval daemon.
//
// It ingests tenant documents into a vector store and answers retrieval
// queries over HTTP, with a relevance gate in front of the search path.
//
// Configuration is loaded from a YAML file plus KNOWLEDGED_ environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (embedded chromem store)
//	knowledged
//
//	# Start with a config file
//	knowledged -config /etc/knowledged/config.yaml
//
//	# Configure via environment
//	KNOWLEDGED_SERVER_PORT=9090 KNOWLEDGED_VECTORSTORE_PROVIDER=qdrant knowledged
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/brokerkit/knowledged/internal/config"
	"github.com/brokerkit/knowledged/internal/embeddings"
	"github.com/brokerkit/knowledged/internal/httpapi"
	"github.com/brokerkit/knowledged/internal/ingest"
	"github.com/brokerkit/knowledged/internal/logging"
	"github.com/brokerkit/knowledged/internal/relevance"
	"github.com/brokerkit/knowledged/internal/retrieval"
	"github.com/brokerkit/knowledged/internal/telemetry"
	"github.com/brokerkit/knowledged/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  knowledged           Start the knowledged daemon\n")
			fmt.Fprintf(os.Stderr, "  knowledged version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("knowledged\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Initialization order matters: the embedder and the store are created
// before the pipeline so the dimension check happens once, at startup,
// instead of surfacing as per-request upsert failures.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	logger.Info("starting knowledged",
		zap.String("version", version),
		zap.String("vectorstore_provider", cfg.VectorStore.Provider),
		zap.Int("embedding_dimension", cfg.Embeddings.Dimension))

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:      cfg.Embeddings.BaseURL,
		Model:        cfg.Embeddings.Model,
		Dimension:    cfg.Embeddings.Dimension,
		Timeout:      cfg.Embeddings.Timeout,
		MaxRetries:   cfg.Embeddings.MaxRetries,
		RetryBackoff: cfg.Embeddings.RetryBackoff,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}
	defer embedder.Close()

	store, err := vectorstore.NewStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer store.Close()

	pipeline, err := ingest.NewPipeline(ingest.Config{
		MaxChunkSize:   cfg.Ingest.MaxChunkSize,
		AllowedTypes:   cfg.Ingest.AllowedIngestionTypes,
		MaxConcurrency: cfg.Ingest.MaxConcurrency,
		MetadataFields: cfg.Ingest.MetadataFields,
	}, embedder, store, logger)
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	gateOpts := []relevance.Option{
		relevance.WithKeywords(cfg.Relevance.OffTopicKeywords, cfg.Relevance.OnTopicKeywords),
	}
	if cfg.Relevance.Classifier.Enabled {
		classifier, err := relevance.NewLLMClassifier(relevance.ClassifierConfig{
			BaseURL: cfg.Relevance.Classifier.BaseURL,
			Model:   cfg.Relevance.Classifier.Model,
			APIKey:  cfg.Relevance.Classifier.APIKey,
			Timeout: cfg.Relevance.Classifier.Timeout,
		})
		if err != nil {
			return fmt.Errorf("creating relevance classifier: %w", err)
		}
		gateOpts = append(gateOpts, relevance.WithClassifier(classifier))
		logger.Info("relevance classifier enabled",
			zap.String("model", cfg.Relevance.Classifier.Model))
	}
	gate := relevance.NewGate(logger, gateOpts...)

	orchestrator, err := retrieval.NewOrchestrator(retrieval.Config{
		TopK: cfg.VectorStore.TopK,
	}, gate, embedder, store, logger)
	if err != nil {
		return fmt.Errorf("creating retrieval orchestrator: %w", err)
	}

	server, err := httpapi.NewServer(pipeline, orchestrator, store, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
