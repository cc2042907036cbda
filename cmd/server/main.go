package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/normex/ragbox-normex/internal/api"
	"github.com/normex/ragbox-normex/internal/cache"
	"github.com/normex/ragbox-normex/internal/chunker"
	"github.com/normex/ragbox-normex/internal/config"
	"github.com/normex/ragbox-normex/internal/contextbuilder"
	"github.com/normex/ragbox-normex/internal/corpuscache"
	"github.com/normex/ragbox-normex/internal/db"
	"github.com/normex/ragbox-normex/internal/dense"
	"github.com/normex/ragbox-normex/internal/embedding"
	"github.com/normex/ragbox-normex/internal/indexing"
	"github.com/normex/ragbox-normex/internal/intent"
	"github.com/normex/ragbox-normex/internal/middleware"
	"github.com/normex/ragbox-normex/internal/mmr"
	"github.com/normex/ragbox-normex/internal/ollamaclient"
	"github.com/normex/ragbox-normex/internal/recovery"
	"github.com/normex/ragbox-normex/internal/rerank"
	"github.com/normex/ragbox-normex/internal/retrieval"
	"github.com/normex/ragbox-normex/internal/vectorstore"
)

// Version is stamped at build time in production deployments;
// hardcoded here since this module has no build pipeline wiring it in.
const Version = "0.1.0"

// parseQdrantURL splits a "host:port" or "scheme://host:port" URL into
// the host/port/TLS triple vectorstore.Config wants.
func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	target := raw
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	u, parseErr := url.Parse(target)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("parseQdrantURL: invalid QDRANT_URL %q", raw)
	}
	host = u.Hostname()
	portStr := u.Port()
	if portStr == "" {
		port = 6334
	} else {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("parseQdrantURL: invalid port in %q: %w", raw, err)
		}
	}
	useTLS = u.Scheme == "https"
	return host, port, useTLS, nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dbManager, err := db.NewManager(ctx, cfg.DatabaseURL, db.Config{
		MinConns:   int32(cfg.DB.MinConnections),
		MaxConns:   int32(cfg.DB.MaxConnections),
		MaxRetries: cfg.DB.MaxRetries,
		BaseDelay:  cfg.DB.BaseDelay,
		MaxDelay:   cfg.DB.MaxDelay,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	qdrantHost, qdrantPort, qdrantTLS, err := parseQdrantURL(cfg.QdrantURL)
	if err != nil {
		return err
	}
	vectorClient, err := vectorstore.New(vectorstore.Config{
		Host:       qdrantHost,
		Port:       qdrantPort,
		UseTLS:     qdrantTLS,
		Collection: cfg.Collection.Name,
	})
	if err != nil {
		return fmt.Errorf("connecting to vector store: %w", err)
	}
	if err := vectorClient.EnsureCollection(ctx, cfg.Collection.VectorSize); err != nil {
		return fmt.Errorf("ensuring vector collection: %w", err)
	}

	ollama := ollamaclient.New(cfg.EmbeddingURL, "nomic-embed-text", "llama3")
	embeddingSvc := embedding.NewService(ollama, cfg.Collection.VectorSize)

	embeddingCache := cache.NewEmbeddingCache(cfg.Cache.EmbeddingTTL)
	cachingEmbedder := dense.NewCachingEmbedder(embeddingSvc, embeddingCache)

	corpus := corpuscache.New(dbManager)
	denseRetriever := dense.NewRetriever(cachingEmbedder, vectorClient)
	reranker := rerank.NewReranker(ollama)
	diversifier := mmr.NewDiversifier()
	diversifier.Lambda = cfg.MMR.Lambda
	diversifier.SimilarityThreshold = cfg.MMR.SimilarityThreshold
	classifier := intent.NewClassifier(ollama)
	builder := contextbuilder.NewBuilder(ollama)

	baseOrchestrator := retrieval.New(
		corpus, corpus.Lookup, corpus.AllIDs,
		denseRetriever, reranker, diversifier, classifier, builder,
		retrieval.Config{Alpha: cfg.Fusion.Alpha, UseRRF: cfg.Fusion.UseRRF, RRFK: cfg.Fusion.RRFK},
	)
	contextCache := cache.New(cfg.Cache.ContextTTL)
	orchestrator := retrieval.NewCaching(baseOrchestrator, contextCache)

	chunkerSvc := chunker.NewService(cfg.Chunking)

	indexingPipeline := indexing.New(
		indexing.Config{
			MaxConcurrentTasks: cfg.Indexing.MaxConcurrentTasks,
			MaxRetries:         cfg.Indexing.MaxRetries,
			ShutdownGrace:      cfg.Indexing.ShutdownGrace,
			TokensPerChar:      cfg.Chunking.TokensPerChar,
		},
		dbManager, dbManager, chunkerSvc, embeddingSvc, vectorClient, vectorstore.PointID,
	)
	indexingPipeline.Start(ctx)

	recoveryMonitor := recovery.New(
		recovery.Config{Interval: cfg.Indexing.RecoveryInterval, StuckThreshold: cfg.Indexing.StuckThreshold},
		indexingPipeline, dbManager, nil,
	)
	go recoveryMonitor.Run(ctx)

	documentSvc := api.NewDocumentService(dbManager, indexingPipeline, cfg.Indexing.MaxRetries)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests:     cfg.RateLimit.MaxRequests,
		Window:          cfg.RateLimit.Window,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	})
	registry := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(registry)

	router := api.New(api.Dependencies{
		Documents:    documentSvc,
		Orchestrator: orchestrator,
		Version:      Version,
		RateLimiter:  rateLimiter,
		Metrics:      metrics,
		Registry:     registry,
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("ragbox-normex v%s starting on port %d", Version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Println("received shutdown signal, shutting down gracefully")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	indexingPipeline.Stop()
	rateLimiter.Stop()
	embeddingCache.Stop()
	contextCache.Stop()

	log.Println("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
