// Package main is the entry point for the lineage service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftlab/lineage/internal/api"
	"github.com/driftlab/lineage/internal/batchstore"
	"github.com/driftlab/lineage/internal/config"
	"github.com/driftlab/lineage/internal/graph"
	"github.com/driftlab/lineage/internal/graphstore"
	"github.com/driftlab/lineage/internal/jobclient"
	"github.com/driftlab/lineage/internal/runner"
	"github.com/driftlab/lineage/internal/snapshot"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting lineage service",
		slog.String("port", cfg.Port),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize BatchStore based on configuration
	var batches batchstore.BatchStore
	switch cfg.BatchStoreType {
	case "redis":
		redisCfg := &batchstore.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "batches",
			TTL:      cfg.BatchStoreTTL,
		}
		redisStore, err := batchstore.NewRedisStore(redisCfg)
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory store", "error", err)
			storeCfg := &batchstore.Config{
				EventMaxLen: cfg.EventMaxLen,
				TTLSeconds:  int64(cfg.BatchStoreTTL.Seconds()),
			}
			batches = batchstore.NewMemoryStore(storeCfg)
		} else {
			batches = redisStore
			logger.Info("using Redis batchstore", slog.String("url", cfg.RedisURL))
		}
	default:
		storeCfg := &batchstore.Config{
			EventMaxLen: cfg.EventMaxLen,
			TTLSeconds:  int64(cfg.BatchStoreTTL.Seconds()),
		}
		batches = batchstore.NewMemoryStore(storeCfg)
		logger.Info("using in-memory batchstore")
	}
	defer batches.Close()

	// Graphs are ephemeral build artifacts, kept in memory only
	graphs := graphstore.NewMemoryStore(cfg.GraphMaxEntries)
	defer graphs.Close()

	// Optionally build a graph from local snapshot files at boot
	if cfg.SnapshotBaseFile != "" || cfg.SnapshotCurrentFile != "" {
		in, err := snapshot.LoadInput(cfg.SnapshotBaseFile, cfg.SnapshotCurrentFile, cfg.SnapshotDiffFile)
		if err != nil {
			logger.Error("failed to load startup snapshots", "error", err)
			os.Exit(1)
		}
		g := graph.Build(in.Base, in.Current, in.Diff)
		graphID, err := graphs.Put(context.Background(), g)
		if err != nil {
			logger.Error("failed to store startup graph", "error", err)
			os.Exit(1)
		}
		logger.Info("startup graph built",
			slog.String("graph_id", graphID),
			slog.Int("nodes", len(g.Nodes)),
			slog.Int("modified", len(g.ModifiedSet)),
		)
	}

	// Job API client and batch runner
	client, err := jobclient.New(&jobclient.Config{
		BaseURL:        cfg.JobAPIURL,
		PollInterval:   cfg.JobPollInterval,
		RequestTimeout: cfg.JobTimeout,
		TokenURL:       cfg.JobTokenURL,
		ClientID:       cfg.JobClientID,
		ClientSecret:   cfg.JobClientSecret,
		Scopes:         cfg.JobOAuthScopes,
	})
	if err != nil {
		logger.Error("failed to create job client", "error", err)
		os.Exit(1)
	}
	run := runner.New(client, logger)

	logger.Info("job client initialized",
		slog.String("url", cfg.JobAPIURL),
		slog.Duration("poll_interval", cfg.JobPollInterval),
	)

	// Optional S3/MinIO snapshot source
	var source *snapshot.S3Source
	if cfg.S3Bucket != "" {
		source, err = snapshot.NewS3Source(&snapshot.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UseSSL:          cfg.S3UseSSL,
			PathPrefix:      cfg.S3PathPrefix,
		})
		if err != nil {
			logger.Error("failed to create snapshot source", "error", err)
			os.Exit(1)
		}
		logger.Info("snapshot source initialized", slog.String("bucket", cfg.S3Bucket))
	}

	// Initialize validator
	v, err := snapshot.NewValidator()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		// Continue without validator - snapshots decode unvalidated
		v = nil
	}

	// Initialize API handlers
	handlers := api.NewHandlers(graphs, batches, run, source, v, cfg, logger)
	server := api.NewServer(handlers)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
