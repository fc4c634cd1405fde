/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/circa83/enso-audio/internal/audiohost"
	"github.com/circa83/enso-audio/internal/bufcache"
	"github.com/circa83/enso-audio/internal/catalog"
	"github.com/circa83/enso-audio/internal/clustered"
	"github.com/circa83/enso-audio/internal/config"
	"github.com/circa83/enso-audio/internal/engine"
	"github.com/circa83/enso-audio/internal/logging"
)

var serveCollectionID string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the engine against a real playback device and HTTP/websocket surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveCollectionID, "collection", "", "collection id to load from the catalog on startup (optional)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := logging.Setup(cfg.Environment)
	logger.Info().Msg("audioengine starting")

	backend, err := audiohost.NewRealBackend()
	if err != nil {
		return fmt.Errorf("open playback device: %w", err)
	}
	defer backend.Close()

	fetcher, decoder, err := buildCachePipeline(cfg, logger)
	if err != nil {
		return err
	}

	eng, err := engine.New(backend, fetcher, decoder, cfg, logger)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	leaseCtx, cancelLease := context.WithCancel(context.Background())
	defer cancelLease()

	if cfg.RedisEnabled {
		regCfg := clustered.DefaultRegistryConfig()
		regCfg.RedisAddr = cfg.RedisAddr
		registry, err := clustered.NewRegistry(regCfg, logging.Component(logger, "clustered"))
		if err != nil {
			return fmt.Errorf("connect session registry: %w", err)
		}
		defer registry.Close()

		if err := registry.Watch(leaseCtx, cfg.SessionID); err != nil {
			return fmt.Errorf("acquire session lease: %w", err)
		}
		eng.SetLeaderWatcher(registry)
		logger.Info().Str("addr", cfg.RedisAddr).Str("session_id", cfg.SessionID).Msg("session-ownership lease acquired")
	}

	if serveCollectionID != "" {
		if cfg.CatalogDSN == "" {
			return fmt.Errorf("--collection requires ENGINE_CATALOG_DSN to be set")
		}
		loader, err := catalog.Open(cfg.CatalogDSN)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer loader.Close()

		coll, err := loader.LoadCollection(serveCollectionID)
		if err != nil {
			return fmt.Errorf("load collection %q: %w", serveCollectionID, err)
		}
		if err := eng.LoadCollection(coll); err != nil {
			return fmt.Errorf("apply collection %q: %w", serveCollectionID, err)
		}
		logger.Info().Str("collection_id", serveCollectionID).Msg("collection loaded")
	}

	eng.Start(true)

	httpServer := &http.Server{
		Addr:    cfg.HTTPListenAddr,
		Handler: eng.Router(),
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	eng.Stop()
	cancelLease()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("audioengine stopped")
	return nil
}

// buildCachePipeline selects the Buffer Cache's Fetcher/Decoder pair
// based on config, leaving the S3-vs-HTTP choice to the embedder.
func buildCachePipeline(cfg config.Config, logger zerolog.Logger) (bufcache.Fetcher, bufcache.Decoder, error) {
	decoder := bufcache.NewWAVDecoder()

	if !cfg.S3Enabled {
		return bufcache.NewHTTPFetcher(cfg.IndeterminatePulse), decoder, nil
	}

	fetcher, err := bufcache.NewS3Fetcher(context.Background(), bufcache.S3FetcherConfig{
		Region:   cfg.S3Region,
		Bucket:   cfg.S3Bucket,
		Endpoint: cfg.S3Endpoint,
	}, logging.Component(logger, "bufcache-s3"))
	if err != nil {
		return nil, nil, fmt.Errorf("construct S3 fetcher: %w", err)
	}
	return fetcher, decoder, nil
}
