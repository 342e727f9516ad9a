package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WeAreBini/pricefeed/internal/cache"
	"github.com/WeAreBini/pricefeed/internal/config"
	"github.com/WeAreBini/pricefeed/internal/connection"
	"github.com/WeAreBini/pricefeed/internal/database"
	"github.com/WeAreBini/pricefeed/internal/feed"
	"github.com/WeAreBini/pricefeed/internal/logging"
	"github.com/WeAreBini/pricefeed/internal/poller"
	"github.com/WeAreBini/pricefeed/internal/quote"
	"github.com/WeAreBini/pricefeed/internal/sink"
	"github.com/WeAreBini/pricefeed/internal/subscription"
	"github.com/WeAreBini/pricefeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feedd.local.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until config is loaded
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting price feed daemon",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Feed.WSURL,
		"rest_url", cfg.Quote.RestURL,
		"symbols", len(cfg.Symbols),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Assemble the feed
	manager := connection.NewManager(managerConfig(cfg), logger)
	registry := subscription.NewRegistry(manager, logger)
	priceCache := cache.New(cacheConfig(cfg), logger)

	quoteClient := quote.NewClient(
		cfg.Quote.RestURL,
		quote.WithLogger(logger),
		quote.WithTimeout(cfg.Quote.Timeout),
		quote.WithRetries(cfg.Quote.MaxRetries, time.Second),
	)
	p := poller.New(pollerConfig(cfg), quoteClient, registry, priceCache, manager, logger)

	// Optional observation journal
	var journal *sink.Journal
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Database.Host,
			"database", cfg.Journal.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		journal = sink.NewJournal(journalConfig(cfg), pool, logger)
		priceCache.AddSink(journal)
	}

	// Optional Redis mirror
	var mirror *sink.Mirror
	if cfg.Mirror.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Mirror.Addr,
			Password: cfg.Mirror.Password,
			DB:       cfg.Mirror.DB,
		})
		defer client.Close()

		mirror = sink.NewMirror(mirrorConfig(cfg), client, logger)
		priceCache.AddSink(mirror)
	}

	svc := feed.New(manager, registry, priceCache, p, logger)

	if journal != nil {
		if err := journal.Start(ctx); err != nil {
			logger.Error("failed to start journal", "error", err)
			os.Exit(1)
		}
	}
	if mirror != nil {
		if err := mirror.Start(ctx); err != nil {
			logger.Error("failed to start mirror", "error", err)
			os.Exit(1)
		}
	}
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start feed", "error", err)
		os.Exit(1)
	}

	// Standing watch list
	var watch *feed.Handle
	if len(cfg.Symbols) > 0 {
		watch = svc.Subscribe(cfg.Symbols)
		logger.Info("watch list subscribed", "symbols", cfg.Symbols)
	}

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(svc, journal, mirror),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("price feed daemon running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)

	if watch != nil {
		watch.Release()
	}
	svc.Stop(shutdownCtx)
	if mirror != nil {
		mirror.Stop(shutdownCtx)
	}
	if journal != nil {
		journal.Stop(shutdownCtx)
	}

	logger.Info("price feed daemon stopped")
}

func managerConfig(cfg *config.FeedConfig) connection.ManagerConfig {
	return connection.ManagerConfig{
		URL:                  cfg.Feed.WSURL,
		ConnectTimeout:       cfg.Feed.ConnectTimeout,
		HeartbeatInterval:    cfg.Feed.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Feed.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
		WriteTimeout:         5 * time.Second,
		SendBufferSize:       cfg.Feed.SendBufferSize,
		MessageBufferSize:    cfg.Feed.MessageBufferSize,
	}
}

func cacheConfig(cfg *config.FeedConfig) cache.Config {
	return cache.Config{
		DirectionThreshold: cfg.Cache.DirectionThreshold,
		DirectionWindow:    cfg.Cache.DirectionWindow,
		FanoutBufferSize:   cfg.Cache.FanoutBufferSize,
	}
}

func pollerConfig(cfg *config.FeedConfig) poller.Config {
	return poller.Config{
		Interval:            cfg.Poller.Interval,
		Concurrency:         cfg.Poller.Concurrency,
		Timeout:             cfg.Quote.Timeout,
		PauseWhileConnected: cfg.Poller.PauseWhileConnected,
	}
}

func journalConfig(cfg *config.FeedConfig) sink.JournalConfig {
	return sink.JournalConfig{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BufferSize:    cfg.Journal.BufferSize,
	}
}

func mirrorConfig(cfg *config.FeedConfig) sink.MirrorConfig {
	return sink.MirrorConfig{
		TTL:          cfg.Mirror.TTL,
		BufferSize:   cfg.Mirror.BufferSize,
		WriteTimeout: 2 * time.Second,
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(svc *feed.Service, journal *sink.Journal, mirror *sink.Mirror) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := svc.ConnectionStatus()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		conn := "disconnected"
		switch {
		case st.Connected:
			conn = "connected"
		case st.Reconnecting:
			conn = "reconnecting"
		case st.Error:
			conn = "error"
			health.Status = "degraded"
		}
		health.Components["push_connection"] = conn
		health.Components["subscriptions"] = len(svc.Symbols())
		health.Components["cached_symbols"] = svc.CacheSize()

		if journal != nil {
			health.Components["journal"] = journal.Stats()
		}
		if mirror != nil {
			health.Components["mirror"] = mirror.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/symbols", func(w http.ResponseWriter, r *http.Request) {
		symbols := svc.Symbols()

		type snapshot struct {
			Symbol    string  `json:"symbol"`
			Price     float64 `json:"price"`
			Source    string  `json:"source"`
			Timestamp int64   `json:"timestamp"`
		}
		snapshots := make([]snapshot, 0, len(symbols))
		for _, sym := range symbols {
			obs, ok := svc.ReadSnapshot(sym)
			if !ok {
				continue
			}
			snapshots = append(snapshots, snapshot{
				Symbol:    obs.Symbol,
				Price:     obs.Price,
				Source:    string(obs.Source),
				Timestamp: obs.Timestamp,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":     len(symbols),
			"snapshots": snapshots,
		})
	})

	return mux
}
