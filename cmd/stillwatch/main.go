package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/quietdesk/stillwatch/internal/alertcfg"
	"github.com/quietdesk/stillwatch/internal/alertlog"
	"github.com/quietdesk/stillwatch/internal/archive"
	"github.com/quietdesk/stillwatch/internal/config"
	"github.com/quietdesk/stillwatch/internal/engine"
	"github.com/quietdesk/stillwatch/internal/feed"
	"github.com/quietdesk/stillwatch/internal/instrumentation"
	"github.com/quietdesk/stillwatch/internal/logger"
	"github.com/quietdesk/stillwatch/internal/models"
	"github.com/quietdesk/stillwatch/internal/pipeline"
	"github.com/quietdesk/stillwatch/internal/resolve"
	"github.com/quietdesk/stillwatch/internal/server"
	"github.com/quietdesk/stillwatch/internal/session"
	"github.com/quietdesk/stillwatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	var arch *archive.Archive
	if cfg.Archive.Enabled {
		arch, err = archive.New(cfg.Archive.MaxRows, cfg.Archive.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize alert archive: %v", err)
		}
		defer func() {
			if err := arch.Close(); err != nil {
				logger.Error("Failed to close alert archive: %v", err)
			}
		}()
		logger.Info("Alert archive enabled (max_rows: %d)", cfg.Archive.MaxRows)
	}

	var notifier *telegram.Client
	if cfg.Telegram.Enabled {
		notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telegram.Enabled && notifier != nil {
		notifier.ListenForCommands(ctx)
	}

	metrics := instrumentation.New()
	oracle := session.NewCalendarOracle()
	failPolicy := session.ParseFailPolicy(cfg.Session.FailPolicy)

	instruments := make(map[string]resolve.Entry, len(cfg.Instruments))
	for key, info := range cfg.Instruments {
		instruments[key] = resolve.Entry{Name: info.Name, Exchange: info.Exchange}
	}
	resolver := resolve.NewTable(instruments)

	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		p, err := buildPipeline(fc, cfg, oracle, failPolicy, resolver, metrics, notifier, arch)
		if err != nil {
			logger.Fatal("Failed to build pipeline %s: %v", fc.Name, err)
		}
		pipelines = append(pipelines, p)
	}

	var wg sync.WaitGroup
	for _, p := range pipelines {
		wg.Add(1)
		go func(p *pipeline.Pipeline) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
		logger.Info("Started pipeline %s", p.Name())
	}

	api := server.New(pipelines)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP API listening on %s", cfg.HTTP.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, cleaning up...")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed: %v", err)
	}

	cancel()
	wg.Wait()
	logger.Info("Service stopped")
}

// buildPipeline assembles one feed's adapter, engine, and sinks. Each feed
// owns its own configuration store and alert log; nothing is shared across
// feeds except read-only collaborators.
func buildPipeline(
	fc config.FeedConfig,
	cfg *config.Config,
	oracle session.Oracle,
	failPolicy session.FailPolicy,
	resolver resolve.Resolver,
	metrics *instrumentation.Metrics,
	notifier *telegram.Client,
	arch *archive.Archive,
) (*pipeline.Pipeline, error) {
	store, err := alertcfg.New(toPolicy(cfg.Alerts.Default))
	if err != nil {
		return nil, err
	}
	for key, p := range cfg.Alerts.Overrides {
		if err := store.Set(key, toPolicy(p)); err != nil {
			return nil, err
		}
	}

	log := alertlog.New(cfg.Alerts.LogCapacity)
	eng := engine.New(store, log, oracle, failPolicy, resolver)

	client := feed.NewClient(feed.Options{
		Name:          fc.Name,
		URL:           fc.URL,
		FreezeTimeout: fc.FreezeTimeout,
		ReconnectMin:  fc.ReconnectMin,
		ReconnectMax:  fc.ReconnectMax,
	})

	return pipeline.New(fc.Name, client, eng, metrics, notifier, arch, fc.FreezeTimeout), nil
}

func toPolicy(p config.PolicyConfig) models.AlertConfig {
	return models.AlertConfig{
		Enabled:            p.Enabled,
		Deviation:          p.Deviation,
		Duration:           p.Duration,
		RespectMarketHours: p.RespectMarketHours,
	}
}
