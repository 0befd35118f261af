package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/alerts"
	"github.com/ceres-kyc/screening/internal/cache"
	"github.com/ceres-kyc/screening/internal/config"
	"github.com/ceres-kyc/screening/internal/metrics"
	"github.com/ceres-kyc/screening/internal/screening"
	"github.com/ceres-kyc/screening/internal/screening/sources"
	"github.com/ceres-kyc/screening/internal/screening/store"
	"github.com/ceres-kyc/screening/pkg/logger"
)

// storeDirectory resolves customers from the database.
type storeDirectory struct {
	store *store.Store
}

func (d *storeDirectory) Customer(ctx context.Context, id string) (*screening.Customer, error) {
	row, err := d.store.CustomerByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, screening.ErrCustomerNotFound
		}
		return nil, err
	}
	return &screening.Customer{
		ID:          row.ID,
		FullName:    row.FullName,
		EntityType:  screening.EntityType(row.EntityType),
		DateOfBirth: row.DateOfBirth,
		Nationality: row.Nationality,
	}, nil
}

func main() {
	cfg := config.LoadConfig()

	zlog, err := logger.NewSugared(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgres(cfg.DBUrl, 0, 0)
	if err != nil {
		zlog.Fatalw("Failed to connect to database", "error", err)
	}

	cacheMgr := cache.NewManager(newRedisClient(ctx, cfg, zlog), zlog)
	defer cacheMgr.Close()

	manager := buildSources(ctx, cfg, st, zlog)

	alertMgr := alerts.NewManager(store.NewAlertSink(st), zlog)
	hub := alerts.NewHub(alertMgr, 100, zlog)
	alertMgr.Subscribe("", hub)
	if cfg.WebhookURL != "" {
		alertMgr.Subscribe("", alerts.NewWebhookChannel(cfg.WebhookURL, http.MethodPost, nil, 0, zlog))
	}

	engine := screening.NewEngine(manager, st, cacheMgr, alertMgr, &storeDirectory{store: st}, screening.EngineConfig{
		MatchThreshold:   cfg.MatchThreshold,
		AlertThreshold:   cfg.AlertThreshold,
		FreshnessWindow:  cfg.FreshnessWindow,
		MaxRetries:       cfg.MaxRetries,
		RetryDelay:       cfg.RetryDelay,
		BatchConcurrency: cfg.BatchConcurrency,
	}, zlog)

	go refreshLoop(ctx, cfg, manager, st, cacheMgr, zlog)

	api := &apiServer{engine: engine, alerts: alertMgr, manager: manager, log: zlog}
	mux := http.NewServeMux()
	api.routes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/alerts", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("user"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		zlog.Infow("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatalw("HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	zlog.Infow("Shutting down")

	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warnw("HTTP shutdown failed", "error", err)
	}
}

// newRedisClient connects to Redis; on failure the cache runs in
// local-only mode.
func newRedisClient(ctx context.Context, cfg *config.Config, zlog *zap.SugaredLogger) redis.UniversalClient {
	var client *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zlog.Warnw("Invalid redis URL, running cache local-only", "error", err)
			return nil
		}
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zlog.Warnw("Redis unreachable, running cache local-only", "error", err)
		return nil
	}
	return client
}

// buildSources registers every enabled adapter and syncs the source
// registry table.
func buildSources(ctx context.Context, cfg *config.Config, st *store.Store, zlog *zap.SugaredLogger) *screening.Manager {
	fetch := sources.NewFetcher(cfg.SourceTimeout, cfg.MaxRetries, cfg.RetryDelay, cfg.UserAgent, zlog)
	manager := screening.NewManager(cfg.SourceTimeout, zlog)

	// 10 requests per second against any single source
	const minInterval = 100 * time.Millisecond

	for code, sc := range cfg.Sources {
		if !sc.Enabled {
			zlog.Infow("Source disabled by configuration", "source", code)
			continue
		}
		var src screening.Source
		switch code {
		case "ofac_sdn":
			src = sources.NewOFAC(sc.BaseURL, sc.CacheTTL, fetch, zlog)
		case "un_consolidated":
			src = sources.NewUN(sc.BaseURL, sc.CacheTTL, fetch, zlog)
		case "eu_sanctions":
			src = sources.NewEU(sc.BaseURL, sc.CacheTTL, fetch, zlog)
		case "uk_ofsi":
			src = sources.NewUKOFSI(sc.BaseURL, sc.CacheTTL, fetch, zlog)
		case "opensanctions_pep":
			src = sources.NewOpenSanctions(sc.BaseURL, sc.APIKey, fetch, zlog)
		case "opencorporates":
			src = sources.NewOpenCorporates(sc.BaseURL, sc.APIKey, fetch, zlog)
		default:
			zlog.Warnw("Unknown source code in configuration", "source", code)
			continue
		}
		manager.Register(src, minInterval)

		if err := st.UpsertSource(ctx, &store.Source{
			Name:       src.Name(),
			Code:       src.Code(),
			SourceType: string(src.Type()),
			DataURL:    sc.BaseURL,
			IsActive:   true,
		}); err != nil {
			zlog.Warnw("Failed to sync source registry row", "source", code, "error", err)
		}
	}
	return manager
}

// refreshLoop keeps list-backed sources up to date and records the
// refresh outcomes.
func refreshLoop(ctx context.Context, cfg *config.Config, manager *screening.Manager, st *store.Store, cacheMgr *cache.Manager, zlog *zap.SugaredLogger) {
	refresh := func(force bool) {
		results := manager.UpdateAll(ctx, force)
		for code, result := range results {
			var entities int64
			if src, err := manager.Source(code); err == nil {
				entities = int64(src.Statistics().TotalEntities)
			}
			metrics.ObserveRefresh(code, result.Err, entities)

			if result.Err != nil {
				zlog.Errorw("Source refresh failed", "source", code, "error", result.Err)
				continue
			}
			if !result.Updated {
				continue
			}
			if err := st.TouchSourceUpdated(ctx, code, time.Now()); err != nil {
				zlog.Warnw("Failed to record source update", "source", code, "error", err)
			}
			if err := cacheMgr.InvalidateEvent(ctx, cache.EventSourceUpdated, ""); err != nil {
				zlog.Warnw("Cache invalidation failed", "event", "source_updated", "error", err)
			}
		}
	}

	refresh(false)

	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refresh(false)
		case <-ctx.Done():
			return
		}
	}
}
