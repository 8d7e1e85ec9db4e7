package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"topograph/config"
	inputredis "topograph/internal/input/redis"
	"topograph/internal/logger"
	"topograph/internal/metrics"
	"topograph/internal/output/eventclickhouse"
	"topograph/internal/output/eventhttp"
	"topograph/internal/output/eventjson"
	"topograph/internal/pipeline"
	"topograph/internal/settings"
	"topograph/internal/statusstate"
	"topograph/internal/suppression"
)

func runServe(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}
	cfg, configPath := loadConfig(configArg)
	tc := cfg.Topograph

	logger.Infof("Topograph starting")
	logger.Infof("Config loaded from: %s", configPath)

	var reg *metrics.Registry
	if tc.Metrics.Enabled {
		reg = metrics.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, tc.Store, reg)
	if err != nil {
		logger.Errorf("Failed to open graph store: %v", err)
		log.Fatalf("Failed to open graph store: %v", err)
	}

	redisCfg := tc.Input.Redis
	edgeConsumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         redisCfg.Addr,
		Password:     redisCfg.Password,
		DB:           redisCfg.DB,
		Key:          redisCfg.EdgesKey,
		BlockTimeout: redisCfg.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create edge consumer: %v", err)
		log.Fatalf("Failed to create edge consumer: %v", err)
	}
	eventConsumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         redisCfg.Addr,
		Password:     redisCfg.Password,
		DB:           redisCfg.DB,
		Key:          redisCfg.EventsKey,
		BlockTimeout: redisCfg.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create event consumer: %v", err)
		log.Fatalf("Failed to create event consumer: %v", err)
	}

	var processor pipeline.Processor
	var statusStore *statusstate.RedisStore
	if tc.Suppression.Enabled {
		engine, rs, err := buildEngine(tc, store, reg)
		if err != nil {
			logger.Errorf("Failed to create suppression engine: %v", err)
			log.Fatalf("Failed to create suppression engine: %v", err)
		}
		processor, statusStore = engine, rs
		go engine.RunSweeper(ctx, time.Minute)
		logger.Infof("Suppression enabled: layers=%v ping_class=%s", tc.Suppression.Layers, tc.Suppression.PingEventClass)
	} else {
		logger.Warnf("Suppression disabled; events pass through unchanged")
	}

	writer := buildEventWriter(tc.Output)
	var rejects pipeline.RawWriter
	if tc.Pipeline.RejectsPath != "" {
		w, err := eventjson.NewRawWriter(tc.Pipeline.RejectsPath)
		if err != nil {
			log.Fatalf("Failed to create reject writer: %v", err)
		}
		rejects = w
	}

	pipe := pipeline.NewEventPipeline(eventConsumer, processor, writer, rejects, pipeline.Options{
		Workers:       tc.Pipeline.Workers,
		BatchSize:     tc.Pipeline.BatchSize,
		FlushInterval: tc.Pipeline.FlushInterval,
	})
	ingest := pipeline.NewEdgeIngest(edgeConsumer, store, nil)

	var srv *http.Server
	if reg != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv = &http.Server{Addr: tc.Metrics.Addr, Handler: mux}
		go func() {
			logger.Infof("Metrics listening on %s", tc.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Event pipeline error: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := ingest.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Edge ingest error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	wg.Wait()

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		done()
	}
	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing event pipeline: %v", err)
	}
	if err := edgeConsumer.Close(); err != nil {
		logger.Errorf("Error closing edge consumer: %v", err)
	}
	if statusStore != nil {
		statusStore.Close()
	}
	if err := store.Close(); err != nil {
		logger.Errorf("Error closing graph store: %v", err)
	}

	logger.Infof("Topograph stopped")
}

func buildEngine(tc config.TopographConfig, edges suppression.EdgeSource, reg *metrics.Registry) (*suppression.Engine, *statusstate.RedisStore, error) {
	sc := tc.Suppression

	var source settings.Source = settings.Static{Fallback: settings.Defaults()}
	if sc.SettingsPath != "" {
		tree, err := settings.LoadTree(sc.SettingsPath)
		if err != nil {
			return nil, nil, err
		}
		source = tree
		logger.Infof("Suppression settings loaded from %s", sc.SettingsPath)
	} else {
		logger.Warnf("No suppression settings_path; every device uses defaults")
	}

	var (
		status statusstate.Store
		rs     *statusstate.RedisStore
	)
	switch sc.Status.Driver {
	case "redis":
		var err error
		rs, err = statusstate.NewRedisStore(statusstate.RedisConfig{
			Addr:      tc.Input.Redis.Addr,
			Password:  tc.Input.Redis.Password,
			DB:        tc.Input.Redis.DB,
			KeyPrefix: sc.Status.KeyPrefix,
			KeyTTL:    sc.Status.KeyTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		status = rs
	default:
		status = statusstate.NewMemoryStore()
	}

	engine, err := suppression.NewEngine(suppression.Options{
		Edges:          edges,
		Settings:       source,
		Status:         status,
		Layers:         sc.Layers,
		PingEventClass: sc.PingEventClass,
		TTL: suppression.TTLs{
			Status:    sc.TTL.Status,
			Settings:  sc.TTL.Settings,
			Gateways:  sc.TTL.Gateways,
			Neighbors: sc.TTL.Neighbors,
			Paths:     sc.TTL.Paths,
		},
		Metrics: reg,
	})
	if err != nil {
		if rs != nil {
			rs.Close()
		}
		return nil, nil, err
	}
	return engine, rs, nil
}

func buildEventWriter(oc config.OutputConfig) pipeline.EventWriter {
	switch oc.Mode {
	case "file":
		w, err := eventjson.NewWriter(oc.File.Path)
		if err != nil {
			logger.Errorf("Failed to create event file writer: %v", err)
			log.Fatalf("Failed to create event file writer: %v", err)
		}
		logger.Infof("Output mode: file (%s)", oc.File.Path)
		return w
	case "http":
		w, err := eventhttp.NewWriter(eventhttp.Config{
			URL:     oc.HTTP.URL,
			Timeout: oc.HTTP.Timeout,
			Headers: oc.HTTP.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create event HTTP writer: %v", err)
			log.Fatalf("Failed to create event HTTP writer: %v", err)
		}
		logger.Infof("Output mode: http (%s)", oc.HTTP.URL)
		return w
	case "clickhouse":
		w, err := eventclickhouse.NewWriter(eventclickhouse.Config{
			URL:      oc.ClickHouse.URL,
			Database: oc.ClickHouse.Database,
			Table:    oc.ClickHouse.Table,
			Username: oc.ClickHouse.Username,
			Password: oc.ClickHouse.Password,
			Timeout:  oc.ClickHouse.Timeout,
			Headers:  oc.ClickHouse.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create event ClickHouse writer: %v", err)
			log.Fatalf("Failed to create event ClickHouse writer: %v", err)
		}
		logger.Infof("Output mode: clickhouse (%s/%s.%s)", oc.ClickHouse.URL, oc.ClickHouse.Database, oc.ClickHouse.Table)
		return w
	default:
		log.Fatalf("Unknown output mode: %s", oc.Mode)
	}
	return nil
}
