// Command flowgate serves registered flows over the flow invocation HTTP
// protocol. With -manifest it serves canned flows from a YAML manifest,
// which is useful while developing clients.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jllopis/flowgate/pkg/audit"
	"github.com/jllopis/flowgate/pkg/config"
	"github.com/jllopis/flowgate/pkg/flow"
	"github.com/jllopis/flowgate/pkg/gateway"
	"github.com/jllopis/flowgate/pkg/telemetry"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	manifestPath := flag.String("manifest", "", "static flow manifest (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("flowgate", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *manifestPath != "" {
		cfg.Server.ManifestPath = *manifestPath
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdownTelemetry, err := telemetry.Init("flowgate", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		fatal(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	registry := flow.NewRegistry()
	if cfg.Server.ManifestPath != "" {
		manifest, err := flow.LoadManifest(cfg.Server.ManifestPath)
		if err != nil {
			fatal(err)
		}
		actions, err := manifest.Actions()
		if err != nil {
			fatal(err)
		}
		for _, action := range actions {
			if err := registry.Register(action); err != nil {
				fatal(err)
			}
		}
		logger.Info("static flows loaded", "path", cfg.Server.ManifestPath, "flows", len(actions))
	}

	metrics, err := telemetry.NewGatewayMetrics()
	if err != nil {
		logger.Warn("gateway metrics unavailable", "error", err)
	}

	recorder, closeAudit, err := buildRecorder(cfg.Audit)
	if err != nil {
		fatal(err)
	}
	if closeAudit != nil {
		defer closeAudit()
	}

	gw := gateway.New(registry,
		gateway.WithLogger(logger),
		gateway.WithTimeout(cfg.Server.InvokeTimeout),
		gateway.WithMetrics(metrics),
		gateway.WithRecorder(recorder),
	)

	mux := http.NewServeMux()
	mux.Handle("/", gw)
	mux.HandleFunc("GET /flows", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{"flows": registry.Names()})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version})
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, config.WithWatchLogger(logger))
		if err != nil {
			fatal(err)
		}
		watcher.OnChange(func(next *config.Config) {
			telemetry.ConfigureSlog(os.Stderr, next.Log.Level, next.Log.Format)
			logger.Info("log settings reloaded", "level", next.Log.Level, "format", next.Log.Format)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("flowgate listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fatal(err)
		}
	}
}

func buildRecorder(cfg config.AuditConfig) (audit.Recorder, func(), error) {
	switch cfg.Backend {
	case "", "off":
		return nil, nil, nil
	case "memory":
		return audit.NewMemoryStore(), nil, nil
	case "sqlite":
		db, err := audit.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := audit.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "flowgate:", err)
	os.Exit(1)
}
