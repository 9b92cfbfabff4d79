package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/admin"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/blob"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/cluster"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/config"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hlc"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hooks"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/kv"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/observability"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/rpc"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/sqlexec"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/wasmplugin"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "aspen-plugin-host: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(logrus.Fields{"node_id": cfg.Node.ID, "kv_backend": cfg.KV.Backend}).
		Info("starting plugin host")

	kvStore, err := buildKVStore(cfg)
	if err != nil {
		return err
	}
	blobStore, err := buildBlobStore(cfg)
	if err != nil {
		return err
	}

	secretKey, err := cfg.SecretKey()
	if err != nil {
		return err
	}
	trustedKey, err := cfg.TrustedKey()
	if err != nil {
		return err
	}

	var promRegistry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		promRegistry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(promRegistry)
	}

	hooksConfig := hooks.Config{Enabled: true}
	hookService := hooks.NewService(hooksConfig, logger)

	var sqlExec sqlexec.Executor
	if cfg.Plugins.SQLitePath != "" {
		exec, err := sqlexec.NewSQLiteExecutor(cfg.Plugins.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open SQLite database: %w", err)
		}
		defer exec.Close()
		sqlExec = exec
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Publish local plugin bundles before the registry scans manifests.
	if cfg.Plugins.Dir != "" {
		loader := wasmplugin.NewLoader(kvStore, blobStore, logger)
		manifests, err := loader.PublishAll(ctx, cfg.Plugins.Dir)
		if err != nil {
			return fmt.Errorf("failed to publish plugin directory: %w", err)
		}
		logger.WithField("count", len(manifests)).Info("local plugins published")
	}

	rpcRegistry := rpc.NewRegistry(logger)
	registry, err := wasmplugin.NewLiveRegistry(wasmplugin.RegistryConfig{
		KV:          kvStore,
		Blob:        blobStore,
		Cluster:     cluster.NewStatic(cfg.Node.ID),
		NodeID:      cfg.Node.ID,
		SecretKey:   secretKey,
		Clock:       hlc.NewClock(fmt.Sprintf("node-%d", cfg.Node.ID)),
		HookService: hookService,
		HooksConfig: hooksConfig,
		SQL:         sqlExec,
		Apps:        cluster.NewAppRegistry(),
		RPC:         rpcRegistry,
		Logger:      logger,
		Metrics:     metrics,
		TrustedKey:  trustedKey,
	})
	if err != nil {
		return err
	}

	if err := registry.LoadAll(ctx); err != nil {
		return fmt.Errorf("initial plugin load failed: %w", err)
	}
	defer registry.ShutdownAll(context.Background())

	go runHealthChecks(ctx, registry, cfg.Plugins.HealthCheckInterval, logger)

	server := admin.NewServer(registry, hookService, cfg.Node.ID, logger, promRegistry, metrics)
	logger.WithField("addr", cfg.Admin.Addr).Info("admin API listening")
	if err := server.ListenAndServe(ctx, cfg.Admin.Addr); err != nil {
		return err
	}

	logger.Info("plugin host stopped")
	return nil
}

func buildKVStore(cfg *config.Config) (kv.Store, error) {
	switch cfg.KV.Backend {
	case "redis":
		return kv.NewRedisStoreURL(cfg.KV.RedisURL)
	default:
		return kv.NewMemoryStore(), nil
	}
}

func buildBlobStore(cfg *config.Config) (blob.Store, error) {
	if cfg.Blob.Root == "" {
		return blob.NewMemoryStore(), nil
	}
	return blob.NewFilesystemStore(cfg.Blob.Root)
}

func runHealthChecks(ctx context.Context, registry *wasmplugin.LiveRegistry, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, health := range registry.HealthAll(ctx) {
				if health.Status == "healthy" {
					continue
				}
				logger.WithFields(logrus.Fields{
					"plugin":  name,
					"status":  health.Status,
					"message": health.Message,
				}).Warn("plugin health degraded")
			}
		}
	}
}
