package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/apifabric/internal/batch"
	"github.com/vitaliisemenov/apifabric/internal/cache"
	fabricconfig "github.com/vitaliisemenov/apifabric/internal/config"
	"github.com/vitaliisemenov/apifabric/internal/eventqueue"
	"github.com/vitaliisemenov/apifabric/internal/jobstore"
	"github.com/vitaliisemenov/apifabric/internal/polling"
	"github.com/vitaliisemenov/apifabric/internal/ratelimit"
	"github.com/vitaliisemenov/apifabric/internal/webhook"
	"github.com/vitaliisemenov/apifabric/pkg/logger"
	"github.com/vitaliisemenov/apifabric/pkg/metrics"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Response Cache, Batch Processor, Polling Manager and Webhook Manager",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
}

func runServe(c *cobra.Command, args []string) error {
	cfg, err := fabricconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("fabricd: load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	promReg := prometheus.NewRegistry()
	m := metrics.NewRegistry("apifabric", promReg)

	cachePolicy := toCachePolicy(cfg.Cache, log)
	respCache, err := cache.New(cachePolicy, log, m.Cache())
	if err != nil {
		return fmt.Errorf("fabricd: construct cache: %w", err)
	}

	limiter := ratelimit.NewPerPluginLimiter(0, 0)
	queue := eventqueue.NewMemoryQueue(256)
	gw := echoGateway{}

	processor := batch.NewProcessor(batch.Config{
		MaxConcurrentJobs:       cfg.Batch.MaxConcurrentJobs,
		MaxOperationConcurrency: cfg.Batch.MaxOperationConcurrency,
		DefaultTimeout:          cfg.Batch.DefaultTimeout,
		DefaultMaxRetries:       cfg.Batch.DefaultMaxRetries,
		DefaultRetryDelay:       cfg.Batch.DefaultRetryDelay,
	}, gw, log, m.Batch(), limiter, m.Retry())

	pollingMgr := polling.NewManager(polling.Config{
		MinInterval:       cfg.Polling.MinInterval,
		MaxConcurrentJobs: cfg.Polling.MaxConcurrentJobs,
	}, gw, log, m.Polling(), limiter, queue)

	webhookMgr := webhook.NewManager(webhook.Config{
		Host:    cfg.Webhook.Host,
		Port:    cfg.Webhook.Port,
		BaseURL: cfg.Webhook.BaseURL,
	}, log, m.Webhook(), queue)

	if cfg.JobStore.Enabled {
		store, err := jobstore.Open(cfg.JobStore.DSN, log)
		if err != nil {
			return fmt.Errorf("fabricd: open jobstore: %w", err)
		}
		defer store.Close()
		processor.SetArchiver(store)
		pollingMgr.SetArchiver(store)
	}

	pollingMgr.Start()
	defer pollingMgr.Stop()

	if err := webhookMgr.StartServer(); err != nil {
		return fmt.Errorf("fabricd: start webhook server: %w", err)
	}
	defer webhookMgr.StopServer()

	metricsSrv := startMetricsServer(metricsAddr, promReg, log)
	defer shutdownMetricsServer(metricsSrv, log)

	log.Info("fabricd: running",
		"webhook_addr", webhookMgr.ListenAddr(),
		"metrics_addr", metricsAddr,
		"cache_max_items", cfg.Cache.MaxItems,
		"batch_max_concurrent_jobs", cfg.Batch.MaxConcurrentJobs,
	)
	_ = respCache // kept alive for the duration of the process; exposed to plugins via a future registry

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("fabricd: shutting down")
	return nil
}

func toCachePolicy(cc fabricconfig.CacheConfig, log *slog.Logger) cache.Policy {
	policy := cache.Policy{
		MaxBytes:            cc.MaxBytes,
		MaxItems:            cc.MaxItems,
		DefaultTTL:          cc.DefaultTTL,
		EvictionStrategy:    cache.EvictionStrategy(cc.EvictionStrategy),
		AutoRefreshEnabled:  cc.AutoRefreshEnabled,
		RefreshThreshold:    cc.RefreshThreshold,
		PerPluginItemLimits: cc.PerPluginLimits,
		CacheDir:            cc.CacheDir,
		PersistCache:        cc.PersistCache,
	}
	if len(cc.PerOperationTTL) > 0 {
		policy.PerOperationTTL = make(map[string]time.Duration, len(cc.PerOperationTTL))
		for key, raw := range cc.PerOperationTTL {
			d, err := time.ParseDuration(raw)
			if err != nil {
				log.Warn("fabricd: ignoring invalid per_operation_ttl entry", "key", key, "value", raw, "error", err)
				continue
			}
			policy.PerOperationTTL[key] = d
		}
	}
	return policy
}

func startMetricsServer(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("fabricd: metrics server exited", "error", err)
		}
	}()
	return srv
}

func shutdownMetricsServer(srv *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("fabricd: metrics server shutdown error", "error", err)
	}
}
