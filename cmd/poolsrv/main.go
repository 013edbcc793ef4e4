// Package main is the entrypoint for the connection pool server. It loads
// configuration, initializes metrics and health endpoints, starts one
// pool per configured target database, and optionally bridges them to a
// distributed Redis observer.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log"

	"github.com/joaobrasildev/connpool/internal/config"
	"github.com/joaobrasildev/connpool/internal/coordinator"
	"github.com/joaobrasildev/connpool/internal/health"
	"github.com/joaobrasildev/connpool/internal/metrics"
	"github.com/joaobrasildev/connpool/internal/pool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configPath = flag.String("config", "configs/poolsrv.yaml", "Path to pool server configuration file")

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] starting connection pool server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] failed to load configuration: %v", err)
	}
	log.Printf("[main] configuration loaded: %d pools, instance=%s", len(cfg.Pools), cfg.Server.InstanceID)

	for _, t := range cfg.Pools {
		log.Printf("[main]   pool %s -> %s:%d (max=%d, min_idle=%d)", t.Name, t.Host, t.Port, t.MaximumPoolSize, t.MinimumIdle)
		metrics.ConnectionsMax.WithLabelValues(t.Name).Set(float64(t.MaximumPoolSize))
	}
	metrics.InstanceHeartbeat.WithLabelValues(cfg.Server.InstanceID).Set(1)

	// ─── Metrics HTTP server ────────────────────────────────────────
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] metrics server listening on :%d/metrics", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] metrics server error: %v", err)
		}
	}()

	// ─── Pool manager ───────────────────────────────────────────────
	log.Println("[main] initializing connection pool manager...")
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer bootCancel()

	poolConfigs := make([]pool.Config, 0, len(cfg.Pools))
	for _, t := range cfg.Pools {
		poolConfigs = append(poolConfigs, pool.Config{
			Name: t.Name,
			DSN: pool.DSN{
				Host:     t.Host,
				Port:     t.Port,
				Database: t.Database,
				Username: t.Username,
				Password: t.Password,
			},
			MaximumPoolSize:        t.MaximumPoolSize,
			MinimumIdle:            t.MinimumIdle,
			ConnectionTimeout:      t.ConnectionTimeout,
			IdleTimeout:            t.IdleTimeout,
			MaxLifetime:            t.MaxLifetime,
			ValidationTimeout:      t.ValidationTimeout,
			ConnectionTestQuery:    t.ConnectionTestQuery,
			IsolateInternalQueries: t.IsolateInternalQueries,
			HousekeeperPeriod:      t.HousekeeperPeriod,
		})
	}

	driverFor := func(c pool.Config) pool.DriverFactory {
		return pool.SQLServerDriverFactory{DSN: c.DSN}
	}
	liveness := pool.QueryLiveness{Query: "SELECT 1"}

	manager, err := pool.NewManager(bootCtx, poolConfigs, driverFor, liveness)
	if err != nil {
		log.Fatalf("[main] failed to initialize pool manager: %v", err)
	}
	defer func() {
		log.Println("[main] shutting down pool manager...")
		if err := manager.Shutdown(); err != nil {
			log.Printf("[main] pool manager shutdown error: %v", err)
		}
	}()
	log.Println("[main] pool manager ready")
	for _, s := range manager.Stats() {
		log.Printf("[main]   pool %s: idle=%d active=%d total=%d", s.Name, s.IdleConnections, s.ActiveConnections, s.TotalConnections)
	}

	// ─── Health checker ─────────────────────────────────────────────
	rc, err := coordinator.New(bootCtx, cfg.Redis, cfg.Server.InstanceID)
	if err != nil {
		log.Fatalf("[main] failed to initialize coordinator: %v", err)
	}
	defer func() {
		log.Println("[main] closing coordinator...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		if err := rc.Close(shutCtx); err != nil {
			log.Printf("[main] coordinator close error: %v", err)
		}
	}()
	if rc.IsFallback() {
		log.Println("[main] coordinator started in FALLBACK mode (redis unavailable or unconfigured)")
	} else {
		log.Println("[main] coordinator ready (redis connected)")
	}

	hb := coordinator.NewHeartbeat(rc, cfg.Redis.HeartbeatInterval, cfg.Redis.HeartbeatTTL)
	hb.Start(context.Background())
	defer hb.Stop()

	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	defer bridgeCancel()
	go coordinator.Bridge(bridgeCtx, rc, manager, 10*time.Second)

	checker := health.NewChecker(cfg.Server.InstanceID, manager, rc)
	healthServer := checker.ServeHTTP(context.Background(), fmt.Sprintf(":%d", cfg.Server.HealthCheckPort))
	log.Printf("[main] health check server listening on :%d/health", cfg.Server.HealthCheckPort)

	// ─── Graceful shutdown ──────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] server is ready, waiting for shutdown signal...")
	sig := <-sigCh
	log.Printf("[main] received signal %v, shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	metrics.InstanceHeartbeat.WithLabelValues(cfg.Server.InstanceID).Set(0)

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] health server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] metrics server shutdown error: %v", err)
	}

	log.Println("[main] shutdown complete")
}
