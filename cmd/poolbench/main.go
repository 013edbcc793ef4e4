// Package main is a load generator exercising a running pool.Manager
// configuration: it borrows and releases connections concurrently across
// every configured pool and reports throughput, replacing the teacher's
// unimplemented cmd/loadgen stub.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joaobrasildev/connpool/internal/config"
	"github.com/joaobrasildev/connpool/internal/pool"
)

var (
	configPath  = flag.String("config", "configs/poolsrv.yaml", "Path to pool server configuration file")
	concurrency = flag.Int("concurrency", 16, "Number of concurrent borrowers per pool")
	holdTime    = flag.Duration("hold", 5*time.Millisecond, "Simulated work duration per borrow")
	duration    = flag.Duration("duration", 30*time.Second, "How long to run the benchmark")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[loadgen] failed to load configuration: %v", err)
	}

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

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer bootCancel()

	driverFor := func(c pool.Config) pool.DriverFactory { return pool.SQLServerDriverFactory{DSN: c.DSN} }
	liveness := pool.QueryLiveness{Query: "SELECT 1"}

	manager, err := pool.NewManager(bootCtx, poolConfigs, driverFor, liveness)
	if err != nil {
		log.Fatalf("[loadgen] failed to initialize pool manager: %v", err)
	}
	defer manager.Shutdown()

	runCtx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[loadgen] interrupted, stopping early")
		cancel()
	}()

	var (
		successes atomic.Int64
		failures  atomic.Int64
		wg        sync.WaitGroup
	)

	log.Printf("[loadgen] running %d pool(s) x %d worker(s) for %s", len(cfg.Pools), *concurrency, *duration)

	for _, t := range cfg.Pools {
		name := t.Name
		for i := 0; i < *concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-runCtx.Done():
						return
					default:
					}

					conn, err := manager.Acquire(runCtx, name)
					if err != nil {
						if runCtx.Err() != nil {
							return
						}
						failures.Add(1)
						continue
					}

					time.Sleep(*holdTime)
					conn.Close()
					successes.Add(1)
				}
			}()
		}
	}

	reportTicker := time.NewTicker(5 * time.Second)
	defer reportTicker.Stop()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	for {
		select {
		case <-reportTicker.C:
			log.Printf("[loadgen] progress: successes=%d failures=%d", successes.Load(), failures.Load())
			for _, s := range manager.Stats() {
				log.Printf("[loadgen]   pool %s: idle=%d active=%d waiting=%d", s.Name, s.IdleConnections, s.ActiveConnections, s.ThreadsAwaitingConnection)
			}
		case <-done:
			fmt.Printf("[loadgen] done: successes=%d failures=%d\n", successes.Load(), failures.Load())
			return
		}
	}
}
