package coordinator

import (
	"context"
	"time"

	"github.com/joaobrasildev/connpool/internal/pool"
)

// Bridge connects a pool.Manager to a RedisCoordinator: it periodically
// reports each pool's totalConnections, and subscribes each pool's release
// channel so a wakeup from any other instance nudges this process's
// add-worker via Pool.Kick. It is a no-op loop when rc is in fallback
// mode — Subscribe/ReportTotal already degrade gracefully, so Bridge just
// keeps running without doing any network I/O.
func Bridge(ctx context.Context, rc *RedisCoordinator, manager *pool.Manager, reportInterval time.Duration) {
	if reportInterval <= 0 {
		reportInterval = 10 * time.Second
	}

	started := make(map[string]bool)

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range manager.Stats() {
				rc.ReportTotal(ctx, s.Name, s.TotalConnections)

				if !started[s.Name] {
					started[s.Name] = true
					p, ok := manager.Pool(s.Name)
					if !ok {
						continue
					}
					notifyCh := rc.Subscribe(ctx, s.Name)
					go func(name string, p *pool.Pool) {
						for range notifyCh {
							p.Kick()
						}
					}(s.Name, p)
				}
			}
		}
	}
}
