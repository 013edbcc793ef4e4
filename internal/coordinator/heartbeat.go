package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/joaobrasildev/connpool/internal/metrics"
)

// Heartbeat periodically refreshes this instance's liveness key in Redis,
// generalized from the teacher's coordinator.Heartbeat.
type Heartbeat struct {
	rc       *RedisCoordinator
	interval time.Duration
	ttl      time.Duration
	stopCh   chan struct{}
}

// NewHeartbeat creates a heartbeat worker for rc.
func NewHeartbeat(rc *RedisCoordinator, interval, ttl time.Duration) *Heartbeat {
	if interval == 0 {
		interval = 10 * time.Second
	}
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &Heartbeat{rc: rc, interval: interval, ttl: ttl, stopCh: make(chan struct{})}
}

// Start runs the heartbeat loop in a background goroutine.
func (hb *Heartbeat) Start(ctx context.Context) {
	go hb.loop(ctx)
}

// Stop signals the heartbeat loop to exit.
func (hb *Heartbeat) Stop() { close(hb.stopCh) }

func (hb *Heartbeat) loop(ctx context.Context) {
	hb.send(ctx)

	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.stopCh:
			return
		case <-ticker.C:
			hb.send(ctx)
		}
	}
}

func (hb *Heartbeat) send(ctx context.Context) {
	if hb.rc.IsFallback() {
		return
	}
	key := fmt.Sprintf(keyInstanceHB, hb.rc.instanceID)
	if err := hb.rc.client.Set(ctx, key, time.Now().Unix(), hb.ttl).Err(); err != nil {
		metrics.RedisOperations.WithLabelValues("heartbeat", "error").Inc()
		return
	}
	metrics.InstanceHeartbeat.WithLabelValues(hb.rc.instanceID).Set(1)
	metrics.RedisOperations.WithLabelValues("heartbeat", "ok").Inc()
}
