// Package coordinator implements an optional, best-effort distributed
// observer for pool.Manager: when several processes share one logical
// pool name, it aggregates totalConnections across processes for
// dashboards/alerting, and it carries wakeups over Pub/Sub: NotifyRelease
// publishes one for a pool name, and Bridge turns each one received into a
// Pool.Kick, so that process's add-worker runs sooner than its next
// HouseKeeper sweep. Nothing in this module calls NotifyRelease when a pool
// releases a connection; a wakeup is published only where a caller
// invokes it.
//
// It never enforces capacity itself — spec.md's maximumPoolSize invariant
// is enforced locally and unconditionally by pool.Pool regardless of
// whether a coordinator is attached. If Redis is unreachable, the
// coordinator degrades to a local no-op (fallback mode) rather than
// failing pool operations, generalizing the teacher's RedisCoordinator
// fallback behavior.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/joaobrasildev/connpool/internal/config"
	"github.com/joaobrasildev/connpool/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	keyPoolTotal    = "connpool:pool:%s:total"
	keyInstanceList = "connpool:instances"
	keyInstanceHB   = "connpool:instance:%s:heartbeat"
	channelRelease  = "connpool:release:%s"
)

// RedisCoordinator is the distributed observer described above.
type RedisCoordinator struct {
	client     redis.UniversalClient
	cfg        config.RedisConfig
	instanceID string

	fallback atomic.Bool

	subMu       sync.Mutex
	subscribers map[string]*redis.PubSub

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New connects to Redis and registers this instance. If Redis is
// unreachable, it returns a coordinator already in fallback mode rather
// than an error, matching the teacher's "degrade, don't fail boot"
// behavior.
func New(ctx context.Context, cfg config.RedisConfig, instanceID string) (*RedisCoordinator, error) {
	if cfg.Addr == "" {
		rc := &RedisCoordinator{instanceID: instanceID, stopCh: make(chan struct{})}
		rc.fallback.Store(true)
		return rc, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rc := &RedisCoordinator{
		client:      client,
		cfg:         cfg,
		instanceID:  instanceID,
		subscribers: make(map[string]*redis.PubSub),
		stopCh:      make(chan struct{}),
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("[coordinator] Redis unavailable (%v), starting in fallback mode", err)
		rc.fallback.Store(true)
		metrics.RedisOperations.WithLabelValues("ping", "error").Inc()
		return rc, nil
	}
	metrics.RedisOperations.WithLabelValues("ping", "ok").Inc()

	if err := rc.client.SAdd(ctx, keyInstanceList, rc.instanceID).Err(); err != nil {
		return nil, fmt.Errorf("registering instance: %w", err)
	}

	log.Printf("[coordinator] connected: instance=%s addr=%s", rc.instanceID, cfg.Addr)
	return rc, nil
}

// IsFallback reports whether the coordinator is currently operating
// without Redis.
func (rc *RedisCoordinator) IsFallback() bool { return rc.fallback.Load() }

// ReportTotal publishes this instance's current totalConnections for a
// pool, so GlobalTotal on any instance can aggregate across the
// fleet.
func (rc *RedisCoordinator) ReportTotal(ctx context.Context, poolName string, total int) {
	if rc.IsFallback() {
		return
	}
	key := fmt.Sprintf(keyPoolTotal, poolName)
	field := rc.instanceID
	if err := rc.client.HSet(ctx, key, field, total).Err(); err != nil {
		metrics.RedisOperations.WithLabelValues("report_total", "error").Inc()
		return
	}
	metrics.RedisOperations.WithLabelValues("report_total", "ok").Inc()
}

// GlobalTotal sums totalConnections across every instance that has
// reported for poolName.
func (rc *RedisCoordinator) GlobalTotal(ctx context.Context, poolName string) (int, error) {
	if rc.IsFallback() {
		return 0, nil
	}
	key := fmt.Sprintf(keyPoolTotal, poolName)
	vals, err := rc.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, v := range vals {
		var n int
		fmt.Sscanf(v, "%d", &n)
		sum += n
	}
	return sum, nil
}

// NotifyRelease publishes a wakeup for poolName so other instances'
// add-workers can react without waiting for their next HouseKeeper sweep.
func (rc *RedisCoordinator) NotifyRelease(ctx context.Context, poolName string) {
	if rc.IsFallback() {
		return
	}
	channel := fmt.Sprintf(channelRelease, poolName)
	if err := rc.client.Publish(ctx, channel, "release").Err(); err != nil {
		metrics.RedisOperations.WithLabelValues("publish", "error").Inc()
	}
}

// Subscribe returns a channel that receives a value every time any
// instance publishes a release notification for poolName.
func (rc *RedisCoordinator) Subscribe(ctx context.Context, poolName string) <-chan struct{} {
	notifyCh := make(chan struct{}, 16)
	if rc.IsFallback() {
		close(notifyCh)
		return notifyCh
	}

	channel := fmt.Sprintf(channelRelease, poolName)
	sub := rc.client.Subscribe(ctx, channel)

	rc.subMu.Lock()
	rc.subscribers[poolName] = sub
	rc.subMu.Unlock()

	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		defer close(notifyCh)
		ch := sub.Channel()
		for {
			select {
			case <-rc.stopCh:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case notifyCh <- struct{}{}:
				default:
				}
			}
		}
	}()

	return notifyCh
}

// Close unregisters this instance and releases Redis resources.
func (rc *RedisCoordinator) Close(ctx context.Context) error {
	if rc.stopCh != nil {
		close(rc.stopCh)
	}

	rc.subMu.Lock()
	for _, sub := range rc.subscribers {
		sub.Close()
	}
	rc.subscribers = nil
	rc.subMu.Unlock()

	rc.wg.Wait()

	if rc.IsFallback() || rc.client == nil {
		return nil
	}

	rc.client.SRem(ctx, keyInstanceList, rc.instanceID)
	rc.client.Del(ctx, fmt.Sprintf(keyInstanceHB, rc.instanceID))
	return rc.client.Close()
}

// InstanceID returns this coordinator's instance identity.
func (rc *RedisCoordinator) InstanceID() string { return rc.instanceID }
