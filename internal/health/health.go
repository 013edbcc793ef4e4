// Package health exposes HTTP liveness/readiness endpoints reporting the
// status of every managed pool and the optional Redis coordinator,
// generalized from the teacher repo's internal/health package.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/joaobrasildev/connpool/internal/coordinator"
	"github.com/joaobrasildev/connpool/internal/pool"
)

// Status represents the health of a single component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is the health of one component (a pool, Redis, ...).
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the overall health report.
type Report struct {
	Status     Status            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	InstanceID string            `json:"instance_id"`
	Components []ComponentHealth `json:"components"`
}

// Checker produces Reports from a Manager and an optional coordinator.
type Checker struct {
	instanceID string
	manager    *pool.Manager
	rc         *coordinator.RedisCoordinator
}

// NewChecker creates a Checker. rc may be nil if no distributed
// coordinator is configured.
func NewChecker(instanceID string, manager *pool.Manager, rc *coordinator.RedisCoordinator) *Checker {
	return &Checker{instanceID: instanceID, manager: manager, rc: rc}
}

// Check reports the current health of every managed pool and the
// coordinator, if any. A pool is unhealthy when it has zero idle
// connections and zero remaining capacity to open one — i.e. it cannot
// currently serve a borrow without blocking. If any component is
// unhealthy, the overall report is unhealthy, matching the teacher's
// "any component down drags down the whole report" rule.
func (c *Checker) Check() *Report {
	report := &Report{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		InstanceID: c.instanceID,
	}

	for _, s := range c.manager.Stats() {
		comp := ComponentHealth{
			Name:    fmt.Sprintf("pool-%s", s.Name),
			Status:  StatusHealthy,
			Message: fmt.Sprintf("total=%d idle=%d active=%d waiting=%d", s.TotalConnections, s.IdleConnections, s.ActiveConnections, s.ThreadsAwaitingConnection),
		}
		if s.AtCapacity() {
			comp.Status = StatusUnhealthy
			comp.Message = fmt.Sprintf("%s (at capacity, cannot serve a borrow)", comp.Message)
		}
		report.Components = append(report.Components, comp)
	}

	if c.rc != nil {
		comp := ComponentHealth{Name: "redis-coordinator", Status: StatusHealthy, Message: "connected"}
		if c.rc.IsFallback() {
			comp.Status = StatusUnhealthy
			comp.Message = "fallback mode (redis unavailable)"
		}
		report.Components = append(report.Components, comp)
	}

	for _, comp := range report.Components {
		if comp.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
			break
		}
	}

	return report
}

// Handler builds the mux serving /health, /health/ready, /health/live,
// separated from ServeHTTP so it can be exercised directly in tests
// without binding a real listener.
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()

	writeReport := func(w http.ResponseWriter) {
		report := c.Check()
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { writeReport(w) })
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) { writeReport(w) })
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	})

	return mux
}

// ServeHTTP starts the health HTTP server on addr.
func (c *Checker) ServeHTTP(ctx context.Context, addr string) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      c.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go server.ListenAndServe()
	return server
}
