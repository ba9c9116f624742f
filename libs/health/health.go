package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckFunc probes one dependency; a non-nil error marks it unhealthy.
type CheckFunc func(context.Context) error

type Manager struct {
	ready atomic.Bool

	mu     sync.Mutex
	checks map[string]CheckFunc
}

func NewManager(initialReady bool) *Manager {
	m := &Manager{checks: map[string]CheckFunc{}}
	m.ready.Store(initialReady)
	return m
}

func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
}

func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

// AddCheck registers a named dependency probe run on every readiness
// request.
func (m *Manager) AddCheck(name string, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = fn
}

func (m *Manager) runChecks(ctx context.Context) map[string]string {
	m.mu.Lock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.Unlock()

	failures := map[string]string{}
	for name, fn := range checks {
		if err := fn(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessHandler reports ready only when the flag is set and every
// registered dependency probe passes within the deadline.
func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.IsReady() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if failures := m.runChecks(ctx); len(failures) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "failed": failures})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
