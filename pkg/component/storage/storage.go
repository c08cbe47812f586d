// Package storage keeps a registry of the backing clients the service
// depends on (Redis, Milvus, SQLite) for health checks and shutdown.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Client is a backing store that can be probed and closed.
type Client interface {
	// Name returns the storage type identifier, e.g. "redis".
	Name() string
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close(ctx context.Context) error
}

// HealthStatus is the result of probing one client.
type HealthStatus struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Manager manages multiple storage clients. It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{clients: make(map[string]Client)}
}

// Register adds a client under its Name. Names must be unique.
func (m *Manager) Register(client Client) error {
	if client == nil {
		return fmt.Errorf("storage client cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := client.Name()
	if _, exists := m.clients[name]; exists {
		return fmt.Errorf("storage client %q is already registered", name)
	}
	m.clients[name] = client
	return nil
}

// List returns the registered client names in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll probes every client concurrently, each bounded by timeout,
// and returns the statuses sorted by name.
func (m *Manager) HealthCheckAll(ctx context.Context, timeout time.Duration) []HealthStatus {
	m.mu.RLock()
	clients := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	statuses := make([]HealthStatus, len(clients))
	var g errgroup.Group
	for i, c := range clients {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := c.Ping(pctx)
			statuses[i] = HealthStatus{Name: c.Name(), Healthy: err == nil, Latency: time.Since(start)}
			if err != nil {
				statuses[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// AllHealthy reports whether every status is healthy.
func AllHealthy(statuses []HealthStatus) bool {
	for _, s := range statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// CloseAll closes every client, continuing past failures, and empties the registry.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, c := range m.clients {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(m.clients, name)
	}
	return utilerrors.NewAggregate(errs)
}
