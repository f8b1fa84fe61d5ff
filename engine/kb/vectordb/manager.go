package vectordb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/inquira/inquira/pkg/logger"
)

// Manager hands out reference-counted stores keyed by configuration ID so
// ingestion and retrieval share one backend connection per index.
type Manager struct {
	mu     sync.Mutex
	leases map[string]*lease
}

type lease struct {
	store       Store
	refs        int
	fingerprint string
}

var defaultManager = NewManager()

// NewManager returns a manager with no open stores.
func NewManager() *Manager {
	return &Manager{leases: make(map[string]*lease)}
}

// AcquireShared acquires a store from the process-wide manager. The returned
// release func must be called once per acquisition; the backend closes when
// the last holder releases.
func AcquireShared(ctx context.Context, cfg *Config) (Store, func(context.Context) error, error) {
	return defaultManager.AcquireShared(ctx, cfg)
}

// AcquireShared opens or reuses the store registered under cfg.ID. Reuse
// requires the full configuration to match; two components asking for the
// same ID with different settings is a wiring bug, not a fallback case.
func (m *Manager) AcquireShared(ctx context.Context, cfg *Config) (Store, func(context.Context) error, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, nil, err
	}
	id := strings.TrimSpace(cfg.ID)
	fp := fingerprint(cfg)

	m.mu.Lock()
	if existing, ok := m.leases[id]; ok {
		defer m.mu.Unlock()
		if existing.fingerprint != fp {
			return nil, nil, fmt.Errorf("vector_db %q: conflicting configuration for shared store", id)
		}
		existing.refs++
		return existing.store, m.release(id, fp), nil
	}
	m.mu.Unlock()

	store, err := instantiateStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// Another caller may have registered the same ID while we were
	// connecting; keep theirs and discard ours.
	m.mu.Lock()
	if existing, ok := m.leases[id]; ok {
		matched := existing.fingerprint == fp
		if matched {
			existing.refs++
		}
		shared := existing.store
		m.mu.Unlock()
		if closeErr := store.Close(ctx); closeErr != nil {
			logger.FromContext(ctx).Warn("Failed to close redundant vector store",
				"vector_id", id, "error", closeErr)
		}
		if !matched {
			return nil, nil, fmt.Errorf("vector_db %q: conflicting configuration for shared store", id)
		}
		return shared, m.release(id, fp), nil
	}
	m.leases[id] = &lease{store: store, refs: 1, fingerprint: fp}
	m.mu.Unlock()
	return store, m.release(id, fp), nil
}

func (m *Manager) release(id string, fp string) func(context.Context) error {
	return func(ctx context.Context) error {
		m.mu.Lock()
		entry, ok := m.leases[id]
		if !ok || entry.fingerprint != fp {
			m.mu.Unlock()
			return nil
		}
		entry.refs--
		if entry.refs > 0 {
			m.mu.Unlock()
			return nil
		}
		delete(m.leases, id)
		store := entry.store
		m.mu.Unlock()
		untrackVectorPool(id)
		return store.Close(ctx)
	}
}

// fingerprint flattens every connection-relevant field so config drift under
// a reused ID is detectable. The unit separator keeps adjacent fields from
// gluing into false matches.
func fingerprint(cfg *Config) string {
	const sep = "\x1f"
	parts := []string{
		string(cfg.Provider),
		strings.TrimSpace(cfg.DSN),
		strings.TrimSpace(cfg.Path),
		strings.TrimSpace(cfg.Table),
		strings.TrimSpace(cfg.Collection),
		strings.TrimSpace(cfg.Namespace),
		strings.TrimSpace(cfg.Index),
		strings.TrimSpace(cfg.Metric),
		strconv.Itoa(cfg.Dimension),
		strconv.Itoa(cfg.MaxTopK),
		strconv.FormatBool(cfg.EnsureIndex),
		flattenAuth(cfg.Auth),
	}
	return strings.Join(parts, sep)
}

func flattenAuth(auth map[string]string) string {
	if len(auth) == 0 {
		return ""
	}
	keys := make([]string, 0, len(auth))
	for key := range auth {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(auth[key])
		b.WriteByte(';')
	}
	return b.String()
}
