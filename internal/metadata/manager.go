// Package metadata caches which databases exist on the server and what
// tables and views each contains, scoped per identity, with a time-bounded
// persisted snapshot so fresh logins skip the introspection round-trips.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/tamadeu/jsMyAdmin-sub000/internal/identity"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/statestore"
	"go.uber.org/zap"
)

const (
	cacheKeyPrefix = "dbcache::"

	// DefaultTTL bounds how long a persisted snapshot is trusted.
	DefaultTTL = 5 * time.Minute
)

var (
	errMissingStore   = errors.New("state store is required")
	errMissingBackend = errors.New("backend is required")
	noOpLogger        = zap.NewNop()
)

// Config describes the dependencies required to build a Manager.
type Config struct {
	Store   statestore.Store
	Backend Backend
	Clock   func() time.Time
	TTL     time.Duration
	Logger  *zap.Logger
}

// State is the snapshot handed to subscribers and callers. Err is set only
// by a failed reload; corrupt persisted state heals silently.
type State struct {
	Databases []DatabaseEntry `json:"databases"`
	Loading   bool            `json:"loading"`
	Err       string          `json:"error,omitempty"`
}

// RefreshOptions selects between a full invalidation and a targeted eviction.
type RefreshOptions struct {
	// Force discards the whole persisted snapshot before reloading.
	Force bool
	// Database evicts only the named entry from the persisted snapshot.
	// The reload still refetches every database; the eviction only governs
	// what a hydration between now and the reload could serve.
	Database string
}

// Manager owns the cached metadata view for the current identity.
type Manager struct {
	store   statestore.Store
	backend Backend
	clock   func() time.Time
	ttl     time.Duration
	logger  *zap.Logger

	mu            sync.Mutex
	identity      identity.Identity
	authenticated bool
	databases     []DatabaseEntry
	loading       bool
	lastErr       string

	subMu       sync.Mutex
	subscribers map[int64]chan State
	nextSubID   int64
}

// NewManager constructs a Manager after validating its dependencies.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Manager{
		store:       cfg.Store,
		backend:     cfg.Backend,
		clock:       clock,
		ttl:         ttl,
		logger:      logger,
		subscribers: make(map[int64]chan State),
	}, nil
}

// Hydrate adopts the persisted snapshot for the identity when it is still
// inside its TTL window, and performs a full reload otherwise. A corrupt
// snapshot counts as absent.
func (m *Manager) Hydrate(ctx context.Context, id identity.Identity) State {
	m.mu.Lock()
	m.identity = id
	m.authenticated = true
	m.mu.Unlock()

	if snapshot, ok := m.readSnapshot(ctx, id); ok {
		age := m.clock().UTC().Unix() - snapshot.FetchedAtSeconds
		if age >= 0 && time.Duration(age)*time.Second < m.ttl {
			m.mu.Lock()
			m.databases = snapshot.Databases
			m.loading = false
			m.lastErr = ""
			state := m.stateLocked()
			m.mu.Unlock()
			m.publish(state)
			return state
		}
	}

	return m.reload(ctx)
}

// Refresh invalidates per the options and reloads from the backend. Failure
// is reported through the returned state, never raised.
func (m *Manager) Refresh(ctx context.Context, opts RefreshOptions) State {
	m.mu.Lock()
	id := m.identity
	authenticated := m.authenticated
	m.mu.Unlock()
	if !authenticated {
		return State{}
	}

	if opts.Database != "" && !opts.Force {
		m.evictEntry(ctx, id, opts.Database)
	} else {
		if err := m.store.Delete(ctx, cacheKeyPrefix+id.Key()); err != nil {
			m.logger.Warn("metadata cache invalidation failed",
				zap.String("identity", id.Key()), zap.Error(err))
		}
	}

	return m.reload(ctx)
}

// Clear drops the in-memory view on logout without touching persisted state.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.identity = identity.Identity{}
	m.authenticated = false
	m.databases = nil
	m.loading = false
	m.lastErr = ""
	state := m.stateLocked()
	m.mu.Unlock()

	m.publish(state)
}

// State returns a copy of the current snapshot and load status.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Subscribe registers an observer of cache-state changes. The returned
// cancel function must be called when the observer goes away.
func (m *Manager) Subscribe() (<-chan State, func()) {
	m.subMu.Lock()
	m.nextSubID++
	subscriberID := m.nextSubID
	stream := make(chan State, 16)
	m.subscribers[subscriberID] = stream
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		delete(m.subscribers, subscriberID)
		m.subMu.Unlock()
	}
	return stream, cancel
}

// reload fetches the database list, fans out the per-database listings
// concurrently, gathers every result, persists the assembled snapshot and
// adopts it. One database's listing failing degrades that entry to empty
// lists rather than failing the load. Overlapping reloads are not
// serialized; the last one to finish wins.
func (m *Manager) reload(ctx context.Context) State {
	m.mu.Lock()
	if !m.authenticated {
		m.mu.Unlock()
		return State{}
	}
	id := m.identity
	m.loading = true
	m.lastErr = ""
	loadingState := m.stateLocked()
	m.mu.Unlock()
	m.publish(loadingState)

	names, err := m.backend.ListDatabases(ctx)
	if err != nil {
		m.logger.Error("database list fetch failed",
			zap.String("identity", id.Key()), zap.Error(err))
		m.mu.Lock()
		m.loading = false
		m.lastErr = "failed to load databases: " + err.Error()
		state := m.stateLocked()
		m.mu.Unlock()
		m.publish(state)
		return state
	}

	entries := make([]DatabaseEntry, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(index int, database string) {
			defer wg.Done()
			listing, err := m.backend.ListTablesAndViews(ctx, database)
			if err != nil {
				m.logger.Warn("table listing failed, degrading to empty entry",
					zap.String("identity", id.Key()),
					zap.String("database", database), zap.Error(err))
				entries[index] = DatabaseEntry{
					Name:   database,
					Tables: []TableDescriptor{},
					Views:  []TableDescriptor{},
				}
				return
			}
			tables := listing.Tables
			if tables == nil {
				tables = []TableDescriptor{}
			}
			views := listing.Views
			if views == nil {
				views = []TableDescriptor{}
			}
			entries[index] = DatabaseEntry{
				Name:       database,
				Tables:     tables,
				Views:      views,
				TableCount: listing.TotalTables,
				ViewCount:  listing.TotalViews,
			}
		}(i, name)
	}
	wg.Wait()

	snapshot := cacheSnapshot{
		FetchedAtSeconds: m.clock().UTC().Unix(),
		Databases:        entries,
	}
	m.writeSnapshot(ctx, id, snapshot)

	m.mu.Lock()
	m.databases = entries
	m.loading = false
	m.lastErr = ""
	state := m.stateLocked()
	m.mu.Unlock()
	m.publish(state)
	return state
}

// evictEntry removes one database from the persisted snapshot, keeping the
// snapshot timestamp and the remaining entries intact.
func (m *Manager) evictEntry(ctx context.Context, id identity.Identity, database string) {
	snapshot, ok := m.readSnapshot(ctx, id)
	if !ok {
		return
	}

	kept := snapshot.Databases[:0]
	for _, entry := range snapshot.Databases {
		if entry.Name != database {
			kept = append(kept, entry)
		}
	}
	snapshot.Databases = kept
	m.writeSnapshot(ctx, id, snapshot)
}

func (m *Manager) readSnapshot(ctx context.Context, id identity.Identity) (cacheSnapshot, bool) {
	raw, ok, err := m.store.Get(ctx, cacheKeyPrefix+id.Key())
	if err != nil {
		m.logger.Warn("metadata cache read failed",
			zap.String("identity", id.Key()), zap.Error(err))
		return cacheSnapshot{}, false
	}
	if !ok {
		return cacheSnapshot{}, false
	}

	var snapshot cacheSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		m.logger.Warn("metadata cache corrupt, treating as absent",
			zap.String("identity", id.Key()), zap.Error(err))
		return cacheSnapshot{}, false
	}
	return snapshot, true
}

func (m *Manager) writeSnapshot(ctx context.Context, id identity.Identity, snapshot cacheSnapshot) {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		m.logger.Error("metadata cache marshal failed",
			zap.String("identity", id.Key()), zap.Error(err))
		return
	}
	if err := m.store.Put(ctx, cacheKeyPrefix+id.Key(), blob); err != nil {
		m.logger.Warn("metadata cache write failed",
			zap.String("identity", id.Key()), zap.Error(err))
	}
}

func (m *Manager) publish(state State) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, stream := range m.subscribers {
		select {
		case stream <- state:
		default:
		}
	}
}

func (m *Manager) stateLocked() State {
	databases := make([]DatabaseEntry, len(m.databases))
	copy(databases, m.databases)
	return State{Databases: databases, Loading: m.loading, Err: m.lastErr}
}
