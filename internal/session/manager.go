// Package session owns the ordered working set of open workspace tabs for one
// authenticated identity and keeps it persisted so a reload resumes the
// session. Mutations apply synchronously and re-persist before returning.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/tamadeu/jsMyAdmin-sub000/internal/identity"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/statestore"
	"go.uber.org/zap"
)

const (
	tabsKeyPrefix      = "tabs::"
	activeTabKeyPrefix = "activeTab::"

	defaultDashboardTitle = "Dashboard"

	opAddTab      = "session.add_tab"
	opHydrateTabs = "session.hydrate"
)

var (
	errMissingStore      = errors.New("state store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues unique tab identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// Config describes the dependencies required to build a Manager.
type Config struct {
	Store      statestore.Store
	IDProvider IDProvider
	Logger     *zap.Logger
}

// State is the snapshot handed to subscribers and callers.
type State struct {
	Tabs     []Tab  `json:"tabs"`
	ActiveID string `json:"active_id"`
}

// persistedTab is the lightweight projection written to the state store.
// Heavy derived data (result rows) never round-trips through it.
type persistedTab struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Kind     Kind              `json:"kind"`
	Params   map[string]string `json:"params,omitempty"`
	Closable bool              `json:"closable"`
	Content  Content           `json:"content"`
}

// Manager maintains the open-tab collection and the active tab id.
type Manager struct {
	store  statestore.Store
	ids    IDProvider
	logger *zap.Logger

	mu            sync.Mutex
	identity      identity.Identity
	authenticated bool
	tabs          []Tab
	activeID      string

	subMu       sync.Mutex
	subscribers map[int64]chan State
	nextSubID   int64
}

// NewManager constructs a Manager after validating its dependencies.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Manager{
		store:       cfg.Store,
		ids:         cfg.IDProvider,
		logger:      logger,
		subscribers: make(map[int64]chan State),
	}, nil
}

// Hydrate loads the persisted working set for the given identity, falling
// back to a single dashboard tab when nothing usable is stored. A corrupt
// blob is treated the same as an absent one.
func (m *Manager) Hydrate(ctx context.Context, id identity.Identity) {
	m.mu.Lock()
	m.identity = id
	m.authenticated = true

	tabs := m.readPersistedTabs(ctx, id)
	if len(tabs) == 0 {
		tabs = []Tab{m.newDashboardTab()}
	}
	m.tabs = tabs

	activeID := m.readPersistedActiveID(ctx, id)
	if !containsTabID(tabs, activeID) {
		activeID = tabs[0].ID
	}
	m.activeID = activeID

	m.persistLocked(ctx)
	state := m.stateLocked()
	m.mu.Unlock()

	m.publish(state)
}

// Clear drops the in-memory working set on logout. Nothing is written back,
// so the logged-out identity's persisted workspace is left untouched.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.identity = identity.Identity{}
	m.authenticated = false
	m.tabs = nil
	m.activeID = ""
	state := m.stateLocked()
	m.mu.Unlock()

	m.publish(state)
}

// AddTab opens a tab for the given spec. For kinds other than query-result,
// an already-open tab with equal (kind, params) is activated instead of
// duplicated. The created or activated tab is returned.
func (m *Manager) AddTab(ctx context.Context, spec Spec) Tab {
	m.mu.Lock()

	if spec.Kind != KindQueryResult {
		for i := range m.tabs {
			if m.tabs[i].Kind == spec.Kind && paramsEqual(m.tabs[i].Params, spec.Params) {
				m.activeID = m.tabs[i].ID
				m.persistLocked(ctx)
				existing := cloneTab(m.tabs[i])
				state := m.stateLocked()
				m.mu.Unlock()
				m.publish(state)
				return existing
			}
		}
	}

	tabID, err := m.ids.NewID()
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("tab id generation failed",
			zap.String("operation", opAddTab), zap.Error(err))
		return Tab{}
	}

	tab := Tab{
		ID:       tabID,
		Title:    spec.Title,
		Kind:     spec.Kind,
		Params:   cloneParams(spec.Params),
		Closable: spec.Closable,
		Content:  spec.Content,
	}
	m.tabs = append(m.tabs, tab)
	m.activeID = tab.ID
	m.persistLocked(ctx)
	created := cloneTab(tab)
	state := m.stateLocked()
	m.mu.Unlock()

	m.publish(state)
	return created
}

// RemoveTab closes the tab with the given id. Removing an unknown id is a
// no-op. Removing the active tab activates the previous tab in order, and
// removing the last tab synthesizes a fresh dashboard fallback.
func (m *Manager) RemoveTab(ctx context.Context, tabID string) {
	m.mu.Lock()

	index := -1
	for i := range m.tabs {
		if m.tabs[i].ID == tabID {
			index = i
			break
		}
	}
	if index < 0 {
		m.mu.Unlock()
		return
	}

	m.tabs = append(m.tabs[:index], m.tabs[index+1:]...)

	if len(m.tabs) == 0 {
		fallback := m.newDashboardTab()
		m.tabs = []Tab{fallback}
		m.activeID = fallback.ID
	} else if m.activeID == tabID {
		previous := index - 1
		if previous < 0 {
			previous = 0
		}
		m.activeID = m.tabs[previous].ID
	}

	m.persistLocked(ctx)
	state := m.stateLocked()
	m.mu.Unlock()

	m.publish(state)
}

// SetActiveTab records the given id as active and persists it. Callers are
// expected to pass a known id; no existence check is performed.
func (m *Manager) SetActiveTab(ctx context.Context, tabID string) {
	m.mu.Lock()
	m.activeID = tabID
	m.persistLocked(ctx)
	state := m.stateLocked()
	m.mu.Unlock()

	m.publish(state)
}

// TabByID looks up an open tab without side effects.
func (m *Manager) TabByID(tabID string) (Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tabs {
		if m.tabs[i].ID == tabID {
			return cloneTab(m.tabs[i]), true
		}
	}
	return Tab{}, false
}

// UpdateTabContent merges the patch into the tab's transient content and
// persists. Updating an unknown id is a no-op.
func (m *Manager) UpdateTabContent(ctx context.Context, tabID string, patch ContentPatch) {
	m.mu.Lock()

	index := -1
	for i := range m.tabs {
		if m.tabs[i].ID == tabID {
			index = i
			break
		}
	}
	if index < 0 {
		m.mu.Unlock()
		return
	}

	if patch.EditorText != nil {
		m.tabs[index].Content.EditorText = *patch.EditorText
	}
	if patch.Query != nil {
		m.tabs[index].Content.Query = *patch.Query
	}

	m.persistLocked(ctx)
	state := m.stateLocked()
	m.mu.Unlock()

	m.publish(state)
}

// State returns a copy of the current working set and active id.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Subscribe registers an observer of working-set changes. The returned
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
	tabs := make([]Tab, 0, len(m.tabs))
	for i := range m.tabs {
		tabs = append(tabs, cloneTab(m.tabs[i]))
	}
	return State{Tabs: tabs, ActiveID: m.activeID}
}

func (m *Manager) newDashboardTab() Tab {
	tabID, err := m.ids.NewID()
	if err != nil {
		// The UUID source failing is not recoverable here; a stable
		// sentinel id keeps the invariant that the set is never empty.
		m.logger.Error("fallback tab id generation failed",
			zap.String("operation", opHydrateTabs), zap.Error(err))
		tabID = "dashboard"
	}
	return Tab{
		ID:       tabID,
		Title:    defaultDashboardTitle,
		Kind:     KindDashboard,
		Closable: false,
	}
}

func (m *Manager) readPersistedTabs(ctx context.Context, id identity.Identity) []Tab {
	raw, ok, err := m.store.Get(ctx, tabsKeyPrefix+id.Key())
	if err != nil {
		m.logger.Warn("tab state read failed",
			zap.String("operation", opHydrateTabs),
			zap.String("identity", id.Key()), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	var persisted []persistedTab
	if err := json.Unmarshal(raw, &persisted); err != nil {
		m.logger.Warn("tab state corrupt, resetting workspace",
			zap.String("operation", opHydrateTabs),
			zap.String("identity", id.Key()), zap.Error(err))
		return nil
	}

	tabs := make([]Tab, 0, len(persisted))
	seen := make(map[string]struct{}, len(persisted))
	for _, entry := range persisted {
		if entry.ID == "" {
			continue
		}
		if _, duplicate := seen[entry.ID]; duplicate {
			continue
		}
		if _, err := ParseKind(string(entry.Kind)); err != nil {
			continue
		}
		seen[entry.ID] = struct{}{}
		tabs = append(tabs, Tab{
			ID:       entry.ID,
			Title:    entry.Title,
			Kind:     entry.Kind,
			Params:   entry.Params,
			Closable: entry.Closable,
			Content:  entry.Content,
		})
	}
	return tabs
}

func (m *Manager) readPersistedActiveID(ctx context.Context, id identity.Identity) string {
	raw, ok, err := m.store.Get(ctx, activeTabKeyPrefix+id.Key())
	if err != nil || !ok {
		return ""
	}
	var activeID string
	if err := json.Unmarshal(raw, &activeID); err != nil {
		return ""
	}
	return activeID
}

// persistLocked writes the lightweight projection back under the identity's
// keys. Persistence is best effort: a failing store is logged, never raised.
func (m *Manager) persistLocked(ctx context.Context) {
	if !m.authenticated {
		return
	}

	persisted := make([]persistedTab, 0, len(m.tabs))
	for i := range m.tabs {
		persisted = append(persisted, persistedTab{
			ID:       m.tabs[i].ID,
			Title:    m.tabs[i].Title,
			Kind:     m.tabs[i].Kind,
			Params:   m.tabs[i].Params,
			Closable: m.tabs[i].Closable,
			Content:  m.tabs[i].Content,
		})
	}

	tabsBlob, err := json.Marshal(persisted)
	if err != nil {
		m.logger.Error("tab state marshal failed",
			zap.String("identity", m.identity.Key()), zap.Error(err))
		return
	}
	if err := m.store.Put(ctx, tabsKeyPrefix+m.identity.Key(), tabsBlob); err != nil {
		m.logger.Warn("tab state write failed",
			zap.String("identity", m.identity.Key()), zap.Error(err))
	}

	activeBlob, err := json.Marshal(m.activeID)
	if err != nil {
		return
	}
	if err := m.store.Put(ctx, activeTabKeyPrefix+m.identity.Key(), activeBlob); err != nil {
		m.logger.Warn("active tab write failed",
			zap.String("identity", m.identity.Key()), zap.Error(err))
	}
}

func containsTabID(tabs []Tab, tabID string) bool {
	if tabID == "" {
		return false
	}
	for i := range tabs {
		if tabs[i].ID == tabID {
			return true
		}
	}
	return false
}
