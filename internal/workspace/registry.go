// Package workspace composes the per-identity session state: the tab
// manager, the metadata cache and the identity's own server connection.
// The registry reacts to authentication transitions — login hydrates both
// managers, logout clears them and closes the connection pool.
package workspace

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tamadeu/jsMyAdmin-sub000/internal/identity"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/metadata"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/mysql"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/session"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/statestore"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("workspace: state store is required")
	errMissingOpenClient = errors.New("workspace: client opener is required")
	// ErrNotOpen indicates no workspace exists for the identity, typically
	// because the session token outlived a server restart or logout.
	ErrNotOpen = errors.New("workspace: not open for identity")
)

// DatabaseClient is the slice of the server client a workspace needs.
// *mysql.Client satisfies it; tests substitute fakes.
type DatabaseClient interface {
	metadata.Backend
	Ping(ctx context.Context) error
	Close() error
	Execute(ctx context.Context, statement string) (mysql.QueryResult, error)
	FetchRows(ctx context.Context, database, table string, page mysql.Page) (mysql.RowPage, error)
	DescribeTable(ctx context.Context, database, table string) ([]mysql.ColumnDescriptor, error)
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	ListAccounts(ctx context.Context) ([]mysql.Account, error)
	AccountGrants(ctx context.Context, username, host string) ([]string, error)
	CreateAccount(ctx context.Context, username, host, password string) error
	DropAccount(ctx context.Context, username, host string) error
}

// Workspace is one identity's live console state.
type Workspace struct {
	Identity identity.Identity
	Tabs     *session.Manager
	Metadata *metadata.Manager
	DB       DatabaseClient
}

// RegistryConfig describes the dependencies for building workspaces.
type RegistryConfig struct {
	Store      statestore.Store
	OpenClient func(username, password string) (DatabaseClient, error)
	Clock      func() time.Time
	CacheTTL   time.Duration
	Logger     *zap.Logger
}

// Registry owns the open workspaces, keyed by identity.
type Registry struct {
	store      statestore.Store
	openClient func(username, password string) (DatabaseClient, error)
	clock      func() time.Time
	cacheTTL   time.Duration
	logger     *zap.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewRegistry constructs a Registry after validating its dependencies.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.OpenClient == nil {
		return nil, errMissingOpenClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:      cfg.Store,
		openClient: cfg.OpenClient,
		clock:      clock,
		cacheTTL:   cfg.CacheTTL,
		logger:     logger,
		workspaces: make(map[string]*Workspace),
	}, nil
}

// Open builds and hydrates the workspace for a freshly authenticated
// identity. Reopening an already-open identity replaces its workspace.
func (r *Registry) Open(ctx context.Context, id identity.Identity, password string) (*Workspace, error) {
	client, err := r.openClient(id.Username, password)
	if err != nil {
		return nil, err
	}

	tabs, err := session.NewManager(session.Config{
		Store:      r.store,
		IDProvider: session.NewUUIDProvider(),
		Logger:     r.logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	cache, err := metadata.NewManager(metadata.Config{
		Store:   r.store,
		Backend: client,
		Clock:   r.clock,
		TTL:     r.cacheTTL,
		Logger:  r.logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	ws := &Workspace{
		Identity: id,
		Tabs:     tabs,
		Metadata: cache,
		DB:       client,
	}

	tabs.Hydrate(ctx, id)
	cache.Hydrate(ctx, id)

	r.mu.Lock()
	previous := r.workspaces[id.Key()]
	r.workspaces[id.Key()] = ws
	r.mu.Unlock()

	if previous != nil {
		r.teardown(previous)
	}

	r.logger.Info("workspace opened", zap.String("identity", id.Key()))
	return ws, nil
}

// Lookup returns the open workspace for the identity.
func (r *Registry) Lookup(id identity.Identity) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[id.Key()]
	if !ok {
		return nil, ErrNotOpen
	}
	return ws, nil
}

// Close tears down the identity's workspace on logout. Closing an identity
// with no open workspace is a no-op.
func (r *Registry) Close(id identity.Identity) {
	r.mu.Lock()
	ws := r.workspaces[id.Key()]
	delete(r.workspaces, id.Key())
	r.mu.Unlock()

	if ws == nil {
		return
	}
	r.teardown(ws)
	r.logger.Info("workspace closed", zap.String("identity", id.Key()))
}

// Shutdown tears down every open workspace.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	open := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		open = append(open, ws)
	}
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range open {
		r.teardown(ws)
	}
}

// Store exposes the shared state store for identity-scoped settings blobs.
func (r *Registry) Store() statestore.Store {
	return r.store
}

func (r *Registry) teardown(ws *Workspace) {
	ws.Tabs.Clear()
	ws.Metadata.Clear()
	if err := ws.DB.Close(); err != nil {
		r.logger.Warn("client close failed",
			zap.String("identity", ws.Identity.Key()), zap.Error(err))
	}
}
