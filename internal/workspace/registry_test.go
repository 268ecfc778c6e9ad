package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tamadeu/jsMyAdmin-sub000/internal/identity"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/metadata"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/mysql"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/statestore"
)

// fakeClient satisfies DatabaseClient with canned metadata and tracks closes.
type fakeClient struct {
	mu        sync.Mutex
	databases []string
	closed    bool
}

func (c *fakeClient) ListDatabases(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.databases...), nil
}

func (c *fakeClient) ListTablesAndViews(context.Context, string) (metadata.Listing, error) {
	return metadata.Listing{Tables: []metadata.TableDescriptor{}, Views: []metadata.TableDescriptor{}}, nil
}

func (c *fakeClient) Ping(context.Context) error { return nil }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) Execute(context.Context, string) (mysql.QueryResult, error) {
	return mysql.QueryResult{}, nil
}

func (c *fakeClient) FetchRows(context.Context, string, string, mysql.Page) (mysql.RowPage, error) {
	return mysql.RowPage{}, nil
}

func (c *fakeClient) DescribeTable(context.Context, string, string) ([]mysql.ColumnDescriptor, error) {
	return nil, nil
}

func (c *fakeClient) CreateDatabase(context.Context, string) error { return nil }
func (c *fakeClient) DropDatabase(context.Context, string) error   { return nil }

func (c *fakeClient) ListAccounts(context.Context) ([]mysql.Account, error) { return nil, nil }
func (c *fakeClient) AccountGrants(context.Context, string, string) ([]string, error) {
	return nil, nil
}
func (c *fakeClient) CreateAccount(context.Context, string, string, string) error { return nil }
func (c *fakeClient) DropAccount(context.Context, string, string) error           { return nil }

func mustIdentity(t *testing.T, username, host string) identity.Identity {
	t.Helper()
	id, err := identity.New(username, host)
	if err != nil {
		t.Fatalf("unexpected identity error: %v", err)
	}
	return id
}

func newTestRegistry(t *testing.T, opened *[]*fakeClient) *Registry {
	t.Helper()
	registry, err := NewRegistry(RegistryConfig{
		Store: statestore.NewMemoryStore(),
		OpenClient: func(username, password string) (DatabaseClient, error) {
			client := &fakeClient{databases: []string{"shop"}}
			*opened = append(*opened, client)
			return client, nil
		},
		Clock: func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	return registry
}

func TestOpenHydratesWorkspace(testContext *testing.T) {
	ctx := context.Background()
	var opened []*fakeClient
	registry := newTestRegistry(testContext, &opened)
	alice := mustIdentity(testContext, "alice", "localhost")

	ws, err := registry.Open(ctx, alice, "pw")
	if err != nil {
		testContext.Fatalf("unexpected open error: %v", err)
	}

	if tabs := ws.Tabs.State(); len(tabs.Tabs) != 1 {
		testContext.Fatalf("expected a seeded dashboard tab, got %+v", tabs.Tabs)
	}
	if dbs := ws.Metadata.State(); len(dbs.Databases) != 1 || dbs.Databases[0].Name != "shop" {
		testContext.Fatalf("expected hydrated metadata, got %+v", dbs.Databases)
	}

	found, err := registry.Lookup(alice)
	if err != nil || found != ws {
		testContext.Fatalf("lookup must return the open workspace, got %v err=%v", found, err)
	}
}

func TestLookupUnknownIdentityFails(testContext *testing.T) {
	var opened []*fakeClient
	registry := newTestRegistry(testContext, &opened)

	if _, err := registry.Lookup(mustIdentity(testContext, "ghost", "localhost")); !errors.Is(err, ErrNotOpen) {
		testContext.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestCloseTearsDownWorkspace(testContext *testing.T) {
	ctx := context.Background()
	var opened []*fakeClient
	registry := newTestRegistry(testContext, &opened)
	alice := mustIdentity(testContext, "alice", "localhost")

	if _, err := registry.Open(ctx, alice, "pw"); err != nil {
		testContext.Fatalf("unexpected open error: %v", err)
	}
	registry.Close(alice)

	if !opened[0].wasClosed() {
		testContext.Fatalf("closing a workspace must close its client")
	}
	if _, err := registry.Lookup(alice); !errors.Is(err, ErrNotOpen) {
		testContext.Fatalf("closed workspace must not be resolvable, got %v", err)
	}

	registry.Close(alice)
}

func TestReopenReplacesPreviousWorkspace(testContext *testing.T) {
	ctx := context.Background()
	var opened []*fakeClient
	registry := newTestRegistry(testContext, &opened)
	alice := mustIdentity(testContext, "alice", "localhost")

	first, err := registry.Open(ctx, alice, "pw")
	if err != nil {
		testContext.Fatalf("unexpected open error: %v", err)
	}
	second, err := registry.Open(ctx, alice, "pw")
	if err != nil {
		testContext.Fatalf("unexpected reopen error: %v", err)
	}
	if first == second {
		testContext.Fatalf("reopen must build a fresh workspace")
	}

	if !opened[0].wasClosed() {
		testContext.Fatalf("reopen must close the replaced client")
	}
	if opened[1].wasClosed() {
		testContext.Fatalf("the live client must stay open")
	}

	found, err := registry.Lookup(alice)
	if err != nil || found != second {
		testContext.Fatalf("lookup must resolve the replacement workspace")
	}
}

func TestOpenFailsWhenClientCannotConnect(testContext *testing.T) {
	registry, err := NewRegistry(RegistryConfig{
		Store: statestore.NewMemoryStore(),
		OpenClient: func(string, string) (DatabaseClient, error) {
			return nil, errors.New("connection refused")
		},
	})
	if err != nil {
		testContext.Fatalf("unexpected registry error: %v", err)
	}

	if _, err := registry.Open(context.Background(), mustIdentity(testContext, "alice", "localhost"), "pw"); err == nil {
		testContext.Fatalf("expected open failure when the client cannot connect")
	}
}

func TestShutdownClosesEveryWorkspace(testContext *testing.T) {
	ctx := context.Background()
	var opened []*fakeClient
	registry := newTestRegistry(testContext, &opened)

	alice := mustIdentity(testContext, "alice", "localhost")
	bob := mustIdentity(testContext, "bob", "localhost")
	if _, err := registry.Open(ctx, alice, "pw"); err != nil {
		testContext.Fatalf("unexpected open error: %v", err)
	}
	if _, err := registry.Open(ctx, bob, "pw"); err != nil {
		testContext.Fatalf("unexpected open error: %v", err)
	}

	registry.Shutdown()

	for i, client := range opened {
		if !client.wasClosed() {
			testContext.Fatalf("shutdown must close client %d", i)
		}
	}
	if _, err := registry.Lookup(alice); !errors.Is(err, ErrNotOpen) {
		testContext.Fatalf("shutdown must drop every workspace")
	}
}
