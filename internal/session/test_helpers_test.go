package session

import (
	"fmt"
	"testing"

	"github.com/tamadeu/jsMyAdmin-sub000/internal/identity"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/statestore"
)

// sequentialIDProvider issues deterministic ids for assertions.
type sequentialIDProvider struct {
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("tab-%d", p.next), nil
}

func mustIdentity(t *testing.T, username, host string) identity.Identity {
	t.Helper()
	id, err := identity.New(username, host)
	if err != nil {
		t.Fatalf("unexpected identity error: %v", err)
	}
	return id
}

func newTestManager(t *testing.T, store statestore.Store) *Manager {
	t.Helper()
	manager, err := NewManager(Config{
		Store:      store,
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	return manager
}
