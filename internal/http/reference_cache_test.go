package http

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/oauth2"

	"sumarte/internal/api"
	"sumarte/internal/api/memory"
	"sumarte/internal/core"
)

type countingBackend struct {
	*memory.Store
	roles     atomic.Int64
	suppliers atomic.Int64
}

func (b *countingBackend) ClientFor(tok *oauth2.Token, onRefresh func(*oauth2.Token)) api.Client {
	return &countingClient{Client: b.Store.ClientFor(tok, onRefresh), backend: b}
}

type countingClient struct {
	api.Client
	backend *countingBackend
}

func (c *countingClient) ListRoles(ctx context.Context) ([]core.Role, error) {
	c.backend.roles.Add(1)
	return c.Client.ListRoles(ctx)
}

func (c *countingClient) ListSuppliers(ctx context.Context) ([]core.Supplier, error) {
	c.backend.suppliers.Add(1)
	return c.Client.ListSuppliers(ctx)
}

func TestReferenceDataIsCachedAcrossRequests(t *testing.T) {
	store := memory.NewDemo()
	backend := &countingBackend{Store: store}
	env := newTestEnvWith(t, store, backend, nil)
	cookies := env.login(t)

	for i := 0; i < 3; i++ {
		rr := env.do(getRequest(env.path("transactions", "new"), cookies))
		if rr.Code != http.StatusOK {
			t.Fatalf("form status = %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Luces del Sur SpA") {
			t.Fatal("supplier list missing from the form")
		}
		rr = env.do(getRequest(env.path("team"), cookies))
		if rr.Code != http.StatusOK {
			t.Fatalf("team status = %d", rr.Code)
		}
	}

	if n := backend.suppliers.Load(); n != 1 {
		t.Errorf("suppliers loaded %d times, want 1", n)
	}
	if n := backend.roles.Load(); n != 1 {
		t.Errorf("roles loaded %d times, want 1", n)
	}

	hits, misses := env.srv.supplierCache.Stats()
	if hits != 2 || misses != 1 {
		t.Errorf("supplier cache hits=%d misses=%d, want 2/1", hits, misses)
	}
}

func TestFreshReferenceEntriesSurviveCleanup(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)

	rr := env.do(getRequest(env.path("team"), cookies))
	if rr.Code != http.StatusOK {
		t.Fatalf("team status = %d", rr.Code)
	}
	if env.srv.roleCache.Size() != 1 {
		t.Errorf("role cache size = %d, want 1", env.srv.roleCache.Size())
	}
	env.srv.caches.CleanNow()
	if env.srv.roleCache.Size() != 1 {
		t.Error("a fresh entry must survive a cleanup pass")
	}
}
