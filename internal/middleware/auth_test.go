package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/util"
)

type fakeTenantRepo struct {
	tenants map[string]*model.Tenant // keyed by token hash
	err     error
}

func (f *fakeTenantRepo) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	return nil, nil
}

func (f *fakeTenantRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tenants[tokenHash], nil
}

func TestAuthMiddleware(t *testing.T) {
	token := "tenant-token-abc"
	tenant := &model.Tenant{ID: "tenant-1"}
	repo := &fakeTenantRepo{
		tenants: map[string]*model.Tenant{util.HashToken(token): tenant},
	}
	mw := NewAuthMiddleware(repo)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := GetTenant(r.Context())
		assert.NotNil(t, got)
		assert.Equal(t, "tenant-1", got.ID)
		w.WriteHeader(http.StatusOK)
	})

	t.Run("accepts bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("accepts query parameter token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/events?token="+token, nil)
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
		req.Header.Set("Authorization", "Bearer wrong-token")
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("repo failure yields 500 not 401", func(t *testing.T) {
		failing := NewAuthMiddleware(&fakeTenantRepo{err: assert.AnError})
		req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		failing.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetTenant(t *testing.T) {
	t.Run("returns nil on bare context", func(t *testing.T) {
		assert.Nil(t, GetTenant(context.Background()))
	})
}
