package misp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sid6224/misp-mcp/storage"
	"github.com/sid6224/misp-mcp/storage/memory"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", APIKey: "secret", VerifyTLS: true, Timeout: 5 * time.Second}, opts...)
	require.NoError(t, err)
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		msg  string
	}{
		{"empty url", Config{APIKey: "k"}, "invalid configuration: MISP URL cannot be empty"},
		{"empty key", Config{BaseURL: "https://misp.local"}, "invalid configuration: API key cannot be empty"},
		{"bad scheme", Config{BaseURL: "ftp://misp.local", APIKey: "k"}, ""},
		{"relative", Config{BaseURL: "misp.local", APIKey: "k"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, err.Error())
			}
		})
	}
}

func TestNewTrimsTrailingSlash(t *testing.T) {
	c, err := New(Config{BaseURL: "https://misp.local/", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://misp.local", c.BaseURL())
}

func TestGetSendsHeaders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/admin/users", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "misp-mcp-server/"+Version, r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `[{"User":{"id":"1"}}]`)
	}))

	body, err := c.Get(context.Background(), "/admin/users")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"User":{"id":"1"}}]`, string(body))
}

func TestPostSendsJSONBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"value":"apt"}`, string(b))
		_, _ = io.WriteString(w, `[]`)
	}))

	body, err := c.Post(context.Background(), "/galaxies", map[string]string{"value": "apt"})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusUnauthorized, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrAuthentication) }},
		{http.StatusForbidden, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrAuthentication) }},
		{http.StatusNotFound, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Contains(t, err.Error(), "/events/view/9")
		}},
		{http.StatusInternalServerError, func(t *testing.T, err error) {
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 500, apiErr.Status)
			assert.Equal(t, "boom", apiErr.Message)
			assert.Equal(t, "MISP API error: 500 - boom", err.Error())
		}},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", tt.status)
			}))
			_, err := c.Get(context.Background(), "/events/view/9")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestNonJSONBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>login</html>")
	}))
	_, err := c.Get(context.Background(), "/events")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestGetIsCached(t *testing.T) {
	var hits atomic.Int32
	cache, err := memory.New(16, memory.WithCleanupInterval(0))
	require.NoError(t, err)
	defer cache.Close()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"Tag":[]}`)
	}), WithCache(cache, time.Minute))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		body, err := c.Get(ctx, "/tags.json")
		require.NoError(t, err)
		assert.JSONEq(t, `{"Tag":[]}`, string(body))
	}
	assert.Equal(t, int32(1), hits.Load())

	item, err := cache.Get(ctx, "/tags.json", storage.WithNamespace(c.CacheScope()))
	require.NoError(t, err)
	require.NotNil(t, item)
	require.NotNil(t, item.ExpiresAt)
}

func TestCacheIsScopedToInstanceAndKey(t *testing.T) {
	cache, err := memory.New(16, memory.WithCleanupInterval(0))
	require.NoError(t, err)
	defer cache.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "admin-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, `{"secret":"admin-only"}`)
	}))
	defer srv.Close()

	newClient := func(baseURL, key string) *Client {
		c, err := New(Config{BaseURL: baseURL, APIKey: key, VerifyTLS: true}, WithCache(cache, time.Minute))
		require.NoError(t, err)
		return c
	}
	admin := newClient(srv.URL, "admin-key")
	lowPriv := newClient(srv.URL, "low-priv-key")
	ctx := context.Background()

	body, err := admin.Get(ctx, "/admin/users")
	require.NoError(t, err)
	assert.JSONEq(t, `{"secret":"admin-only"}`, string(body))

	body, err = lowPriv.Get(ctx, "/admin/users")
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Nil(t, body)

	assert.NotEqual(t, admin.CacheScope(), lowPriv.CacheScope())
	assert.NotEqual(t, admin.CacheScope(), newClient("https://other.misp.local", "admin-key").CacheScope())
	assert.Equal(t, admin.CacheScope(), newClient(srv.URL+"/", "admin-key").CacheScope())
	assert.NotContains(t, admin.CacheScope(), "admin-key")
}

func TestErrorsAreNotCached(t *testing.T) {
	var hits atomic.Int32
	cache, err := memory.New(16, memory.WithCleanupInterval(0))
	require.NoError(t, err)
	defer cache.Close()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}), WithCache(cache, time.Minute))

	_, err = c.Get(context.Background(), "/events")
	require.Error(t, err)
	body, err := c.Get(context.Background(), "/events")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestPostIsNotCached(t *testing.T) {
	var hits atomic.Int32
	cache, err := memory.New(16, memory.WithCleanupInterval(0))
	require.NoError(t, err)
	defer cache.Close()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}), WithCache(cache, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := c.Post(context.Background(), "/events/restSearch", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestContextCancel(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "/events")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
