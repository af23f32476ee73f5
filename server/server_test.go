package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/construkt/internal/profile"
	"github.com/hrygo/construkt/server/auth"
	"github.com/hrygo/construkt/store"
	"github.com/hrygo/construkt/store/db/sqlite"
)

func fakeCollaborator(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/chatbot":
			_, _ = w.Write([]byte(`{"status":"success","message":"We stock **cement**.","intent":"product_search","confidence":0.9}`))
		case "/api/chatbot/health":
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		default:
			_, _ = w.Write([]byte(`{"success":true}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testProfile(nlpURL string) *profile.Profile {
	return &profile.Profile{
		Mode:               "dev",
		Secret:             "server-test-secret",
		SessionBackend:     "memory",
		SessionTTL:         time.Hour,
		CleanupInterval:    time.Minute,
		NLPProvider:        "http",
		NLPBaseURL:         nlpURL,
		NLPTimeout:         time.Second,
		RateLimitPerSecond: 1,
		RateLimitBurst:     3,
	}
}

func call(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestServer_MessageRoundTrip(t *testing.T) {
	collaborator := fakeCollaborator(t)
	p := testProfile(collaborator.URL)

	driver, err := sqlite.NewDB(&profile.Profile{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	storeInstance := store.New(driver, p)
	require.NoError(t, storeInstance.Migrate(context.Background()))

	p.SessionBackend = "sql"
	s, err := NewServer(context.Background(), p, storeInstance)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storeInstance.Close() })

	token, err := auth.NewAuthenticator(p.Secret).Issue("42", auth.RoleCustomer, time.Hour)
	require.NoError(t, err)

	rec, body := call(t, s.Handler(), http.MethodPost, "/api/chatbot/message", token, `{"message":"do you have cement?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "product_search", body["intent"])
	assert.Contains(t, body["message_html"], "<strong>cement</strong>")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	owner := "42"
	logs, err := storeInstance.ListChatLogs(context.Background(), &store.FindChatLog{OwnerID: &owner})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, body = call(t, s.Handler(), http.MethodGet, "/api/chatbot/history", token, "")
	assert.Len(t, body["history"], 2)
}

func TestServer_PublicRoutes(t *testing.T) {
	s, err := NewServer(context.Background(), testProfile(fakeCollaborator(t).URL), nil)
	require.NoError(t, err)

	rec, _ := call(t, s.Handler(), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := call(t, s.Handler(), http.MethodGet, "/api/chatbot/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	rec, body = call(t, s.Handler(), http.MethodGet, "/elsewhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Endpoint not found", body["message"])
}

func TestServer_RateLimit(t *testing.T) {
	s, err := NewServer(context.Background(), testProfile(fakeCollaborator(t).URL), nil)
	require.NoError(t, err)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		rec, _ := call(t, s.Handler(), http.MethodGet, "/api/chatbot/welcome", "", "")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 200, 429, 429}, codes)

	// The limit applies to the chatbot API only.
	rec, _ := call(t, s.Handler(), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_BodyLimit(t *testing.T) {
	p := testProfile(fakeCollaborator(t).URL)
	p.RateLimitBurst = 100
	s, err := NewServer(context.Background(), p, nil)
	require.NoError(t, err)
	token, err := auth.NewAuthenticator(p.Secret).Issue("42", auth.RoleCustomer, time.Hour)
	require.NoError(t, err)

	huge := `{"message":"` + strings.Repeat("a", 2<<20) + `"}`
	rec, body := call(t, s.Handler(), http.MethodPost, "/api/chatbot/message", token, huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "error", body["status"])
}

func TestNewSessionRepository(t *testing.T) {
	p := testProfile("http://127.0.0.1:1")

	t.Run("File", func(t *testing.T) {
		p := *p
		p.SessionBackend = "file"
		p.SessionDir = t.TempDir()
		repo, closer, err := newSessionRepository(context.Background(), &p, nil)
		require.NoError(t, err)
		assert.NotNil(t, repo)
		assert.Nil(t, closer)
	})

	t.Run("SQLWithoutDatabase", func(t *testing.T) {
		p := *p
		p.SessionBackend = "sql"
		_, _, err := newSessionRepository(context.Background(), &p, nil)
		assert.Error(t, err)
	})

	t.Run("Unknown", func(t *testing.T) {
		p := *p
		p.SessionBackend = "floppy"
		_, _, err := newSessionRepository(context.Background(), &p, nil)
		assert.Error(t, err)
	})
}

func TestNewCatalog(t *testing.T) {
	p := testProfile("")
	cat, err := newCatalog(p)
	require.NoError(t, err)
	categories, err := cat.Categories(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, categories)

	p.CatalogFile = "/nonexistent/catalog.yaml"
	_, err = newCatalog(p)
	assert.Error(t, err)
}
