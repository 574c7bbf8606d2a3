package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Carrie-PLH/plus/internal/models"
	"github.com/Carrie-PLH/plus/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeKeys struct {
	key  string
	used chan uuid.UUID
}

func (f *fakeKeys) Validate(_ context.Context, key string) (*models.APIKey, error) {
	if key != f.key {
		return nil, errors.New("invalid API key")
	}
	return &models.APIKey{ID: uuid.MustParse("7d3c0f5e-1111-4a4a-9b9b-123456789abc"), OwnerUID: "owner-1"}, nil
}

func (f *fakeKeys) UpdateLastUsed(_ context.Context, id uuid.UUID) {
	f.used <- id
}

func whoami(auth *service.AuthService, keys KeyValidator, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Identify(auth, keys))
	handlers := append(extra, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": c.GetString(UserIDKey), "method": c.GetString(AuthMethodKey)})
	})
	r.GET("/whoami", handlers...)
	return r
}

func get(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestIdentify_Anonymous(t *testing.T) {
	w := get(whoami(service.NewAuthService("secret", 1), nil), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", decode(t, w)["uid"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestIdentify_Bearer(t *testing.T) {
	auth := service.NewAuthService("secret", 1)
	token, err := auth.IssueToken("user-1", "u@example.com")
	require.NoError(t, err)

	w := get(whoami(auth, nil), "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "user-1", body["uid"])
	assert.Equal(t, "jwt", body["method"])
}

func TestIdentify_BadBearer(t *testing.T) {
	r := whoami(service.NewAuthService("secret", 1), nil)

	for _, value := range []string{"Bearer nope", "Token abc", "Bearer"} {
		w := get(r, "Authorization", value)
		require.Equal(t, http.StatusUnauthorized, w.Code, value)
		body := decode(t, w)
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, CodeUnauthenticated, body["code"])
		assert.NotContains(t, body, "data")
	}
}

func TestIdentify_APIKey(t *testing.T) {
	keys := &fakeKeys{key: "plk_good", used: make(chan uuid.UUID, 1)}
	r := whoami(service.NewAuthService("", 1), keys)

	w := get(r, APIKeyHeader, "plk_good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner-1", decode(t, w)["uid"])
	select {
	case <-keys.used:
	case <-time.After(time.Second):
		t.Fatal("last use was not recorded")
	}

	w = get(r, APIKeyHeader, "plk_bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid API key", decode(t, w)["error"])
}

func TestRequireUser(t *testing.T) {
	auth := service.NewAuthService("secret", 1)
	r := whoami(auth, nil, RequireUser())

	assert.Equal(t, http.StatusUnauthorized, get(r, "", "").Code)

	token, err := auth.IssueToken("user-1", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(r, "Authorization", "Bearer "+token).Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Something went wrong. Please try again later.","code":"internal_error"}`, w.Body.String())
}

func TestRequestID_KeepsCallerValue(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.test"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.test", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogger_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger(zap.NewNop()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
