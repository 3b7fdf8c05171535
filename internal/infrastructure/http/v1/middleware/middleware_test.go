package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lotpool/internal/core/apperror"
	appctx "lotpool/internal/core/context"
	"lotpool/internal/infrastructure/storage/postgres"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*postgres.IdempotencyReplay, error) {
	args := m.Called(ctx, key, userID, operation, requestHash)
	r, _ := args.Get(0).(*postgres.IdempotencyReplay)
	return r, args.Error(1)
}

func (m *mockStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	return m.Called(ctx, key, statusCode, contentType, body).Error(0)
}

func (m *mockStore) FailKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	return m.Called(ctx, key, statusCode, contentType, body).Error(0)
}

func (m *mockStore) ReleaseKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newEngine(store IdempotencyStore, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(), Trace(), ErrorHandler())
	r.POST("/things", Idempotency(store), h)
	return r
}

func post(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/things", strings.NewReader(`{"a":1}`))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_CompletesOnSuccess(t *testing.T) {
	store := new(mockStore)
	store.On("AcquireKey", mock.Anything, "k1", "", "POST /things", mock.Anything).Return(nil, nil).Once()
	store.On("CompleteKey", mock.Anything, "k1", http.StatusCreated, "application/json", []byte(`{"ok":true}`)).Return(nil).Once()

	r := newEngine(store, func(c *gin.Context) {
		CompleteIdempotency(c, http.StatusCreated, "application/json", []byte(`{"ok":true}`))
		c.Data(http.StatusCreated, "application/json", []byte(`{"ok":true}`))
	})

	w := post(r, "k1")
	assert.Equal(t, http.StatusCreated, w.Code)
	store.AssertExpectations(t)
}

func TestIdempotency_Replays(t *testing.T) {
	store := new(mockStore)
	store.On("AcquireKey", mock.Anything, "k1", "", "POST /things", mock.Anything).Return(&postgres.IdempotencyReplay{
		StatusCode:  http.StatusCreated,
		ContentType: "application/json",
		Body:        []byte(`{"cached":true}`),
	}, nil).Once()

	called := false
	r := newEngine(store, func(c *gin.Context) { called = true })

	w := post(r, "k1")
	assert.False(t, called)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"cached":true}`, w.Body.String())
	assert.Equal(t, "true", w.Header().Get("X-Idempotent-Replay"))
}

func TestIdempotency_ClientErrorIsRecorded(t *testing.T) {
	store := new(mockStore)
	store.On("AcquireKey", mock.Anything, "k1", "", "POST /things", mock.Anything).Return(nil, nil).Once()
	store.On("FailKey", mock.Anything, "k1", http.StatusConflict, "application/json", mock.MatchedBy(func(b []byte) bool {
		return strings.Contains(string(b), apperror.CodeAlreadyReserved)
	})).Return(nil).Once()

	r := newEngine(store, func(c *gin.Context) {
		_ = c.Error(apperror.NewAlreadyReserved("r1", "p1"))
	})

	w := post(r, "k1")
	assert.Equal(t, http.StatusConflict, w.Code)
	store.AssertExpectations(t)
}

func TestIdempotency_ServerErrorReleasesKey(t *testing.T) {
	store := new(mockStore)
	store.On("AcquireKey", mock.Anything, "k1", "", "POST /things", mock.Anything).Return(nil, nil).Once()
	store.On("ReleaseKey", mock.Anything, "k1").Return(nil).Once()

	r := newEngine(store, func(c *gin.Context) {
		_ = c.Error(errors.New("db down"))
	})

	w := post(r, "k1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "FailKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIdempotency_ConflictFromStore(t *testing.T) {
	store := new(mockStore)
	store.On("AcquireKey", mock.Anything, "k1", "", "POST /things", mock.Anything).
		Return(nil, apperror.NewIdempotencyConflict("k1")).Once()

	r := newEngine(store, func(c *gin.Context) { t.Fatal("handler must not run") })

	w := post(r, "k1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), apperror.CodeIdempotency)
}

func TestIdempotency_NoKeyOrNilStorePassesThrough(t *testing.T) {
	store := new(mockStore)
	handler := func(c *gin.Context) { c.Status(http.StatusAccepted) }

	assert.Equal(t, http.StatusAccepted, post(newEngine(store, handler), "").Code)
	assert.Equal(t, http.StatusAccepted, post(newEngine(nil, handler), "k1").Code)
	store.AssertNotCalled(t, "AcquireKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

type staticValidator struct {
	users map[string]*appctx.UserContext
}

func (v staticValidator) ValidateToken(token string) (*appctx.UserContext, error) {
	if u, ok := v.users[token]; ok {
		return u, nil
	}
	return nil, apperror.NewUnauthorized("invalid token")
}

func TestAuthAndRequireRole(t *testing.T) {
	v := staticValidator{users: map[string]*appctx.UserContext{
		"retailer": {UserID: "r1", Role: appctx.RoleRetailer},
		"factory":  {UserID: "f1", Role: appctx.RoleFactory},
		"admin":    {UserID: "a1", Role: appctx.RoleAdmin},
	}}

	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/only-retailers", Auth(v), RequireRole(appctx.RoleRetailer), func(c *gin.Context) {
		c.String(http.StatusOK, appctx.GetUserID(c.Request.Context()))
	})

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Token retailer", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Bearer factory", http.StatusForbidden},
		{"Bearer retailer", http.StatusOK},
		{"bearer admin", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/only-retailers", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestTrace_PropagatesInboundIDs(t *testing.T) {
	r := gin.New()
	r.Use(Trace())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, appctx.GetRequestID(c.Request.Context())+"|"+appctx.GetTraceID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set(HeaderTraceID, "trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-1|trace-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
}

func TestRecovery_ConvertsPanic(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(), Recovery())
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), apperror.CodeInternal)
}

func TestCORS(t *testing.T) {
	get := func(r *gin.Engine, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	engine := func(origins []string, strict bool) *gin.Engine {
		r := gin.New()
		r.Use(CORS(origins, strict))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	w := get(engine(nil, false), "http://localhost:3000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	allowlist := engine([]string{"https://shop.example"}, true)
	w = get(allowlist, "https://shop.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://shop.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(allowlist, "https://evil.example")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(engine(nil, true), "https://shop.example")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
