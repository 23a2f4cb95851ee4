package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/sessionbox/internal/metrics"
	"github.com/yourusername/sessionbox/internal/password"
	"github.com/yourusername/sessionbox/internal/session"
	"github.com/yourusername/sessionbox/internal/users"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	router   *gin.Engine
	clock    *fakeClock
	sessions *session.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := password.NewHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)
	store, err := users.OpenFileStore(filepath.Join(t.TempDir(), "users.json"), hasher)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	memory := session.NewMemoryStore()
	sessions := session.NewManager(memory, session.WithClock(clock.Now))
	manager := NewManager(store, hasher, sessions, metrics.New(), zap.NewNop())

	router := gin.New()
	router.Use(SessionMiddleware([]byte("test-secret-for-session-cookies!")))
	router.POST("/register", manager.Register)
	router.POST("/login", manager.Login)
	router.POST("/logout", manager.Logout)
	protected := router.Group("")
	protected.Use(manager.RequireLogin())
	protected.GET("/profile", manager.Profile)

	return &testServer{router: router, clock: clock, sessions: memory}
}

func (s *testServer) do(t *testing.T, method, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func creds(username, pw string) map[string]string {
	return map[string]string{"username": username, "password": pw}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == SessionCookieName {
			return ck
		}
	}
	t.Fatalf("response has no %s cookie", SessionCookieName)
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestRegisterAndLoginExample(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/register", creds("alice", "pw1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])

	rec = s.do(t, http.MethodPost, "/register", creds("alice", "pw2"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ALREADY_EXISTS", decodeBody(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/login", creds("alice", "pw1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
	ck := sessionCookie(t, rec)
	assert.True(t, ck.HttpOnly)
	assert.False(t, ck.Secure)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.Equal(t, 86400, ck.MaxAge)

	rec = s.do(t, http.MethodPost, "/login", creds("alice", "wrong"), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, rec)["code"])
}

func TestRegisterInvalidInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/register", creds("", "pw"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/register", creds("bob", ""), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	s.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestLoginUnknownUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/login", creds("ghost", "pw"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, s.sessions.Len())
}

func TestProfileRequiresSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/profile", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, rec)["code"])
}

func TestProfileLogoutReplay(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", creds("alice", "pw1"), nil).Code)
	login := s.do(t, http.MethodPost, "/login", creds("alice", "pw1"), nil)
	require.Equal(t, http.StatusOK, login.Code)
	ck := sessionCookie(t, login)

	rec := s.do(t, http.MethodGet, "/profile", nil, []*http.Cookie{ck})
	require.Equal(t, http.StatusOK, rec.Code)
	user := decodeBody(t, rec)["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])

	rec = s.do(t, http.MethodPost, "/logout", nil, []*http.Cookie{ck})
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := sessionCookie(t, rec)
	assert.LessOrEqual(t, cleared.MaxAge, 0)
	assert.Equal(t, 0, s.sessions.Len())

	// 破棄済みトークンを持つ古いクッキーを再送しても通らない
	rec = s.do(t, http.MethodGet, "/profile", nil, []*http.Cookie{ck})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithoutSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/logout", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestSessionExpiry(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", creds("alice", "pw1"), nil).Code)
	ck := sessionCookie(t, s.do(t, http.MethodPost, "/login", creds("alice", "pw1"), nil))

	s.clock.Advance(session.TTL - time.Second)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/profile", nil, []*http.Cookie{ck}).Code)

	s.clock.Advance(2 * time.Second)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/profile", nil, []*http.Cookie{ck}).Code)
	assert.Equal(t, 0, s.sessions.Len())
}

func TestTamperedCookieRejected(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", creds("alice", "pw1"), nil).Code)
	ck := sessionCookie(t, s.do(t, http.MethodPost, "/login", creds("alice", "pw1"), nil))

	forged := &http.Cookie{Name: SessionCookieName, Value: ck.Value[:len(ck.Value)-2] + "xx"}
	rec := s.do(t, http.MethodGet, "/profile", nil, []*http.Cookie{forged})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReloginReplacesPreviousSession(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", creds("alice", "pw1"), nil).Code)
	first := sessionCookie(t, s.do(t, http.MethodPost, "/login", creds("alice", "pw1"), nil))

	rec := s.do(t, http.MethodPost, "/login", creds("alice", "pw1"), []*http.Cookie{first})
	require.Equal(t, http.StatusOK, rec.Code)
	second := sessionCookie(t, rec)

	assert.Equal(t, 1, s.sessions.Len())
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/profile", nil, []*http.Cookie{first}).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/profile", nil, []*http.Cookie{second}).Code)
}

func TestCurrentUserMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := CurrentUser(c)
	assert.False(t, ok)

	c.Set(ContextUserKey, session.Identity{Username: "alice"})
	user, ok := CurrentUser(c)
	require.True(t, ok)
	assert.Equal(t, "alice", user.Username)
}

func TestLoginConcurrentSessionsAreDistinct(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", creds("alice", "pw1"), nil).Code)

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = s.do(t, http.MethodPost, "/login", creds("alice", "pw1"), nil).Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, n, s.sessions.Len())
}
