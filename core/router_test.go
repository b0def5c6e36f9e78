package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []CredentialsNotice
}

func (n *recordingNotifier) Notify(_ context.Context, notice CredentialsNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

type routerFixture struct {
	handler  http.Handler
	repo     *memUserRepo
	detector *fakeDetector
	notifier *recordingNotifier
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := Config{
		SessionKey:     "test-session-key-0123456789abcdef",
		CookieSameSite: "Lax",
		SessionTTL:     time.Hour,
		MaxFrameBytes:  1024,
	}
	repo := newMemUserRepo()
	repo.add(t, "alice", "alice-password", "user")
	repo.add(t, "root", "root-password", "admin")

	det := newFakeDetector(NoFaceFound("No face detected"))
	registry := NewSessionRegistry(nil, cfg.SessionTTL, discardLogger())
	facial := NewFacialLoginPath(det, NewStoreFaceResolver(repo, 0), discardLogger())
	flow := NewLoginFlow(registry, NewCredentialLoginPath(repo, discardLogger()), facial, LoginFlowOptions{Logger: discardLogger()})
	notifier := &recordingNotifier{}

	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	r := NewRouter(cfg, store, RouterDeps{
		Flow:     flow,
		Users:    repo,
		Sessions: registry,
		Notifier: notifier,
		Logger:   discardLogger(),
	})
	return &routerFixture{handler: r, repo: repo, detector: det, notifier: notifier}
}

// browser keeps cookies and the CSRF token between requests.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
	csrf    string
}

func (f *routerFixture) browser(t *testing.T) *browser {
	return &browser{t: t, handler: f.handler, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(method, path, body string, withCSRF bool) *httptest.ResponseRecorder {
	b.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	if withCSRF {
		req.Header.Set("X-CSRF-Token", b.csrf)
	}
	w := httptest.NewRecorder()
	b.handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	if tok := w.Header().Get("X-CSRF-Token"); tok != "" {
		b.csrf = tok
	}
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), "body %s", w.Body.String())
	return m
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	e, _ := decodeBody(t, w)["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestRouterPasswordLoginLifecycle(t *testing.T) {
	f := newRouterFixture(t)
	b := f.browser(t)

	w := b.do(http.MethodGet, "/api/v1/session", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["authenticated"])

	w = b.do(http.MethodPost, "/api/v1/auth/login", `{"username":"alice","password":"wrong"}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, w))

	w = b.do(http.MethodPost, "/api/v1/auth/login", `{"username":"","password":""}`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, w))

	w = b.do(http.MethodPost, "/api/v1/auth/login", `{"username":"alice","password":"alice-password"}`, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user, _ := decodeBody(t, w)["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])

	w = b.do(http.MethodGet, "/api/v1/session", "", false)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, float64(1), body["token"])

	w = b.do(http.MethodGet, "/api/v1/users/me", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice@example.com", decodeBody(t, w)["email"])
	assert.NotNil(t, decodeBody(t, w)["last_login_at"])

	w = b.do(http.MethodPost, "/api/v1/auth/logout", "", false)
	assert.Equal(t, http.StatusForbidden, w.Code, "logout requires the csrf token")

	w = b.do(http.MethodPost, "/api/v1/auth/logout", "", true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = b.do(http.MethodGet, "/api/v1/users/me", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = b.do(http.MethodPost, "/api/v1/auth/logout", "", true)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouterFaceLogin(t *testing.T) {
	f := newRouterFixture(t)
	b := f.browser(t)

	w := b.do(http.MethodPost, "/api/v1/auth/face-login", `{"image":"`+testFrame+`"}`, false)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NO_FACE", errorCode(t, w))

	w = b.do(http.MethodPost, "/api/v1/auth/face-login", `{"image":""}`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = b.do(http.MethodPost, "/api/v1/auth/face-login", `{"image":"`+strings.Repeat("A", 2048)+`"}`, false)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 1, f.detector.callCount(), "rejected frames never reach the detector")

	f.detector.mu.Lock()
	f.detector.outcomes = []DetectionOutcome{Matched(FaceHint{Subject: "alice"})}
	f.detector.calls = 0
	f.detector.mu.Unlock()

	w = b.do(http.MethodPost, "/api/v1/auth/face-login", `{"image":"`+testFrame+`"}`, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "face", decodeBody(t, w)["method"])

	w = b.do(http.MethodGet, "/api/v1/session", "", false)
	assert.Equal(t, true, decodeBody(t, w)["authenticated"])
}

func TestRouterClearSessionNeedsNoCSRF(t *testing.T) {
	f := newRouterFixture(t)
	b := f.browser(t)

	w := b.do(http.MethodPost, "/api/v1/auth/login", `{"username":"alice","password":"alice-password"}`, false)
	require.Equal(t, http.StatusOK, w.Code)

	w = b.do(http.MethodPost, "/api/v1/auth/clear-session", "", false)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = b.do(http.MethodGet, "/api/v1/session", "", false)
	assert.Equal(t, false, decodeBody(t, w)["authenticated"])

	// Anonymous callers may clear too.
	w = f.browser(t).do(http.MethodPost, "/api/v1/auth/clear-session", "", false)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouterAdminRoutes(t *testing.T) {
	f := newRouterFixture(t)

	anon := f.browser(t)
	w := anon.do(http.MethodGet, "/api/v1/admin/users", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	user := f.browser(t)
	user.do(http.MethodPost, "/api/v1/auth/login", `{"username":"alice","password":"alice-password"}`, false)
	w = user.do(http.MethodGet, "/api/v1/admin/users", "", false)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := f.browser(t)
	w = admin.do(http.MethodPost, "/api/v1/auth/login", `{"username":"root","password":"root-password"}`, false)
	require.Equal(t, http.StatusOK, w.Code)

	newUser := `{"username":"carol","password":"carol-password","name":"Carol","email":"carol@example.com","department":"Ops"}`
	w = admin.do(http.MethodPost, "/api/v1/admin/users", newUser, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["notified"])
	assert.Equal(t, "user", body["role"])
	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, "carol-password", f.notifier.notices[0].Password)

	w = admin.do(http.MethodPost, "/api/v1/admin/users", newUser, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = admin.do(http.MethodPost, "/api/v1/admin/users", `{"username":"dave","password":"short","name":"Dave","email":"d@example.com"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = admin.do(http.MethodGet, "/api/v1/admin/users?per_page=2", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, float64(3), body["total_items"])
	assert.Equal(t, float64(2), body["total_pages"])
	assert.Len(t, body["items"], 2)

	w = admin.do(http.MethodGet, "/api/v1/admin/users?page=0", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = admin.do(http.MethodPut, "/api/v1/admin/users/carol/face", `{"subject":"carol-face"}`, true)
	assert.Equal(t, http.StatusNoContent, w.Code)
	carol, err := f.repo.FindByFaceSubject(context.Background(), "carol-face")
	require.NoError(t, err)
	assert.Equal(t, "carol", carol.Username)

	w = admin.do(http.MethodPut, "/api/v1/admin/users/nobody/face", `{"subject":"x"}`, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = admin.do(http.MethodGet, "/api/v1/admin/system/status", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	sessionsStats, _ := decodeBody(t, w)["sessions"].(map[string]any)
	assert.Equal(t, float64(2), sessionsStats["authenticated"])
}

func TestRouterFaceServiceFailureCarriesDetail(t *testing.T) {
	f := newRouterFixture(t)
	f.detector.mu.Lock()
	f.detector.outcomes = []DetectionOutcome{ParseDetectionResponse(http.StatusInternalServerError, []byte(`{"error":"model crashed"}`))}
	f.detector.mu.Unlock()

	w := f.browser(t).do(http.MethodPost, "/api/v1/auth/face-login", `{"image":"`+testFrame+`"}`, false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	e, _ := decodeBody(t, w)["error"].(map[string]any)
	assert.Equal(t, "SERVICE_UNAVAILABLE", e["code"])
	assert.NotEmpty(t, e["message"])
	detail, _ := e["detail"].(string)
	assert.Contains(t, detail, "500")
	assert.Contains(t, detail, "model crashed")
}

func TestRouterLoginRotatesSessionID(t *testing.T) {
	f := newRouterFixture(t)
	b := f.browser(t)

	b.do(http.MethodGet, "/api/v1/session", "", false)
	planted := *b.cookies[sessionName]
	plantedCSRF := b.csrf

	w := b.do(http.MethodPost, "/api/v1/auth/login", `{"username":"alice","password":"alice-password"}`, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEqual(t, planted.Value, b.cookies[sessionName].Value)
	assert.NotEqual(t, plantedCSRF, b.csrf)

	w = b.do(http.MethodGet, "/api/v1/session", "", false)
	assert.Equal(t, true, decodeBody(t, w)["authenticated"])

	// Whoever kept the pre-login cookie is still anonymous.
	attacker := f.browser(t)
	attacker.cookies[sessionName] = &planted
	w = attacker.do(http.MethodGet, "/api/v1/session", "", false)
	assert.Equal(t, false, decodeBody(t, w)["authenticated"])
	w = attacker.do(http.MethodGet, "/api/v1/users/me", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
