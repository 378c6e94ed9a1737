package www

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiximax/api"
	"tiximax/config"
	"tiximax/engine"
	"tiximax/labels"
	"tiximax/realtime"
	"tiximax/store"
)

// fakeTransport hands out in-memory sessions; Dial fails while down is set.
type fakeTransport struct {
	mu   sync.Mutex
	down bool
	sent []string
}

func (t *fakeTransport) Dial(ctx context.Context) (realtime.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down {
		return nil, errors.New("connection refused")
	}
	return &fakeSession{t: t, done: make(chan struct{})}, nil
}

func (t *fakeTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

type fakeSession struct {
	t    *fakeTransport
	done chan struct{}
	once sync.Once
}

func (s *fakeSession) Subscribe(string, func([]byte)) (func() error, error) {
	return func() error { return nil }, nil
}

func (s *fakeSession) Send(destination string, body []byte) error {
	s.t.mu.Lock()
	s.t.sent = append(s.t.sent, destination+" "+string(body))
	s.t.mu.Unlock()
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }
func (s *fakeSession) Err() error            { return nil }
func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type testEnv struct {
	srv       *httptest.Server
	eng       *engine.Engine
	transport *fakeTransport
	tokens    *api.FileTokenStore
}

func newTestEnv(t *testing.T, down bool, upstream string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "www.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := api.OpenFileTokenStore(filepath.Join(dir, "token.json"))
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Realtime.Topics = []string{"/topic/orders"}
	cfg.Realtime.ReconnectDelay = time.Hour
	cfg.Labels.RenderDelay = 0
	cfg.Labels.BatchSize = 4
	if upstream != "" {
		cfg.API.BaseURL = upstream
	}

	tr := &fakeTransport{down: down}
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Tokens:    tokens,
		Transport: tr,
		Printer:   labels.FuncPrinter(func(context.Context, labels.Job) error { return nil }),
	})
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)

	handler, stop := NewRouter(eng, nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		stop()
	})
	return &testEnv{srv: srv, eng: eng, transport: tr, tokens: tokens}
}

// client returns an HTTP client with its own cookie jar.
func (e *testEnv) client(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (e *testEnv) login(t *testing.T, c *http.Client, user, pass string) *http.Response {
	t.Helper()
	resp, err := c.PostForm(e.srv.URL+"/login", url.Values{"username": {user}, "password": {pass}})
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func (e *testEnv) do(t *testing.T, c *http.Client, method, path, body string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, false, "")
	resp, body := env.do(t, http.DefaultClient, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var h engine.Health
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, "connected", h.Channel)
	assert.Equal(t, "sqlite", h.Database)
}

func TestLoginRequiredAndAdminBootstrap(t *testing.T) {
	env := newTestEnv(t, false, "")
	c := env.client(t)

	resp, _ := env.do(t, c, http.MethodGet, "/api/labels", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.login(t, c, "root", "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, c, http.MethodGet, "/api/me", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"role":"admin"`)

	other := env.client(t)
	resp = env.login(t, other, "root", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRolesGateRoutes(t *testing.T) {
	env := newTestEnv(t, false, "")
	admin := env.client(t)
	env.login(t, admin, "root", "secret")

	resp, _ := env.do(t, admin, http.MethodPost, "/api/users", `{"username":"pam","password":"pw","role":"staff_purchaser"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = env.do(t, admin, http.MethodPost, "/api/users", `{"username":"x","password":"pw","role":"janitor"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	pam := env.client(t)
	require.Equal(t, http.StatusOK, env.login(t, pam, "pam", "pw").StatusCode)

	resp, _ = env.do(t, pam, http.MethodPost, "/api/labels/generate", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = env.do(t, pam, http.MethodGet, "/api/users", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, admin, http.MethodPut, "/api/users/pam/role", `{"role":"staff_warehouse"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, pam, http.MethodPost, "/api/labels/generate", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "role change applies without a new login")

	resp, _ = env.do(t, admin, http.MethodPut, "/api/users/ghost/role", `{"role":"manager"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLabelFlow(t *testing.T) {
	env := newTestEnv(t, false, "")
	c := env.client(t)
	env.login(t, c, "root", "secret")

	resp, body := env.do(t, c, http.MethodPost, "/api/labels/generate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var gen struct {
		Batch []labels.Code `json:"batch"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &gen))
	assert.Len(t, gen.Batch, 4, "configured batch size is the default")

	resp, _ = env.do(t, c, http.MethodPost, "/api/labels/generate", `{"count":5000}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, c, http.MethodPost, "/api/labels/print/2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var printed printResult
	require.NoError(t, json.Unmarshal([]byte(body), &printed))
	assert.Equal(t, "single(2)", printed.Scope)
	assert.Equal(t, []labels.Code{gen.Batch[2]}, printed.Codes)

	resp, _ = env.do(t, c, http.MethodPost, "/api/labels/print/9", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, c, http.MethodGet, "/api/labels", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"scope":"none"`)

	resp, body = env.do(t, c, http.MethodGet, "/api/print-jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []store.PrintJob
	require.NoError(t, json.Unmarshal([]byte(body), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "root", jobs[0].PrintedBy)
	assert.Equal(t, printed.JobID, jobs[0].JobID)

	resp, body = env.do(t, c, http.MethodGet, "/labels/sheet", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	for _, code := range gen.Batch {
		assert.Contains(t, body, string(code))
	}
}

func TestPrintEmptyBatchConflicts(t *testing.T) {
	env := newTestEnv(t, false, "")
	c := env.client(t)
	env.login(t, c, "root", "secret")
	resp, _ := env.do(t, c, http.MethodPost, "/api/labels/print", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSend(t *testing.T) {
	env := newTestEnv(t, false, "")
	c := env.client(t)
	env.login(t, c, "root", "secret")

	resp, body := env.do(t, c, http.MethodPost, "/api/send", `{"destination":"/app/ping","body":{"n":1}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, `"status":"ok"`)
	assert.Equal(t, []string{`/app/ping {"n":1}`}, env.transport.Sent())

	resp, _ = env.do(t, c, http.MethodPost, "/api/send", `{"destination":"/app/ping"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendWhileDown(t *testing.T) {
	env := newTestEnv(t, true, "")
	c := env.client(t)
	env.login(t, c, "root", "secret")

	resp, body := env.do(t, c, http.MethodPost, "/api/send", `{"body":{"n":1}}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, `"status":"not_connected"`)

	resp, body = env.do(t, c, http.MethodPost, "/api/send?queue=1", `{"body":{"n":2}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out engine.SendOutcome
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.True(t, out.Queued)

	resp, body = env.do(t, c, http.MethodGet, "/api/outbox/"+out.MsgID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"destination":"/app/orders"`)
	assert.Contains(t, body, `"created_by":"root"`)
}

func TestOrdersProxyUsesStoredToken(t *testing.T) {
	var gotAuth []string
	var mu sync.Mutex
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		mu.Unlock()
		switch r.URL.Path {
		case "/orders/status/DA_GIAO":
			json.NewEncoder(w).Encode(api.Page[api.Order]{Content: []api.Order{{OrderID: 1, OrderCode: "TX-1"}}, TotalElements: 1})
		case "/orders/5":
			http.Error(w, "nope", http.StatusNotFound)
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer upstream.Close()

	env := newTestEnv(t, false, upstream.URL)
	c := env.client(t)
	env.login(t, c, "root", "secret")

	resp, _ := env.do(t, c, http.MethodGet, "/api/destinations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, c, http.MethodPut, "/api/token", `{"token":"jwt-9"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "jwt-9", env.tokens.Token())

	resp, body := env.do(t, c, http.MethodGet, "/api/orders?status=DA_GIAO", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "TX-1")

	resp, _ = env.do(t, c, http.MethodGet, "/api/orders/5", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotAuth, 3)
	assert.Equal(t, "", gotAuth[0])
	assert.Equal(t, "Bearer jwt-9", gotAuth[1])
	assert.Equal(t, "Bearer jwt-9", gotAuth[2])
}

func TestEventsStreamLabelChanges(t *testing.T) {
	env := newTestEnv(t, false, "")
	c := env.client(t)
	env.login(t, c, "root", "secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())

	_, err = env.eng.Desk().Generate(2)
	require.NoError(t, err)

	found := make(chan bool, 1)
	go func() {
		for lines.Scan() {
			if lines.Text() == "event: labels-batch" {
				found <- true
				return
			}
		}
		found <- false
	}()
	select {
	case ok := <-found:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("no labels-batch event")
	}
}
