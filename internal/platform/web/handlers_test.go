package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/codebox/internal/domain"
	"github.com/dontdude/codebox/internal/queue"
	"github.com/dontdude/codebox/internal/router"
)

type fakeQueue struct {
	mu       sync.Mutex
	requests map[string]domain.CompilationRequest
	next     int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{requests: make(map[string]domain.CompilationRequest)}
}

func (q *fakeQueue) Enqueue(language, code string) (string, error) {
	if router.Normalize(language) == "cobol" {
		return "", fmt.Errorf("%w: '%s'", router.ErrUnsupportedLanguage, language)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	id := fmt.Sprintf("req-%d", q.next)
	q.requests[id] = domain.CompilationRequest{ID: id, Language: language, Code: code, Status: domain.StatusPending}
	return id, nil
}

func (q *fakeQueue) Get(id string) (domain.CompilationRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.requests[id]
	if !ok {
		return domain.CompilationRequest{}, fmt.Errorf("%w: %s", queue.ErrNotFound, id)
	}
	return req, nil
}

func (q *fakeQueue) set(req domain.CompilationRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests[req.ID] = req
}

type fakeCompiler struct{}

func (fakeCompiler) Route(_ context.Context, language, code string) (domain.CompilationResult, error) {
	switch router.Normalize(language) {
	case "cobol":
		return domain.CompilationResult{}, fmt.Errorf("%w: '%s'", router.ErrUnsupportedLanguage, language)
	case "go":
		return domain.CompilationResult{}, fmt.Errorf("%w for '%s'", router.ErrNotImplemented, language)
	}
	return domain.CompilationResult{Success: true, Output: code, Language: "Python"}, nil
}

func newTestServer(t *testing.T, q *fakeQueue) (http.Handler, *Hub) {
	t.Helper()
	hub := NewHub(q, zerolog.Nop())
	h := NewHandler(q, fakeCompiler{}, zerolog.Nop())
	return NewRouter(h, hub, NewRateLimiter(1000, 1000)), hub
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSubmit(t *testing.T) {
	q := newFakeQueue()
	h, _ := newTestServer(t, q)

	rec := do(t, h, http.MethodPost, "/compiler/python", `{"code":"print(1)"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decode[submitResponse](t, rec)
	assert.Equal(t, domain.StatusPending, resp.Status)

	req, err := q.Get(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "python", req.Language)
	assert.Equal(t, "print(1)", req.Code)
}

func TestSubmit_BadRequests(t *testing.T) {
	h, _ := newTestServer(t, newFakeQueue())

	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{"missing code", "/compiler/python", `{}`, "Code is required"},
		{"empty code", "/compiler/python", `{"code":""}`, "Code is required"},
		{"not json", "/compiler/python", `print(1)`, "Invalid request body"},
		{"unsupported language", "/compiler/cobol", `{"code":"x"}`, "unsupported language: 'cobol'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode[errorResponse](t, rec).Error, tt.want)
		})
	}
}

func TestPoll(t *testing.T) {
	q := newFakeQueue()
	q.set(domain.CompilationRequest{
		ID:     "abc",
		Status: domain.StatusCompleted,
		Result: &domain.CompilationResult{Success: true, Output: "1\n", Language: "Python"},
	})
	h, _ := newTestServer(t, q)

	rec := do(t, h, http.MethodGet, "/compiler/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	req := decode[domain.CompilationRequest](t, rec)
	assert.Equal(t, domain.StatusCompleted, req.Status)
	require.NotNil(t, req.Result)
	assert.Equal(t, "1\n", req.Result.Output)

	rec = do(t, h, http.MethodGet, "/compiler/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunDirect(t *testing.T) {
	h, _ := newTestServer(t, newFakeQueue())

	rec := do(t, h, http.MethodPost, "/compiler/py/run", `{"code":"print(2)"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[domain.CompilationResult](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "print(2)", res.Output)

	rec = do(t, h, http.MethodPost, "/compiler/cobol/run", `{"code":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/compiler/go/run", `{"code":"x"}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "compiler not implemented")
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestServer(t, newFakeQueue())

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "codebox_queue_depth")
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestServer(t, newFakeQueue())

	rec := do(t, h, http.MethodOptions, "/compiler/python", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestSubmit_RateLimited(t *testing.T) {
	q := newFakeQueue()
	hub := NewHub(q, zerolog.Nop())
	h := NewRouter(NewHandler(q, fakeCompiler{}, zerolog.Nop()), hub, NewRateLimiter(0.001, 2))

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/compiler/python", `{"code":"x"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/compiler/python", `{"code":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Polling is not limited.
	rec = do(t, h, http.MethodGet, "/compiler/req-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(visitorTimeout + time.Second)
	rl.Allow("b")
	rl.evict(visitorTimeout)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "a")
	assert.Contains(t, rl.visitors, "b")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	assert.Equal(t, "192.0.2.7", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
