package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"

	"expensetracker/internal/core"
	"expensetracker/internal/events"
	"expensetracker/internal/metrics"
	"expensetracker/internal/ports/memory"
	"expensetracker/internal/services"
	"expensetracker/internal/session"
)

type testEnv struct {
	server *Server
	ts     *httptest.Server
}

const (
	testGoogleClientID = "client-123.apps.googleusercontent.com"
	testGoogleToken    = "google-ok"
)

type envConfig struct {
	deps      Deps
	keepAlive time.Duration
}

type envOption func(*envConfig)

func stubGoogle(_ context.Context, token, audience string) (*idtoken.Payload, error) {
	if token != testGoogleToken || audience != testGoogleClientID {
		return nil, errors.New("idtoken: invalid token")
	}
	return &idtoken.Payload{
		Subject: "google-sub",
		Claims:  map[string]any{"email": "gina@example.com", "email_verified": true},
	}, nil
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	store := memory.New()
	broker := events.NewBroker[core.ChangeEvent]()
	m := metrics.New()
	stats := services.NewStatsService(store, core.DefaultRegistry(), broker, 16, time.Minute, m)
	sessions := session.NewService(store, session.Config{
		Secret:         "test-secret-test-secret",
		Issuer:         "test",
		Expiry:         time.Hour,
		GoogleClientID: testGoogleClientID,
	}, session.WithIDTokenValidator(stubGoogle))

	cfg := envConfig{deps: Deps{
		Sessions:     sessions,
		Transactions: services.NewTransactionService(store, broker, services.WithInvalidator(stats)),
		Stats:        stats,
		Metrics:      m,
		RateLimit:    "1000-M",
	}}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(":0", cfg.deps)
	require.NoError(t, err)
	if cfg.keepAlive > 0 {
		srv.keepAlive = cfg.keepAlive
	}

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
		sessions.Close()
		broker.Close()
	})
	return &testEnv{server: srv, ts: ts}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) register(t *testing.T, email string) session.Session {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[session.Session](t, resp)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = env.do(t, http.MethodGet, "/readyz", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/metrics", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "http_requests_total")
}

func TestCategories(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/categories", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[struct {
		Categories      []core.Category `json:"categories"`
		DefaultCategory string          `json:"defaultCategory"`
		FallbackColor   string          `json:"fallbackColor"`
	}](t, resp)

	assert.Len(t, got.Categories, len(core.DefaultRegistry().All()))
	assert.Equal(t, "Food", got.DefaultCategory)
	assert.Equal(t, "#ccc", got.FallbackColor)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/transactions", "/api/stats", "/api/export.csv"} {
		resp := env.do(t, http.MethodGet, path, "", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := env.do(t, http.MethodGet, "/api/transactions", "not-a-token", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterDuplicateAndBadLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ann@example.com")

	resp := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "ANN@example.com", "password": "secret1",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "wrong-one",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decode[session.Session](t, resp).Token)
}

func TestTransactionLifecycleAndStats(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ann@example.com").Token

	resp := env.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"amount": "12,50", "description": "Groceries", "category": "Food", "type": "expense", "date": "2024-03-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	groceries := decode[core.Transaction](t, resp)
	assert.Equal(t, 12.5, groceries.Amount)

	resp = env.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"amount": 1000, "description": "Salary", "category": "Salary", "type": "income", "date": "2024-03-02",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// category, type and date fall back to their defaults
	resp = env.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"amount": 7.5, "description": "Lunch",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	lunch := decode[core.Transaction](t, resp)
	assert.Equal(t, core.DefaultCategory, lunch.Category)
	assert.Equal(t, core.Expense, lunch.Type)
	assert.Equal(t, time.Now().Format(core.DateLayout), lunch.Date)

	resp = env.do(t, http.MethodPut, "/api/transactions/"+groceries.ID, token, map[string]any{
		"amount": 20, "description": "Groceries", "category": "Food", "type": "expense", "date": "2024-03-01",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 20.0, decode[core.Transaction](t, resp).Amount)

	resp = env.do(t, http.MethodDelete, "/api/transactions/"+lunch.ID, token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/transactions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Transactions []core.Transaction `json:"transactions"`
	}](t, resp)
	require.Len(t, list.Transactions, 2)
	assert.Equal(t, "Salary", list.Transactions[0].Description)

	resp = env.do(t, http.MethodGet, "/api/stats", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[core.Stats](t, resp)
	assert.Equal(t, core.Totals{Income: 1000, Expense: 20, Balance: 980}, st.Totals)
	require.Len(t, st.Breakdown, 1)
	assert.Equal(t, core.CategorySlice{Name: "Food", Value: 20, Color: "#EF4444"}, st.Breakdown[0])
}

func TestTransactionValidationAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	ann := env.register(t, "ann@example.com").Token
	bob := env.register(t, "bob@example.com").Token

	tests := []struct {
		name string
		body any
	}{
		{"negative amount", map[string]any{"amount": -5, "description": "x"}},
		{"zero string amount", map[string]any{"amount": "0", "description": "x"}},
		{"missing amount", map[string]any{"description": "x"}},
		{"empty description", map[string]any{"amount": 5, "description": "  "}},
		{"bad type", map[string]any{"amount": 5, "description": "x", "type": "transfer"}},
		{"bad date", map[string]any{"amount": 5, "description": "x", "date": "01/02/2024"}},
		{"unknown field", map[string]any{"amount": 5, "description": "x", "currency": "EUR"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/transactions", ann, tt.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp := env.do(t, http.MethodPost, "/api/transactions", ann, map[string]any{"amount": 5, "description": "Coffee", "category": "Cafe"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tx := decode[core.Transaction](t, resp)
	assert.Equal(t, "Cafe", tx.Category)

	resp = env.do(t, http.MethodDelete, "/api/transactions/"+tx.ID, bob, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/stats", ann, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[core.Stats](t, resp)
	require.Len(t, st.Breakdown, 1)
	assert.Equal(t, core.FallbackColor, st.Breakdown[0].Color)
}

func TestUpdateAcceptsEchoedRecord(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ann@example.com").Token

	resp := env.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"amount": 9, "description": "Books", "category": "Shopping", "date": "2024-02-10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var record map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
	resp.Body.Close()
	require.Contains(t, record, "id")
	require.Contains(t, record, "createdAt")

	id := record["id"].(string)
	record["amount"] = 11
	record["id"] = "someone-else"
	resp = env.do(t, http.MethodPut, "/api/transactions/"+id, token, record)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[core.Transaction](t, resp)
	assert.Equal(t, id, updated.ID)
	assert.Equal(t, 11.0, updated.Amount)
}

func TestMalformedBodyError(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ann@example.com").Token

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/transactions", strings.NewReader(`{"amount":`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.Equal(t, "validation error: malformed JSON body", body.Error)
	assert.NotContains(t, body.Error, "\n")
}

func TestGoogleLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"idToken": testGoogleToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decode[session.Session](t, resp)
	assert.Equal(t, "gina@example.com", sess.Email)
	require.NotEmpty(t, sess.Token)

	resp = env.do(t, http.MethodGet, "/api/transactions", sess.Token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// a second sign-in resolves to the same account
	resp = env.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"idToken": testGoogleToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sess.UserID, decode[session.Session](t, resp).UserID)

	resp = env.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"idToken": "forged"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"idToken": ""})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ann@example.com").Token

	resp := env.do(t, http.MethodGet, "/api/export.csv", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"amount": 3.2, "description": "Bus, return", "category": "Transport", "date": "2024-01-05",
	})
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/export.csv", token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "expenses_export.csv")

	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.Equal(t,
		"Date,Type,Category,Description,Amount\n2024-01-05,expense,Transport,\"Bus, return\",3.2\n",
		body.String())
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ann@example.com").Token

	resp := env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/transactions", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type sseEvent struct {
	name string
	data string
}

func readEvents(r *bufio.Reader, out chan<- sseEvent) {
	defer close(out)
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.name != "":
			out <- ev
			ev = sseEvent{}
		}
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent) (sseEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}, false
	}
}

func TestStatsStream(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ann@example.com").Token

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/stats/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 8)
	go readEvents(bufio.NewReader(resp.Body), events)

	ev, ok := nextEvent(t, events)
	require.True(t, ok)
	require.Equal(t, "stats", ev.name)
	var st core.Stats
	require.NoError(t, json.Unmarshal([]byte(ev.data), &st))
	assert.Equal(t, 0, st.Count)

	created := env.do(t, http.MethodPost, "/api/transactions", token, map[string]any{"amount": 4, "description": "Tea"})
	created.Body.Close()
	require.Equal(t, http.StatusCreated, created.StatusCode)

	for st.Count != 1 {
		ev, ok = nextEvent(t, events)
		require.True(t, ok)
		require.Equal(t, "stats", ev.name)
		require.NoError(t, json.Unmarshal([]byte(ev.data), &st))
	}
	assert.Equal(t, 4.0, st.Totals.Expense)

	out := env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	out.Body.Close()
	require.Equal(t, http.StatusNoContent, out.StatusCode)

	for {
		ev, ok = nextEvent(t, events)
		if !ok {
			t.Fatal("stream closed without a logout event")
		}
		if ev.name == "logout" {
			break
		}
	}
	_, ok = nextEvent(t, events)
	assert.False(t, ok, "stream should end after logout")
}

// deafSessions never delivers transitions, as when a subscriber falls behind.
type deafSessions struct {
	*session.Service
}

func (deafSessions) SubscribeUser(string, int) (<-chan session.Transition, func()) {
	return make(chan session.Transition), func() {}
}

func TestStatsStreamEndsWhenTokenStopsAuthenticating(t *testing.T) {
	env := newTestEnv(t, func(c *envConfig) {
		c.deps.Sessions = deafSessions{c.deps.Sessions.(*session.Service)}
		c.keepAlive = 20 * time.Millisecond
	})
	token := env.register(t, "ann@example.com").Token

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/stats/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan sseEvent, 8)
	go readEvents(bufio.NewReader(resp.Body), events)

	ev, ok := nextEvent(t, events)
	require.True(t, ok)
	require.Equal(t, "stats", ev.name)

	out := env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	out.Body.Close()
	require.Equal(t, http.StatusNoContent, out.StatusCode)

	for {
		ev, ok = nextEvent(t, events)
		require.True(t, ok, "stream closed without a logout event")
		if ev.name == "logout" {
			break
		}
	}
	_, ok = nextEvent(t, events)
	assert.False(t, ok, "stream should end after logout")
}
