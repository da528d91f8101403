package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"channel-platform/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBackoff = 30 * time.Millisecond

type recorded struct {
	method string
	path   string
	query  string
	apikey string
	body   map[string]any
	at     time.Time
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []recorded
}

func (g *fakeGateway) record(r *http.Request) {
	rec := recorded{
		method: r.Method,
		path:   r.URL.EscapedPath(),
		query:  r.URL.RawQuery,
		apikey: r.Header.Get("apikey"),
		at:     time.Now(),
	}
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &rec.body)
	}
	g.mu.Lock()
	g.calls = append(g.calls, rec)
	g.mu.Unlock()
}

func (g *fakeGateway) all() []recorded {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]recorded(nil), g.calls...)
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *fakeGateway, *Metrics) {
	t.Helper()
	g := &fakeGateway{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	m := NewMetrics(prometheus.NewRegistry())
	c, err := New(config.EvolutionConfig{
		BaseURL:     srv.URL + "/",
		APIKey:      "secret-key",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		Backoff:     testBackoff,
	}, nil, m)
	require.NoError(t, err)
	return c, g, m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(config.EvolutionConfig{}, nil, nil)
	require.Error(t, err)
}

func TestRetry_ThreeAttemptsThenLastError(t *testing.T) {
	c, g, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "busy"})
	})

	_, err := c.ConnectionState(context.Background(), "sales")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, se.Body, "busy")
	assert.Equal(t, "connection_state", se.Operation)

	calls := g.all()
	require.Len(t, calls, 3)
	assert.GreaterOrEqual(t, calls[1].at.Sub(calls[0].at), testBackoff)
	assert.GreaterOrEqual(t, calls[2].at.Sub(calls[1].at), 2*testBackoff)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("connection_state", outcomeStatusError)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RetriesTotal.WithLabelValues("connection_state")))
}

func TestRetry_RecoversAfterTransientFailure(t *testing.T) {
	var n int
	var mu sync.Mutex
	c, g, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		n++
		cur := n
		mu.Unlock()
		if cur == 1 {
			writeJSON(w, http.StatusBadGateway, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"instance": map[string]any{"state": "open"}})
	})

	p, err := c.ConnectionState(context.Background(), "sales")
	require.NoError(t, err)
	assert.Len(t, g.all(), 2)
	assert.Contains(t, p, "instance")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("connection_state", outcomeOK)))
}

func TestRetry_ClientErrorsAreNotRetried(t *testing.T) {
	c, g, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "instance already exists"})
	})

	_, err := c.CreateInstance(context.Background(), CreateInstanceRequest{InstanceName: "sales", Integration: IntegrationBaileys})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusForbidden))
	assert.Len(t, g.all(), 1)
}

func TestRetry_TooManyRequestsIsRetried(t *testing.T) {
	c, g, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{})
	})
	_, err := c.LogoutInstance(context.Background(), "sales")
	require.Error(t, err)
	assert.Len(t, g.all(), 3)
}

func TestRetry_TransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	m := NewMetrics(prometheus.NewRegistry())
	c, err := New(config.EvolutionConfig{BaseURL: url, APIKey: "k", Timeout: time.Second, MaxAttempts: 3, Backoff: time.Millisecond}, nil, m)
	require.NoError(t, err)

	_, err = c.ListInstances(context.Background())
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("fetch_instances", outcomeTransportError)))
}

func TestRetry_StopsWhenContextCancelled(t *testing.T) {
	c, g, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{})
	})
	c.backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.ConnectionState(ctx, "sales")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, g.all(), 1)
	assert.True(t, IsStatus(err, http.StatusInternalServerError), "want last upstream error, got %v", err)
}

func TestRequest_HeadersAndPathEscaping(t *testing.T) {
	c, g, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"pairingCode": "ABCD"})
	})

	_, err := c.ConnectInstance(context.Background(), "sales team", "5511999")
	require.NoError(t, err)

	calls := g.all()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodGet, calls[0].method)
	assert.Equal(t, "/instance/connect/sales%20team", calls[0].path)
	assert.Equal(t, "number=5511999", calls[0].query)
	assert.Equal(t, "secret-key", calls[0].apikey)
}

func TestListInstances_Envelopes(t *testing.T) {
	cases := []struct {
		name string
		body any
		want int
	}{
		{"data", map[string]any{"data": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}}, 2},
		{"response", map[string]any{"status": 200, "response": []any{map[string]any{"name": "a"}}}, 1},
		{"bare", []any{map[string]any{"name": "a"}, "junk", map[string]any{"name": "c"}}, 2},
		{"data wins over response", map[string]any{"data": []any{}, "response": []any{map[string]any{"name": "a"}}}, 0},
		{"unknown object", map[string]any{"instances": []any{map[string]any{"name": "a"}}}, 0},
		{"scalar", "nope", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tc.body)
			})
			got, err := c.ListInstances(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestEmptyBodyDecodesToEmptyPayload(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	p, err := c.DeleteInstance(context.Background(), "sales")
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Empty(t, p)
}

func TestInvalidJSONIsNotRetried(t *testing.T) {
	c, g, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>"))
	})
	_, err := c.ConnectionState(context.Background(), "sales")
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.Len(t, g.all(), 1)
}

func TestCreateBot_BodyDefaultsOptionsAndExtra(t *testing.T) {
	c, g, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "bot-1"})
	})

	expire := 20
	keepOpen := true
	_, err := c.CreateBot(context.Background(), "sales", "https://agents/a1", "k1", BotOptions{
		TriggerType:     "keyword",
		TriggerOperator: "equals",
		TriggerValue:    "hi",
		Expire:          &expire,
		KeepOpen:        &keepOpen,
		IgnoreJids:      []string{"123@s.whatsapp.net"},
		Extra:           map[string]any{"speechToText": true, "triggerType": "advanced"},
	})
	require.NoError(t, err)

	calls := g.all()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].method)
	assert.Equal(t, "/evoai/create/sales", calls[0].path)

	b := calls[0].body
	assert.Equal(t, true, b["enabled"])
	assert.Equal(t, "https://agents/a1", b["agentUrl"])
	assert.Equal(t, "k1", b["apiKey"])
	assert.Equal(t, "advanced", b["triggerType"], "extra is merged last")
	assert.Equal(t, "equals", b["triggerOperator"])
	assert.Equal(t, float64(20), b["expire"])
	assert.Equal(t, true, b["keepOpen"])
	assert.Equal(t, true, b["speechToText"])
	assert.NotContains(t, b, "debounceTime")
}

func TestBotBody_Defaults(t *testing.T) {
	b := botBody("u", "k", BotOptions{})
	assert.Equal(t, true, b["enabled"])
	assert.Equal(t, "all", b["triggerType"])

	off := false
	b = botBody("u", "k", BotOptions{Enabled: &off})
	assert.Equal(t, false, b["enabled"])
}

func TestFindBots_Shapes(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{map[string]any{"id": "b1"}, map[string]any{"id": "b2"}})
	})
	bots, err := c.FindBots(context.Background(), "sales")
	require.NoError(t, err)
	assert.Len(t, bots, 2)

	c, _, _ = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "b1", "enabled": true})
	})
	bots, err = c.FindBots(context.Background(), "sales")
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, "b1", bots[0]["id"])
}

func TestBotEndpoints_Paths(t *testing.T) {
	c, g, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	ctx := context.Background()

	_, _ = c.UpdateBot(ctx, "b1", "sales", "u", "k", BotOptions{})
	_, _ = c.DeleteBot(ctx, "b1", "sales")
	_, _ = c.FetchBot(ctx, "b1", "sales")
	_, _ = c.SetBotSettings(ctx, "sales", Payload{"expire": 10})
	_, _ = c.FetchBotSettings(ctx, "sales")
	_, _ = c.ChangeSessionStatus(ctx, "sales", "1@s.whatsapp.net", SessionClosed)
	_, _ = c.FetchSessions(ctx, "b1", "sales")
	_, _ = c.IgnoreJID(ctx, "sales", "1@s.whatsapp.net", IgnoreAdd)

	want := []struct{ method, path string }{
		{http.MethodPut, "/evoai/update/b1/sales"},
		{http.MethodDelete, "/evoai/delete/b1/sales"},
		{http.MethodGet, "/evoai/fetch/b1/sales"},
		{http.MethodPost, "/evoai/settings/sales"},
		{http.MethodGet, "/evoai/fetchSettings/sales"},
		{http.MethodPost, "/evoai/changeStatus/sales"},
		{http.MethodGet, "/evoai/fetchSessions/b1/sales"},
		{http.MethodPost, "/evoai/ignoreJid/sales"},
	}
	calls := g.all()
	require.Len(t, calls, len(want))
	for i, w := range want {
		assert.Equal(t, w.method, calls[i].method, "call %d", i)
		assert.Equal(t, w.path, calls[i].path, "call %d", i)
	}
	assert.Equal(t, "closed", calls[5].body["status"])
	assert.Equal(t, "add", calls[7].body["action"])
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.observe("x", outcomeOK, time.Second)
	m.retry("x")
	assert.Nil(t, NewMetrics(nil))
}
