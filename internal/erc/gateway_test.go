package erc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/proctor/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, srv.Client())
	require.NoError(t, err)
	return client, srv
}

func toolCall(t *testing.T, raw string) model.ToolCall {
	t.Helper()
	var call model.ToolCall
	require.NoError(t, json.Unmarshal([]byte(raw), &call))
	return call
}

func TestReadRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"emp-1","name":"Jane Doe"}`))
	}))
	gw := NewGateway(client, nil)

	obs, err := gw.Execute(context.Background(), []model.ToolCall{
		toolCall(t, `{"tool":"/employees/get","id":"emp-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, obs.Text, "Jane Doe")
	require.Len(t, obs.Records, 1)
}

func TestReadExhaustionBecomesErrorObservation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	gw := NewGateway(client, nil)

	obs, err := gw.Execute(context.Background(), []model.ToolCall{
		toolCall(t, `{"tool":"/employees/get","id":"emp-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, obs.Text, "error")
}

func TestWriteDispatchesExactlyOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	gw := NewGateway(client, nil)

	obs, err := gw.Execute(context.Background(), []model.ToolCall{
		toolCall(t, `{"tool":"/employees/update","id":"emp-1","city":"Berlin"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "writes must not be replayed")
	assert.Contains(t, obs.Text, "error")
}

func TestSemanticErrorPassesThroughVerbatim(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"employee emp-1 is not visible to public requesters"}`))
	}))
	gw := NewGateway(client, nil)

	obs, err := gw.Execute(context.Background(), []model.ToolCall{
		toolCall(t, `{"tool":"/employees/get","id":"emp-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "semantic errors must not be retried")
	assert.Contains(t, obs.Text, "employee emp-1 is not visible to public requesters")
}

func TestPaginatedWalkCollectsAllPages(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Offset int `json:"offset"`
			Limit  int `json:"limit"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 50, req.Limit)

		total := 70
		count := total - req.Offset
		if count > req.Limit {
			count = req.Limit
		}
		items := make([]map[string]any, 0, count)
		for i := 0; i < count; i++ {
			items = append(items, map[string]any{"id": req.Offset + i})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"employees": items, "total": total})
	}))
	gw := NewGateway(client, nil)

	obs, err := gw.Execute(context.Background(), []model.ToolCall{
		toolCall(t, `{"tool":"/employees/list"}`),
	})
	require.NoError(t, err)

	var decoded struct {
		Employees []any  `json:"employees"`
		Error     string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(obs.Text), &decoded))
	assert.Len(t, decoded.Employees, 70)
	assert.Empty(t, decoded.Error)

	require.Len(t, obs.Records, 1)
	assert.JSONEq(t, `{"count":70,"complete":true}`, string(obs.Records[0].Response))
}

func TestPaginatedWalkReportsPartialResults(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Offset int `json:"offset"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Offset >= 50 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		items := make([]map[string]any, 50)
		for i := range items {
			items[i] = map[string]any{"id": i}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"employees": items, "total": 120})
	}))
	gw := NewGateway(client, nil)

	obs, err := gw.Execute(context.Background(), []model.ToolCall{
		toolCall(t, `{"tool":"/employees/list"}`),
	})
	require.NoError(t, err)
	assert.Contains(t, obs.Text, "Incomplete:")

	var decoded struct {
		Employees []any `json:"employees"`
	}
	require.NoError(t, json.Unmarshal([]byte(obs.Text), &decoded))
	assert.Len(t, decoded.Employees, 50)
}

func TestUnknownToolBecomesErrorObservation(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unknown tool must not reach the server")
	}))
	gw := NewGateway(client, nil)

	obs, err := gw.Execute(context.Background(), []model.ToolCall{
		toolCall(t, `{"tool":"/payroll/run"}`),
	})
	require.NoError(t, err)
	assert.Contains(t, obs.Text, "unknown tool")
}

func TestBatchMergesObservations(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/employees/get":
			_, _ = w.Write([]byte(`{"id":"emp-1"}`))
		case "/projects/get":
			_, _ = w.Write([]byte(`{"id":"prj-9"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	gw := NewGateway(client, nil)

	obs, err := gw.Execute(context.Background(), []model.ToolCall{
		toolCall(t, `{"tool":"/employees/get","id":"emp-1"}`),
		toolCall(t, `{"tool":"/projects/get","id":"prj-9"}`),
	})
	require.NoError(t, err)
	assert.Contains(t, obs.Text, "emp-1")
	assert.Contains(t, obs.Text, "prj-9")
	assert.Len(t, obs.Records, 2)
}

func TestLoadRespondInstructions(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.NotFoundHandler())
	gw := NewGateway(client, func(context.Context) (string, error) {
		return "Always answer in plain text.", nil
	})

	obs, err := gw.Execute(context.Background(), []model.ToolCall{
		toolCall(t, `{"tool":"/load-respond-instructions"}`),
	})
	require.NoError(t, err)
	assert.Contains(t, obs.Text, "<respond_instructions>")
	assert.Contains(t, obs.Text, "Always answer in plain text.")
	require.Len(t, obs.Records, 1)
	assert.JSONEq(t, `{"loaded":true}`, string(obs.Records[0].Response))
}

func TestWhoAmI(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/whoami", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"user_id":"emp-1","login":"jdoe","name":"Jane Doe","authenticated":true,"today":"2026-08-29"}`))
	}))

	session, err := client.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AudienceAuthenticated, session.Audience())
	assert.Contains(t, session.Describe(), "Jane Doe")
	assert.Contains(t, session.Describe(), "2026-08-29")
}

func TestRetryAndIncompleteWalkAreLogged(t *testing.T) {
	// swaps the global logger, so no t.Parallel here
	var buf bytes.Buffer
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	result := client.paginate(context.Background(), "/employees/list", nil, "employees")
	assert.False(t, result.Complete)

	logs := buf.String()
	assert.Contains(t, logs, "api call failed, retrying")
	assert.Contains(t, logs, "api call failed after retries")
	assert.Contains(t, logs, "pagination walk incomplete")
}
