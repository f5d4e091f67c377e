package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/catalog"
	"llmstreambench/internal/history"
	"llmstreambench/internal/probe"
	"llmstreambench/internal/stream"
	"llmstreambench/internal/summary"
)

// fakeProber answers every request of a model with "Hello" after 100ms,
// except for the model named "broken" whose whole run fails.
type fakeProber struct{}

func (fakeProber) Run(ctx context.Context, req probe.Request, onChunk probe.ChunkFunc, onDone probe.DoneFunc) ([]summary.Record, error) {
	if req.Model.Name == "broken" {
		return nil, errors.New("endpoint unreachable")
	}
	var records []summary.Record
	for i := 0; i < req.Total(); i++ {
		if req.Stream {
			onChunk(req.Model.Name, i, "Hel")
			onChunk(req.Model.Name, i, "lo")
		}
		ft := 40.0
		rec := summary.Record{Model: req.Model.Name, RequestID: i, LatencyMs: 100, FirstTokenMs: &ft, Response: "Hello"}
		onDone(rec)
		records = append(records, rec)
	}
	return records, nil
}

type testServer struct {
	*httptest.Server
	handlers *Handlers
	history  *history.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	models := catalog.NewStore(filepath.Join(dir, "models.yaml"))
	for _, name := range []string{"alpha", "broken"} {
		_, err := models.Add(catalog.Model{Name: name, Endpoint: "https://example.openai.azure.com", APIKey: "secret", APIVersion: "v"})
		require.NoError(t, err)
	}
	hist, err := history.Open(filepath.Join(dir, "history.json"), 0)
	require.NoError(t, err)

	tasks := NewTaskManager(nil)
	runner := &Runner{Tasks: tasks, History: hist, Prober: fakeProber{}}
	h := NewHandlers(models, hist, tasks, runner)

	router := gin.New()
	SetupRoutes(router, h, DefaultConfig())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, handlers: h, history: hist}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) start(t *testing.T, body string) string {
	t.Helper()
	resp, data := s.do(t, http.MethodPost, "/api/test", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var tr TestResponse
	require.NoError(t, json.Unmarshal(data, &tr))
	assert.Equal(t, "started", tr.Status)
	return tr.TaskID
}

func readAll(t *testing.T, src stream.Source) []stream.Event {
	t.Helper()
	var events []stream.Event
	for {
		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func kinds(events []stream.Event) []stream.Kind {
	out := make([]stream.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestStartTest_StreamsEventsOverSSE(t *testing.T) {
	s := newTestServer(t)
	id := s.start(t, `{"models":["alpha","broken"],"question":"hi","concurrency":1,"iterations":2}`)

	resp, err := s.Client().Get(s.URL + "/api/stream/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	src := stream.NewSSESource(resp.Body)
	defer src.Close()
	events := readAll(t, src)
	require.NotEmpty(t, events)

	ks := kinds(events)
	assert.Equal(t, stream.KindComplete, ks[len(ks)-1])
	assert.Equal(t, stream.KindSummaryComplete, ks[len(ks)-2])

	var streamed, completed, summaries int
	for _, ev := range events {
		switch ev.Kind {
		case stream.KindChunk:
			p, err := stream.ParseChunk(ev.Data)
			require.NoError(t, err)
			switch *p.Status {
			case "streaming":
				streamed++
			case "completed":
				completed++
				assert.Equal(t, 100.0, *p.Duration)
				assert.Nil(t, p.Chunk, "streamed text is not repeated")
			}
		case stream.KindSummary:
			summaries++
			rows, err := summary.ParseRows(ev.Data)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			if rows[0].Model == "broken" {
				assert.Equal(t, 1.0, *rows[0].ErrorRate)
				assert.Equal(t, 2, *rows[0].ErrorCount)
			}
		}
	}
	assert.Equal(t, 4, streamed)
	assert.Equal(t, 2, completed)
	assert.Equal(t, 2, summaries)

	items, err := s.history.List(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "hi", items[0].Question)
}

func TestStartTest_NonStreamingSendsText(t *testing.T) {
	s := newTestServer(t)
	id := s.start(t, `{"models":["alpha"],"question":"hi","concurrency":1,"iterations":1,"stream":false}`)

	resp, err := s.Client().Get(s.URL + "/api/stream/" + id)
	require.NoError(t, err)
	src := stream.NewSSESource(resp.Body)
	defer src.Close()

	events := readAll(t, src)
	p, err := stream.ParseChunk(events[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "completed", *p.Status)
	require.NotNil(t, p.Chunk)
	assert.Equal(t, "Hello", *p.Chunk)
}

func TestStartTest_StreamsEventsOverWebSocket(t *testing.T) {
	s := newTestServer(t)
	id := s.start(t, `{"models":["alpha"],"question":"hi","concurrency":1,"iterations":1}`)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/ws/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	src := stream.NewSocketSource(conn)
	defer src.Close()

	ks := kinds(readAll(t, src))
	assert.Equal(t, []stream.Kind{
		stream.KindChunk, stream.KindChunk, stream.KindChunk,
		stream.KindSummary, stream.KindSummaryComplete, stream.KindComplete,
	}, ks)
}

func TestStartTest_Rejections(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"no models", `{"models":[],"question":"hi","concurrency":1,"iterations":1}`, "models"},
		{"blank question", `{"models":["alpha"],"question":" ","concurrency":1,"iterations":1}`, "question"},
		{"concurrency too high", `{"models":["alpha"],"question":"hi","concurrency":21,"iterations":1}`, "concurrency"},
		{"unknown model", `{"models":["ghost"],"question":"hi","concurrency":1,"iterations":1}`, "ghost"},
		{"malformed", `{"models":`, "Invalid request payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := s.do(t, http.MethodPost, "/api/test", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var er ErrorResponse
			require.NoError(t, json.Unmarshal(data, &er))
			assert.Contains(t, er.Detail, tt.want)
		})
	}
	assert.Equal(t, 0, s.handlers.Tasks.ActiveCount())
}

func TestStartTest_RequiresJSON(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.Client().Post(s.URL+"/api/test", "text/plain", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestStream_UnknownTask(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodGet, "/api/stream/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/ws/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStream_KeepAliveComment(t *testing.T) {
	s := newTestServer(t)
	s.handlers.KeepAlive = 20 * time.Millisecond
	id, _ := s.handlers.Tasks.Create(bench.TestConfig{Models: []string{"alpha"}, Question: "hi", Concurrency: 1, Iterations: 1})

	resp, err := s.Client().Get(s.URL + "/api/stream/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, ": ping\n\n", string(buf[:n]))
	require.NoError(t, s.handlers.Tasks.Complete(id))
}

func TestModels(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(data), "secret")
	var list ModelsResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Models, 2)
	assert.Equal(t, "alpha", list.Models[0].Name)

	resp, _ = s.do(t, http.MethodGet, "/api/models/alpha", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/models/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = s.do(t, http.MethodPost, "/api/models", `{"name":"gpt-4o","endpoint":"https://e","api_key":"k","api_version":"v"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Contains(t, string(data), `"detail"`)

	resp, data = s.do(t, http.MethodPost, "/api/models", `{"name":"GPT-4O","endpoint":"https://e","api_key":"k","api_version":"v"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "already exists")

	resp, data = s.do(t, http.MethodPost, "/api/models", `{"name":"x","endpoint":"","api_key":"k","api_version":"v"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "endpoint is required")
}

func TestHistoryEndpoints(t *testing.T) {
	s := newTestServer(t)
	entry := history.Entry{
		TestConfig: bench.TestConfig{Models: []string{"alpha"}, Question: "hi", Concurrency: 1, Iterations: 1},
		Summary:    []summary.Row{{Model: "alpha", SuccessCount: 1, TotalRequests: 1}},
	}
	id, err := s.history.Add(entry)
	require.NoError(t, err)

	resp, data := s.do(t, http.MethodGet, "/api/history?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list HistoryListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Equal(t, "success", list.Status)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, []string{"alpha"}, list.Records[0].Models)

	resp, _ = s.do(t, http.MethodGet, "/api/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = s.do(t, http.MethodGet, "/api/history/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec HistoryRecordResponse
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, id, rec.Record.ID)
	assert.Equal(t, "hi", rec.Record.TestConfig.Question)

	resp, _ = s.do(t, http.MethodDelete, "/api/history/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodDelete, "/api/history/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = s.history.Add(entry)
	require.NoError(t, err)
	resp, _ = s.do(t, http.MethodDelete, "/api/history", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	items, err := s.history.List(0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHealthAndNoRoute(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy","active_tasks":0}`, string(data))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, data = s.do(t, http.MethodGet, "/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(data), "does not exist")
}
