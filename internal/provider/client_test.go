package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider serves the createTask/recordInfo pair with scripted results.
type fakeProvider struct {
	t          *testing.T
	resultJSON string
	state      string
	pollsLeft  int
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(f.t, http.MethodPost, r.Method)
		require.Equal(f.t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"taskId": "task-1"},
		})
	})
	mux.HandleFunc("/api/v1/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		state := f.state
		if f.pollsLeft > 0 {
			f.pollsLeft--
			state = "generating"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"taskId":     "task-1",
				"state":      state,
				"resultJson": f.resultJSON,
			},
		})
	})
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server, timeout time.Duration) *Client {
	t.Helper()
	return NewClient(Options{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		Timeout:      timeout,
		PollInterval: 5 * time.Millisecond,
	}, testLogger())
}

func TestInvoke_Success(t *testing.T) {
	fake := &fakeProvider{t: t, state: "success", pollsLeft: 2, resultJSON: `{"resultUrls":["https://cdn.example/r.mp4"]}`}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv, time.Second)
	result, err := client.Invoke(context.Background(), Request{Model: "reel-motion/v2-image-to-video", Prompt: "a cat", InputURLs: []string{"https://cdn.example/in.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, "task-1", result.TaskID)
	assert.Equal(t, []string{"https://cdn.example/r.mp4"}, result.URLs)
}

func TestInvoke_EmptyResultURLs_IsSemanticError(t *testing.T) {
	fake := &fakeProvider{t: t, state: "success", resultJSON: `{"resultUrls":[]}`}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv, time.Second)
	_, err := client.Invoke(context.Background(), Request{Model: "still-studio/pro", Prompt: "x"})
	var semErr *SemanticError
	require.ErrorAs(t, err, &semErr)
	assert.Equal(t, "task-1", semErr.TaskID)
}

func TestInvoke_UnparseableResultJSON_IsSemanticError(t *testing.T) {
	fake := &fakeProvider{t: t, state: "success", resultJSON: `null`}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv, time.Second)
	_, err := client.Invoke(context.Background(), Request{Model: "still-studio/pro", Prompt: "x"})
	var semErr *SemanticError
	require.ErrorAs(t, err, &semErr)
}

func TestInvoke_HTTPFailure_IsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, time.Second)
	_, err := client.Invoke(context.Background(), Request{Model: "still-studio/pro", Prompt: "x"})
	var trErr *TransportError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, http.StatusBadGateway, trErr.Status)
}

func TestInvoke_TaskFail_IsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/jobs/createTask" {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]any{"taskId": "task-9"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"taskId": "task-9", "state": "fail", "failCode": "500", "failMsg": "model crashed"},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv, time.Second)
	_, err := client.Invoke(context.Background(), Request{Model: "voxcraft/tts-v1", Prompt: "x"})
	var trErr *TransportError
	require.ErrorAs(t, err, &trErr)
	assert.Contains(t, trErr.Body, "model crashed")
}

func TestInvoke_DeadlineBecomesTimeoutError(t *testing.T) {
	fake := &fakeProvider{t: t, state: "generating", pollsLeft: 1 << 30}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv, 50*time.Millisecond)
	_, err := client.Invoke(context.Background(), Request{Model: "reel-motion/v2-image-to-video", Prompt: "x"})
	var toErr *TimeoutError
	require.ErrorAs(t, err, &toErr)
	assert.Equal(t, "task-1", toErr.TaskID)
}
