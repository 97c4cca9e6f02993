package jobapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/reelsmith/internal/tracker"
)

func TestNew_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "ftp://example.com", "://"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}

	c, err := New("http://example.com/api/")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/api", c.baseURL)
}

func TestClient_Start(t *testing.T) {
	var got StartRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"job-1"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	job, err := c.Start(context.Background(), StartRequest{
		TargetID: "proj-9",
		Kind:     "short",
		Brief:    json.RawMessage(`{"shots":["a"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, tracker.StatusQueued, job.Status, "missing status defaults to queued")
	assert.Equal(t, "proj-9", got.TargetID)
	assert.JSONEq(t, `{"shots":["a"]}`, string(got.Brief))
}

func TestClient_StartValidation(t *testing.T) {
	c, err := New("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.Start(context.Background(), StartRequest{})
	assert.Error(t, err)
}

func TestClient_StartWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Start(context.Background(), StartRequest{TargetID: "p"})
	assert.ErrorContains(t, err, "no job id")
}

func TestClient_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/job%2F1/progress", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"status":"running","progress":40,"completed":2,"total":5}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	snap, err := c.Progress(context.Background(), "job/1")
	require.NoError(t, err)
	assert.Equal(t, "job/1", snap.JobID)
	assert.Equal(t, tracker.StatusProcessing, snap.Status)
	assert.Equal(t, 2, snap.Completed)
	assert.InDelta(t, 40, snap.Percent(), 0.001)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestClient_ProgressUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"exploded"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Progress(context.Background(), "j")
	assert.ErrorContains(t, err, "unknown job status")
}

func TestClient_Cancel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs/j1/cancel", r.URL.Path)
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"j1","status":"cancelled"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), "j1"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/jobs/gone/progress" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"job not found"}`))
			return
		}
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Progress(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorContains(t, err, "job not found")

	err = c.Cancel(context.Background(), "other")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.False(t, IsNotFound(err))
}

func TestClient_RateLimit(t *testing.T) {
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		stamps = append(stamps, time.Now())
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRateLimit(20))
	require.NoError(t, err)

	for range 3 {
		_, err := c.Progress(context.Background(), "j")
		require.NoError(t, err)
	}
	require.Len(t, stamps, 3)
	// Burst of one at 20/s: the third request waits at least ~100ms total.
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[0]), 80*time.Millisecond)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	c, err := New("http://127.0.0.1:1", WithRateLimit(0.01))
	require.NoError(t, err)

	// Drain the single token.
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Progress(ctx, "j")
	assert.Error(t, err)
}
