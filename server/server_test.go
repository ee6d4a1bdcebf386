package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubefeed/tubefeed/pkg/domain"
	"github.com/tubefeed/tubefeed/pkg/scheduler"
)

type mockScheduler struct {
	statuses   []domain.FeedStatus
	statusErr  error
	refreshed  []int64
	refreshErr error
}

func (m *mockScheduler) Status(_ context.Context) ([]domain.FeedStatus, error) {
	return m.statuses, m.statusErr
}

func (m *mockScheduler) RefreshFeed(_ context.Context, feedID int64) error {
	if m.refreshErr != nil {
		return m.refreshErr
	}
	m.refreshed = append(m.refreshed, feedID)
	return nil
}

type mockConfig struct{}

func (m *mockConfig) GetServerConfig() (string, time.Duration) { return ":0", 30 * time.Second }

func setupTestServer(t *testing.T, sched *mockScheduler) *httptest.Server {
	t.Helper()
	srv := New(&mockConfig{}, sched, "test", false)
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_StatusHandler(t *testing.T) {
	sched := &mockScheduler{statuses: []domain.FeedStatus{
		{ID: 1, Name: "Feed One"},
		{ID: 2, Name: "Feed Two"},
	}}
	ts := setupTestServer(t, sched)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.InDelta(t, 2, body["feeds"], 0)
}

func TestServer_FeedsHandler(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	sched := &mockScheduler{statuses: []domain.FeedStatus{
		{ID: 1, Name: "Feed One", URL: "https://example.com/rss", Delivered: 42, LastFetched: &now, BacklogDone: true},
		{ID: 2, Name: "Broken", URL: "https://example.com/bad", LastError: "fetch failed: 503"},
	}}
	ts := setupTestServer(t, sched)

	resp, err := http.Get(ts.URL + "/api/v1/feeds")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var feeds []domain.FeedStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feeds))
	require.Len(t, feeds, 2)
	assert.Equal(t, int64(42), feeds[0].Delivered)
	assert.True(t, feeds[0].BacklogDone)
	assert.Equal(t, "fetch failed: 503", feeds[1].LastError)

	t.Run("store failure", func(t *testing.T) {
		ts := setupTestServer(t, &mockScheduler{statusErr: fmt.Errorf("db closed")})
		resp, err := http.Get(ts.URL + "/api/v1/feeds")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestServer_RefreshHandler(t *testing.T) {
	sched := &mockScheduler{}
	ts := setupTestServer(t, sched)

	t.Run("ok", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/feeds/123/refresh", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []int64{123}, sched.refreshed)
	})

	t.Run("bad id", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/feeds/abc/refresh", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown feed", func(t *testing.T) {
		ts := setupTestServer(t, &mockScheduler{refreshErr: fmt.Errorf("feed 9 not configured")})
		resp, err := http.Post(ts.URL+"/api/v1/feeds/9/refresh", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("busy feed", func(t *testing.T) {
		ts := setupTestServer(t, &mockScheduler{refreshErr: fmt.Errorf("feed 7: %w", scheduler.ErrFeedBusy)})
		resp, err := http.Post(ts.URL+"/api/v1/feeds/7/refresh", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestServer_Ping(t *testing.T) {
	ts := setupTestServer(t, &mockScheduler{})

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	ts := setupTestServer(t, &mockScheduler{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RunShutdown(t *testing.T) {
	srv := New(&mockConfig{}, &mockScheduler{}, "test", false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
