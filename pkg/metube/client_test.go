package metube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Add(t *testing.T) {
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/add", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	c := New(ts.URL, 5*time.Second)
	res, err := c.Add(context.Background(), "https://youtube.com/watch?v=abc", "720p", "mp4")
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "https://youtube.com/watch?v=abc", gotBody["url"])
	assert.Equal(t, "720p", gotBody["quality"])
	assert.Equal(t, "mp4", gotBody["format"])
}

func TestClient_AddOmitsEmptyFormat(t *testing.T) {
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(ts.URL, 5*time.Second)
	_, err := c.Add(context.Background(), "https://youtube.com/watch?v=abc", "best", "")
	require.NoError(t, err)

	_, hasFormat := gotBody["format"]
	assert.False(t, hasFormat, "empty format must not appear in the payload")
}

func TestClient_AddFailures(t *testing.T) {
	t.Run("rejected request", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":"error","msg":"bad url"}`))
		}))
		defer ts.Close()

		c := New(ts.URL, 5*time.Second)
		res, err := c.Add(context.Background(), "not-a-url", "best", "")
		require.Error(t, err)

		assert.False(t, res.OK)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.Contains(t, res.Reason, "status 400")
		assert.Contains(t, res.Reason, "bad url")
	})

	t.Run("unreachable instance", func(t *testing.T) {
		c := New("http://localhost:1", 500*time.Millisecond)
		res, err := c.Add(context.Background(), "https://youtube.com/watch?v=abc", "best", "")
		require.Error(t, err)
		assert.False(t, res.OK)
		assert.Equal(t, "transport error", res.Reason)
	})

	t.Run("canceled context", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(time.Second)
		}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := New(ts.URL, 5*time.Second)
		_, err := c.Add(ctx, "https://youtube.com/watch?v=abc", "best", "")
		require.Error(t, err)
	})
}

func TestClient_Check(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		c := New(ts.URL, 5*time.Second)
		assert.NoError(t, c.Check(context.Background()))
	})

	t.Run("method not allowed counts as reachable", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}))
		defer ts.Close()

		c := New(ts.URL, 5*time.Second)
		assert.NoError(t, c.Check(context.Background()))
	})

	t.Run("server error fails the check", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer ts.Close()

		c := New(ts.URL, 5*time.Second)
		err := c.Check(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 502")
	})

	t.Run("unreachable", func(t *testing.T) {
		c := New("http://localhost:1", 500*time.Millisecond)
		err := c.Check(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unreachable")
	})
}
