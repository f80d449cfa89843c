package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>newsroom</body></html>"))
	}))
	defer srv.Close()

	c := NewClient()
	res, err := c.Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(res.Body), "newsroom")
	assert.NotEmpty(t, res.FinalURL)
}

func TestFetch_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Fetch(context.Background(), srv.URL, Options{})
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.EqualValues(t, 1, hits.Load(), "4xx must not be retried")
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	c := NewClient()
	res, err := c.Fetch(context.Background(), srv.URL, Options{Timeout: 5 * time.Second, Budget: 30 * time.Second})
	require.NoError(t, err)
	assert.Contains(t, string(res.Body), "recovered")
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient()
	_, err := c.Fetch(ctx, "http://127.0.0.1:0/never", Options{})
	assert.Error(t, err)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(500))
	assert.True(t, retryableStatus(503))
	assert.True(t, retryableStatus(http.StatusRequestTimeout))
	assert.True(t, retryableStatus(http.StatusTooManyRequests))
	assert.False(t, retryableStatus(404))
	assert.False(t, retryableStatus(403))
	assert.False(t, retryableStatus(200))
}

func TestHTTPError_Message(t *testing.T) {
	err := &HTTPError{Status: 404, URL: "https://example.com/x"}
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "https://example.com/x")
}
