package dispatch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanh1998/test-pilot/internal/dispatch"
	"github.com/khanh1998/test-pilot/pkg/api"
)

func newDispatcher(timeout time.Duration) *dispatch.HTTPDispatcher {
	return dispatch.New(&dispatch.Config{
		Timeout: timeout,
		Work: api.WorkConfig{
			MaxRetries:  0,
			InitBackoff: 10,
			MaxBackoff:  50,
			BackoffType: api.BackoffTypeFixed,
		},
	})
}

func TestDispatchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Test", "yes")
			_, _ = w.Write([]byte(`{"ok":true,"count":3}`))
		}))
	defer srv.Close()

	resp, err := newDispatcher(time.Second).Dispatch(
		context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL},
	)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, dispatch.DecodedJSON, resp.DecodedAs)
	assert.Equal(t, "yes", resp.Header("X-Test"))
	assert.Equal(t, map[string]any{
		"ok":    true,
		"count": float64(3),
	}, resp.Body)
	assert.GreaterOrEqual(t, resp.TimeMs, int64(0))
}

func TestDispatchTextAndHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/text":
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write([]byte("hello"))
			case "/html":
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write([]byte("<p>hi</p>"))
			}
		}))
	defer srv.Close()

	d := newDispatcher(time.Second)

	resp, err := d.Dispatch(context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL + "/text"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.DecodedText, resp.DecodedAs)
	assert.Equal(t, "hello", resp.Body)

	resp, err = d.Dispatch(context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL + "/html"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.DecodedHTML, resp.DecodedAs)
	assert.Equal(t, "<p>hi</p>", resp.Body)
}

func TestUnknownContentTypeTriesJSONFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
			if r.URL.Path == "/json" {
				_, _ = w.Write([]byte(`[1,2]`))
				return
			}
			_, _ = w.Write([]byte("not json"))
		}))
	defer srv.Close()

	d := newDispatcher(time.Second)

	resp, err := d.Dispatch(context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL + "/json"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.DecodedJSON, resp.DecodedAs)
	assert.Equal(t, []any{float64(1), float64(2)}, resp.Body)

	resp, err = d.Dispatch(context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL + "/text"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.DecodedText, resp.DecodedAs)
	assert.Equal(t, "not json", resp.Body)
}

func TestNonSuccessStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"missing"}`))
		}))
	defer srv.Close()

	resp, err := newDispatcher(time.Second).Dispatch(
		context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL},
	)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.False(t, resp.IsSuccess())
}

func TestTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
	defer srv.Close()

	_, err := newDispatcher(20 * time.Millisecond).Dispatch(
		context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrTimeout)
}

func TestNetworkErrorClassification(t *testing.T) {
	// closed server: connection refused
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newDispatcher(time.Second).Dispatch(
		context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: url},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrNetwork)
	assert.NotErrorIs(t, err, dispatch.ErrTimeout)
}

func TestRetryUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				time.Sleep(200 * time.Millisecond)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
	defer srv.Close()

	d := dispatch.New(&dispatch.Config{
		Timeout: 50 * time.Millisecond,
		Work: api.WorkConfig{
			MaxRetries:  5,
			InitBackoff: 1,
			MaxBackoff:  10,
			BackoffType: api.BackoffTypeExponential,
		},
	})

	resp, err := d.Dispatch(context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			time.Sleep(200 * time.Millisecond)
		}))
	defer srv.Close()

	d := dispatch.New(&dispatch.Config{
		Timeout: 20 * time.Millisecond,
		Work: api.WorkConfig{
			MaxRetries:  2,
			InitBackoff: 1,
			BackoffType: api.BackoffTypeFixed,
		},
	})

	_, err := d.Dispatch(context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrTimeout)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second)
		}))
	defer srv.Close()

	d := dispatch.New(&dispatch.Config{
		Timeout: time.Second,
		Work: api.WorkConfig{
			MaxRetries:  -1,
			InitBackoff: 1,
			BackoffType: api.BackoffTypeFixed,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Dispatch(ctx,
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCookiePreservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/login":
				http.SetCookie(w, &http.Cookie{
					Name: "session", Value: "tok-1",
				})
			case "/me":
				c, err := r.Cookie("session")
				if err != nil || c.Value != "tok-1" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"user":"ada"}`))
			}
		}))
	defer srv.Close()

	d := dispatch.New(&dispatch.Config{
		Timeout:         time.Second,
		PreserveCookies: true,
	})

	resp, err := d.Dispatch(context.Background(),
		&dispatch.Request{Method: http.MethodPost, URL: srv.URL + "/login"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SetCookies)

	resp, err = d.Dispatch(context.Background(),
		&dispatch.Request{Method: http.MethodGet, URL: srv.URL + "/me"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestRequestBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusCreated)
		}))
	defer srv.Close()

	resp, err := newDispatcher(time.Second).Dispatch(
		context.Background(),
		&dispatch.Request{
			Method: http.MethodPost,
			URL:    srv.URL,
			Headers: map[string]string{
				"Authorization": "Bearer tok",
			},
			Body: `{"name":"widget"}`,
		})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
}
