// Package dispatch executes resolved HTTP requests: timeout classification,
// retry with backoff, cookie preservation, and content-type driven decoding.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/khanh1998/test-pilot/pkg/api"
)

type (
	// Request is one fully template-resolved HTTP call. Body is raw request
	// text, already serialized.
	Request struct {
		Method  string
		URL     string
		Headers map[string]string
		Body    string

		// Work overrides the dispatcher's retry defaults for this call
		Work *api.WorkConfig
	}

	// Dispatcher executes a single resolved request
	Dispatcher interface {
		Dispatch(context.Context, *Request) (*api.Response, error)
	}

	// Config carries dispatcher construction settings
	Config struct {
		Timeout         time.Duration
		Work            api.WorkConfig
		PreserveCookies bool
		Logger          *slog.Logger
	}

	// HTTPDispatcher performs real network calls with a per-run cookie jar
	HTTPDispatcher struct {
		client   *http.Client
		jar      *CookieJar
		logger   *slog.Logger
		timeout  time.Duration
		defaults api.WorkConfig
		cookies  bool
	}
)

var (
	ErrTimeout = errors.New("request timed out")
	ErrNetwork = errors.New("network error")
)

var _ Dispatcher = (*HTTPDispatcher)(nil)

func New(config *Config) *HTTPDispatcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDispatcher{
		client:   &http.Client{},
		jar:      NewCookieJar(),
		logger:   logger,
		timeout:  config.Timeout,
		defaults: config.Work,
		cookies:  config.PreserveCookies,
	}
}

// Dispatch executes the request, retrying transport failures per the
// effective retry configuration. Non-2xx responses are returned, not
// retried; the caller decides what a failing status means.
func (d *HTTPDispatcher) Dispatch(
	ctx context.Context, req *Request,
) (*api.Response, error) {
	work := resolveWorkConfig(d.defaults, req.Work)

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := d.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		if !shouldRetry(work, attempt) {
			return nil, lastErr
		}

		delay := nextDelay(work, attempt)
		d.logger.Debug("retrying dispatch",
			slog.String("url", req.URL),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
}

func (d *HTTPDispatcher) attempt(
	ctx context.Context, req *Request,
) (*api.Response, error) {
	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(
		callCtx, req.Method, req.URL, body,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	if req.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if d.cookies {
		d.jar.Apply(httpReq)
	}

	start := time.Now()
	httpResp, err := d.client.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}

	if d.cookies {
		d.jar.Collect(httpReq.URL.Host, httpResp.Cookies())
	}

	decoded, decodedAs, fellBack := decodeBody(
		httpResp.Header.Get("Content-Type"), raw,
	)
	if fellBack {
		d.logger.Debug("body decode fell back",
			slog.String("url", req.URL),
			slog.String("content_type", httpResp.Header.Get("Content-Type")),
			slog.String("decoded_as", decodedAs))
	}

	return &api.Response{
		Status:     httpResp.StatusCode,
		Headers:    flattenHeaders(httpResp.Header),
		Body:       decoded,
		TimeMs:     elapsed.Milliseconds(),
		DecodedAs:  decodedAs,
		SetCookies: httpResp.Header.Values("Set-Cookie"),
	}, nil
}

// classify distinguishes timeouts from other transport failures. A caller
// cancellation passes through unwrapped so the orchestrator can drop the
// result silently.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func flattenHeaders(h http.Header) map[string]string {
	res := make(map[string]string, len(h))
	for name := range h {
		res[name] = h.Get(name)
	}
	return res
}
