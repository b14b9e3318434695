package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/ep-code-box/CoE/coe/generation/harness/endpoint"
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
)

const (
	DefaultChatTimeout      = 30 * time.Second
	DefaultDiscoveryTimeout = 8 * time.Second

	maxErrorBody = 512
)

var errNotJSON = errors.New("response body is not JSON")

// HTTPDispatcher implements Dispatcher over net/http with one fallback-host
// retry on connectivity failures.
type HTTPDispatcher struct {
	client           *http.Client
	chatTimeout      time.Duration
	discoveryTimeout time.Duration
	userAgent        string
	fallback         func(string) string
	logger           zerolog.Logger
}

// DispatcherOption configures an HTTPDispatcher.
type DispatcherOption func(*HTTPDispatcher)

// WithHTTPClient replaces the underlying client. Its Timeout should be zero;
// per-call deadlines come from the dispatcher timeouts.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *HTTPDispatcher) { d.client = c }
}

// WithTimeouts sets the POST and GET deadlines. Zero keeps the default.
func WithTimeouts(chat, discovery time.Duration) DispatcherOption {
	return func(d *HTTPDispatcher) {
		if chat > 0 {
			d.chatTimeout = chat
		}
		if discovery > 0 {
			d.discoveryTimeout = discovery
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) DispatcherOption {
	return func(d *HTTPDispatcher) { d.userAgent = ua }
}

// WithFallback overrides how the retry address is derived from the primary one.
func WithFallback(fn func(string) string) DispatcherOption {
	return func(d *HTTPDispatcher) { d.fallback = fn }
}

// NewHTTPDispatcher creates a dispatcher with 30s chat and 8s discovery deadlines.
func NewHTTPDispatcher(logger zerolog.Logger, opts ...DispatcherOption) *HTTPDispatcher {
	d := &HTTPDispatcher{
		client:           &http.Client{},
		chatTimeout:      DefaultChatTimeout,
		discoveryTimeout: DefaultDiscoveryTimeout,
		userAgent:        "coe-agents",
		fallback:         endpoint.Fallback,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch POSTs payload as JSON to url.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: marshal payload: %w", err)
	}
	return d.withFallback(ctx, url, func(ctx context.Context, u string) ([]byte, error) {
		return d.do(ctx, http.MethodPost, u, body, d.chatTimeout)
	})
}

// Fetch GETs url and returns its JSON body.
func (d *HTTPDispatcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return d.withFallback(ctx, url, func(ctx context.Context, u string) ([]byte, error) {
		return d.do(ctx, http.MethodGet, u, nil, d.discoveryTimeout)
	})
}

func (d *HTTPDispatcher) withFallback(ctx context.Context, url string, send func(context.Context, string) ([]byte, error)) ([]byte, error) {
	body, err := send(ctx, url)
	if err == nil {
		return body, nil
	}
	if !IsConnectivityError(err) {
		return nil, err
	}

	fb := d.fallback(url)
	if fb == url {
		return nil, fmt.Errorf("%w: %w", ports.ErrNetworkUnreachable, err)
	}

	d.logger.Warn().Err(err).Str("url", url).Str("fallback", fb).Msg("backend unreachable, retrying via fallback host")

	body, err = send(ctx, fb)
	if err == nil {
		return body, nil
	}
	if IsConnectivityError(err) {
		return nil, fmt.Errorf("%w: %w", ports.ErrNetworkUnreachable, err)
	}
	return nil, err
}

func (d *HTTPDispatcher) do(ctx context.Context, method, url string, body []byte, timeout time.Duration) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dispatcher: %w", ctx.Err())
		}
		if isTimeout(err) {
			return nil, &ports.ProtocolError{URL: url, Err: err}
		}
		return nil, fmt.Errorf("dispatcher: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ports.ProtocolError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ports.ProtocolError{URL: url, StatusCode: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody)}
	}
	if !json.Valid(respBody) {
		return nil, &ports.ProtocolError{URL: url, StatusCode: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody), Err: errNotJSON}
	}

	return respBody, nil
}

// IsConnectivityError reports whether err means the backend could not be
// reached at all: DNS failure, refused or reset connection, unreachable network.
// Timeouts and protocol errors are not connectivity errors.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var pe *ports.ProtocolError
	if errors.As(err, &pe) {
		return false
	}
	if isTimeout(err) || errors.Is(err, context.Canceled) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Ensure HTTPDispatcher implements the Dispatcher interface.
var _ ports.Dispatcher = (*HTTPDispatcher)(nil)
