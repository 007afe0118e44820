// Package exchange holds the stateless request/response channels that sit
// beside the voice pipeline: text chat and clothing try-on.
package exchange

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-island/core/exchange"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

// Apology is shown in the text channel in place of an answer when a request
// fails.
const Apology = "Sorry, I couldn't process your request."

var ErrRequestInFlight = errors.New("a request is already in flight")

// RequestError reports a failed exchange. StatusCode is zero when the
// request never got a response.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed with status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

type Option func(*client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// client holds what both exchanges share: the base URL, an instrumented HTTP
// client and the one-in-flight guard.
type client struct {
	baseURL    string
	httpClient *http.Client
	inFlight   atomic.Bool
}

func newClient(baseURL string, opts ...Option) *client {
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) acquire() bool { return c.inFlight.CompareAndSwap(false, true) }

func (c *client) release() { c.inFlight.Store(false) }

// InFlight reports whether a submission is outstanding, so a caller can
// disable resubmission.
func (c *client) InFlight() bool { return c.inFlight.Load() }
