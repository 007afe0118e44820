// Package request sends every segment as its own multipart POST and resolves
// the answer from the HTTP response.
package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/koscakluka/ema-island/core/audio"
	"github.com/koscakluka/ema-island/core/transport"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const scopeName = "github.com/koscakluka/ema-island/core/transport/request"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

const (
	EndpointAudio = "/Response/audio"
	EndpointVideo = "/Response/video"

	audioFieldName = "audio_file"
	audioFileName  = "utterance.wav"

	maxErrorBody = 4 << 10
)

var _ transport.Channel = (*Client)(nil)

type Client struct {
	baseURL    string
	endpoint   string
	httpClient *http.Client

	events *transport.EventQueue

	mu     sync.Mutex
	closed bool
}

type Option func(*Client)

// WithEndpoint selects the backend route, EndpointAudio by default.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		endpoint:   EndpointAudio,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		events:     transport.NewEventQueue(transport.DefaultEventQueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect has nothing to set up; the channel is open right away.
func (c *Client) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("request channel closed")
	}
	c.events.Emit(transport.Event{Kind: transport.EventOpened})
	return nil
}

func (c *Client) Events() <-chan transport.Event { return c.events.C() }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.events.Close()
	return nil
}

// Send uploads the segment and blocks for the answer. The resolved payload,
// possibly PayloadNone, is emitted before Send returns and carries the
// exchange ctx was tagged with. Nothing is emitted once ctx is cancelled.
// Non-success statuses are returned as *transport.UploadError.
func (c *Client) Send(ctx context.Context, segment audio.Segment) (bool, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false, nil
	}

	ctx, span := tracer.Start(ctx, "upload audio segment")
	defer span.End()

	segment = segment.AsWAV()
	span.SetAttributes(
		attribute.Int("request.segment_bytes", len(segment.Data)),
		attribute.String("request.endpoint", c.endpoint),
	)

	body, contentType, err := multipartBody(segment)
	if err != nil {
		err = fmt.Errorf("error building multipart body: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, &transport.UploadError{Err: err}
	}

	endpoint, err := url.JoinPath(c.baseURL, c.endpoint)
	if err != nil {
		return false, &transport.UploadError{Err: fmt.Errorf("invalid endpoint: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, &transport.UploadError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, &transport.UploadError{Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		uploadErr := &transport.UploadError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(errorBody),
		}
		span.RecordError(uploadErr)
		span.SetStatus(codes.Error, uploadErr.Error())
		return false, uploadErr
	}

	payload, err := ResolveResponse(resp)
	if err != nil {
		span.RecordError(err)
		logger.WarnContext(ctx, "treating unreadable response as no payload", "error", err)
		payload = transport.NoPayload()
	}
	span.SetAttributes(attribute.String("response.payload_kind", string(payload.Kind)))

	if err := ctx.Err(); err != nil {
		return false, &transport.UploadError{Err: fmt.Errorf("answer arrived after cancellation: %w", err)}
	}
	c.events.Emit(transport.Event{
		Kind:     transport.EventPayload,
		Payload:  payload,
		Exchange: transport.ExchangeFrom(ctx),
	})
	return true, nil
}

func multipartBody(segment audio.Segment) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(audioFieldName, audioFileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(segment.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}
