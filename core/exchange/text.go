package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/codes"
)

const EndpointText = "/Response/text"

type TextClient struct {
	*client
}

func NewTextClient(baseURL string, opts ...Option) *TextClient {
	return &TextClient{client: newClient(baseURL, opts...)}
}

type textRequest struct {
	Prompt string `json:"prompt"`
}

type textResponse struct {
	Response string `json:"response"`
}

// Submit sends the prompt and returns the assistant's answer. Only one
// submission may be outstanding; a concurrent call fails with
// ErrRequestInFlight.
func (c *TextClient) Submit(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	if !c.acquire() {
		return "", ErrRequestInFlight
	}
	defer c.release()

	ctx, span := tracer.Start(ctx, "submit text prompt")
	defer span.End()

	answer, err := c.submit(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "text exchange failed", "error", err)
		return "", err
	}
	return answer, nil
}

func (c *TextClient) submit(ctx context.Context, prompt string) (string, error) {
	fail := func(status int, err error) error {
		return &RequestError{Endpoint: EndpointText, StatusCode: status, Err: err}
	}

	body, err := json.Marshal(textRequest{Prompt: prompt})
	if err != nil {
		return "", fail(0, fmt.Errorf("error marshalling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EndpointText, bytes.NewReader(body))
	if err != nil {
		return "", fail(0, fmt.Errorf("error creating HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fail(0, fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fail(resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(errorBody))))
	}

	var parsed textResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fail(resp.StatusCode, fmt.Errorf("error unmarshalling response: %w", err))
	}
	return parsed.Response, nil
}
