package playback

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/koscakluka/ema-island/core/transport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxFetchedMedia = 64 << 20

// FetchingPlayer downloads audio referenced by URL and hands the bytes to
// the next player.
type FetchingPlayer struct {
	client *http.Client
	next   Player
}

type FetchingPlayerOption func(*FetchingPlayer)

func WithFetchHTTPClient(client *http.Client) FetchingPlayerOption {
	return func(p *FetchingPlayer) {
		if client != nil {
			p.client = client
		}
	}
}

func NewFetchingPlayer(next Player, opts ...FetchingPlayerOption) *FetchingPlayer {
	p := &FetchingPlayer{
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		next:   next,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *FetchingPlayer) Play(ctx context.Context, payload transport.Payload) error {
	if payload.URL == "" {
		return p.next.Play(ctx, payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.URL, nil)
	if err != nil {
		return fmt.Errorf("error creating media request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("error fetching media: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedMedia))
	if err != nil {
		return fmt.Errorf("error reading media: %w", err)
	}

	mimeType := http.DetectContentType(data)
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil &&
		mediaType != "application/octet-stream" {
		mimeType = mediaType
	}

	return p.next.Play(ctx, transport.AudioPayload(data, mimeType))
}
