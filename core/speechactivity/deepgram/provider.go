// Package deepgram reports speech activity from Deepgram live transcription.
// Every transcript update counts as activity; voice activity events switch
// the listening flag.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-island/core/audio"
	"github.com/koscakluka/ema-island/core/silence"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-island/core/speechactivity/deepgram"

var logger = otelslog.NewLogger(scopeName)

const (
	DefaultListenURL = "wss://api.deepgram.com/v1/listen"
	DefaultModel     = "nova-3"
	DefaultLanguage  = "en-US"

	apiKeyEnv = "DEEPGRAM_API_KEY"

	maxReconnects         = 3
	defaultReconnectDelay = 500 * time.Millisecond
)

var ErrMissingAPIKey = errors.New("deepgram api key not found")

type Provider struct {
	apiKey    string
	listenURL string
	model     string
	language  string
	encoding  audio.EncodingInfo
	dialer    *websocket.Dialer

	reconnectDelay time.Duration

	connMu    sync.Mutex
	conn      *websocket.Conn
	lastMsgTs time.Time
	cancel    context.CancelFunc
	closed    bool
}

type Option func(*Provider)

// WithAPIKey overrides the key read from DEEPGRAM_API_KEY.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

func WithListenURL(listenURL string) Option {
	return func(p *Provider) { p.listenURL = listenURL }
}

func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEncodingInfo declares the format of the audio passed to SendAudio.
func WithEncodingInfo(encoding audio.EncodingInfo) Option {
	return func(p *Provider) { p.encoding = encoding }
}

func New(opts ...Option) *Provider {
	p := &Provider{
		apiKey:    os.Getenv(apiKeyEnv),
		listenURL: DefaultListenURL,
		model:     DefaultModel,
		language:  DefaultLanguage,
		encoding:  audio.GetDefaultEncodingInfo(),
		dialer:    websocket.DefaultDialer,

		reconnectDelay: defaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start opens the live transcription stream. onActivity receives an update
// for every non-empty transcript; onListening mirrors speech start and
// utterance end events.
func (p *Provider) Start(ctx context.Context, onActivity func(silence.Activity), onListening func(bool)) error {
	if p.apiKey == "" {
		return ErrMissingAPIKey
	}
	if onActivity == nil {
		onActivity = func(silence.Activity) {}
	}
	if onListening == nil {
		onListening = func(bool) {}
	}

	encoding, err := convertEncoding(p.encoding)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := p.connect(ctx, encoding)
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.connMu.Lock()
	p.conn = conn
	p.lastMsgTs = time.Now()
	p.cancel = cancel
	p.closed = false
	p.connMu.Unlock()

	go p.generateSilence(ctx)
	go p.readMessages(ctx, conn, encoding, onActivity, onListening)
	return nil
}

func (p *Provider) connect(ctx context.Context, encoding *listenEncoding) (*websocket.Conn, error) {
	listenURL, err := url.Parse(p.listenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	query := listenURL.Query()
	query.Set("encoding", encoding.Format)
	query.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	query.Set("channels", strconv.Itoa(encoding.Channels))
	query.Set("model", p.model)
	query.Set("language", p.language)
	query.Set("interim_results", "true")
	query.Set("vad_events", "true")
	query.Set("utterance_end_ms", "1000")
	query.Set("endpointing", "300")
	listenURL.RawQuery = query.Encode()

	conn, resp, err := p.dialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + p.apiKey}})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

// SendAudio forwards captured audio. It is a no-op before Start or after
// Close.
func (p *Provider) SendAudio(chunk []byte) error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.conn == nil {
		return nil
	}
	p.lastMsgTs = time.Now()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (p *Provider) writeLocked(msgType int, data []byte) error {
	if p.conn == nil {
		return nil
	}
	return p.conn.WriteMessage(msgType, data)
}

type controlMessage struct {
	Type string `json:"type"`
}

func (p *Provider) sendControl(msgType string) error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.conn == nil {
		return nil
	}
	return p.conn.WriteJSON(controlMessage{Type: msgType})
}

func (p *Provider) Close() error {
	p.connMu.Lock()
	conn := p.conn
	cancel := p.cancel
	p.conn = nil
	p.cancel = nil
	p.closed = true
	p.connMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	if err := conn.WriteJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		logger.Debug("failed to close deepgram stream", "error", err)
	}
	return conn.Close()
}

// readMessages dispatches transcription events until the stream ends. A
// dropped stream is redialed up to maxReconnects times; the caller only sees
// listening go false in between.
func (p *Provider) readMessages(ctx context.Context, conn *websocket.Conn, encoding *listenEncoding, onActivity func(silence.Activity), onListening func(bool)) {
	for {
		err := readUntilError(conn, onActivity, onListening)
		onListening(false)
		p.dropConn(conn)

		if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return
		}
		logger.Warn("deepgram stream dropped, reconnecting", "error", err)

		conn = p.reconnect(ctx, encoding)
		if conn == nil {
			return
		}
	}
}

func readUntilError(conn *websocket.Conn, onActivity func(silence.Activity), onListening func(bool)) error {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.BinaryMessage {
			processMessage(msg, time.Now(), onActivity, onListening)
		}
	}
}

func (p *Provider) dropConn(conn *websocket.Conn) {
	p.connMu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.connMu.Unlock()
	conn.Close()
}

// reconnect redials with a doubling delay. It returns nil when ctx is done
// or every attempt failed; without a stream the silence detector falls back
// to its hard cut.
func (p *Provider) reconnect(ctx context.Context, encoding *listenEncoding) *websocket.Conn {
	var err error
	for attempt := 1; attempt <= maxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.reconnectDelay << (attempt - 1)):
		}

		var conn *websocket.Conn
		conn, err = p.connect(ctx, encoding)
		if err != nil {
			logger.Warn("failed to reconnect to deepgram", "attempt", attempt, "error", err)
			continue
		}

		p.connMu.Lock()
		if p.closed || ctx.Err() != nil {
			p.connMu.Unlock()
			conn.Close()
			return nil
		}
		p.conn = conn
		p.lastMsgTs = time.Now()
		p.connMu.Unlock()

		logger.Info("deepgram stream reconnected", "attempt", attempt)
		return conn
	}

	logger.Error("giving up on deepgram stream, falling back to the silence timeout", "attempts", maxReconnects, "error", err)
	return nil
}

func processMessage(msg []byte, now time.Time, onActivity func(silence.Activity), onListening func(bool)) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram message", "error", err)
			return
		}
		speaking := len(msgResp.Channel.Alternatives) > 0 &&
			strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript) != ""
		onActivity(silence.Activity{UpdatedAt: now, Speaking: speaking})

	case api.TypeSpeechStartedResponse:
		onListening(true)
		onActivity(silence.Activity{UpdatedAt: now, Speaking: true})

	case api.TypeUtteranceEndResponse:
		onListening(false)
	}
}
