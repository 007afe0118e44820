package request

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/koscakluka/ema-island/core/transport"
)

const (
	HeaderAudioURL = "X-Audio-URL"

	maxResponseBody = 64 << 20
)

type responseBody struct {
	AudioURL string `json:"audioUrl"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
	Text     string `json:"text"`
	Response string `json:"response"`
}

// ResolveResponse turns a successful response into a payload. In order of
// priority: the X-Audio-URL header, a binary media body, then a JSON body
// carrying audioUrl, video_url, error or text. An empty answer is
// PayloadNone; malformed JSON is a *transport.ParseError.
func ResolveResponse(resp *http.Response) (transport.Payload, error) {
	if audioURL := strings.TrimSpace(resp.Header.Get(HeaderAudioURL)); audioURL != "" {
		return transport.AudioURLPayload(audioURL), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return transport.NoPayload(), &transport.ParseError{Err: fmt.Errorf("error reading response body: %w", err)}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return transport.NoPayload(), nil
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = http.DetectContentType(body)
	}

	if !isStructured(mediaType) {
		return transport.AudioPayload(body, mediaType), nil
	}

	var parsed responseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return transport.NoPayload(), &transport.ParseError{Err: fmt.Errorf("error unmarshalling response: %w", err)}
	}

	switch {
	case parsed.AudioURL != "":
		return transport.AudioURLPayload(parsed.AudioURL), nil
	case parsed.VideoURL != "":
		return transport.VideoURLPayload(parsed.VideoURL), nil
	case parsed.Error != "":
		return transport.ErrorPayload(parsed.Error), nil
	case parsed.Text != "":
		return transport.TextPayload(parsed.Text), nil
	case parsed.Response != "":
		return transport.TextPayload(parsed.Response), nil
	}

	return transport.NoPayload(), nil
}

func isStructured(mediaType string) bool {
	return mediaType == "application/json" ||
		strings.HasSuffix(mediaType, "+json") ||
		strings.HasPrefix(mediaType, "text/")
}
