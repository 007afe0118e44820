package transport

import "fmt"

type PayloadKind string

const (
	// PayloadNone means the backend answered without anything to handle.
	PayloadNone     PayloadKind = "none"
	PayloadAudio    PayloadKind = "audio"
	PayloadVideoURL PayloadKind = "video_url"
	PayloadText     PayloadKind = "text"
	PayloadError    PayloadKind = "error"
)

// Payload is one response from the backend. Audio carries either raw bytes
// or a URL to fetch them from.
type Payload struct {
	Kind PayloadKind

	Data []byte
	MIME string
	URL  string

	Text string
}

func NoPayload() Payload { return Payload{Kind: PayloadNone} }

func AudioPayload(data []byte, mime string) Payload {
	return Payload{Kind: PayloadAudio, Data: data, MIME: mime}
}

func AudioURLPayload(url string) Payload {
	return Payload{Kind: PayloadAudio, URL: url}
}

func VideoURLPayload(url string) Payload {
	return Payload{Kind: PayloadVideoURL, URL: url}
}

func TextPayload(text string) Payload {
	return Payload{Kind: PayloadText, Text: text}
}

func ErrorPayload(message string) Payload {
	return Payload{Kind: PayloadError, Text: message}
}

// IsMedia reports whether the payload needs a player.
func (p Payload) IsMedia() bool {
	switch p.Kind {
	case PayloadAudio:
		return len(p.Data) > 0 || p.URL != ""
	case PayloadVideoURL:
		return p.URL != ""
	}
	return false
}

func (p Payload) String() string {
	switch p.Kind {
	case PayloadAudio:
		if p.URL != "" {
			return fmt.Sprintf("audio(%s)", p.URL)
		}
		return fmt.Sprintf("audio(%d bytes, %s)", len(p.Data), p.MIME)
	case PayloadVideoURL:
		return fmt.Sprintf("video(%s)", p.URL)
	case PayloadText:
		return fmt.Sprintf("text(%q)", p.Text)
	case PayloadError:
		return fmt.Sprintf("error(%q)", p.Text)
	}
	return "none"
}
