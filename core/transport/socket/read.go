package socket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-island/core/transport"
)

func (c *Client) readMessages(conn *websocket.Conn, generation int) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = fmt.Errorf("socket closed by server: %w", err)
			}
			c.handleFailure(generation, err)
			return
		}

		payload, err := decodeMessage(msgType, msg)
		if err != nil {
			logger.Warn("treating unreadable socket message as no payload", "error", err)
		}
		c.events.Emit(transport.Event{Kind: transport.EventPayload, Payload: payload})
	}
}

type inboundMessage struct {
	Error *string `json:"error"`
	Text  *string `json:"text"`
}

// decodeMessage dispatches an inbound frame by shape. Binary frames are
// audio to play. Text frames carry JSON with either an error message or a
// base64 encoded text answer.
func decodeMessage(msgType int, msg []byte) (transport.Payload, error) {
	if msgType == websocket.BinaryMessage {
		if len(msg) == 0 {
			return transport.NoPayload(), nil
		}
		return transport.AudioPayload(msg, http.DetectContentType(msg)), nil
	}

	var parsed inboundMessage
	if err := json.Unmarshal(msg, &parsed); err != nil {
		return transport.NoPayload(), &transport.ParseError{Err: err}
	}

	switch {
	case parsed.Error != nil:
		return transport.ErrorPayload(*parsed.Error), nil
	case parsed.Text != nil:
		text := strings.TrimSpace(*parsed.Text)
		if decoded, err := base64.StdEncoding.DecodeString(text); err == nil {
			text = string(decoded)
		}
		return transport.TextPayload(text), nil
	}
	return transport.NoPayload(), nil
}
