package deepgram

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-island/internal/utils"
)

const (
	silenceChunkDuration = 50 * time.Millisecond
	silenceFillDuration  = 1000 * time.Millisecond
	keepAliveInterval    = 5 * time.Second
)

// generateSilence keeps the stream alive while capture is paused. Right
// after audio stops it pads with silence so the endpointing can finish,
// then it falls back to KeepAlive messages.
func (p *Provider) generateSilence(ctx context.Context) {
	type silenceGeneratorState string
	const (
		silenceGeneratorStateWaiting   silenceGeneratorState = "waiting"
		silenceGeneratorStateSilence   silenceGeneratorState = "silence"
		silenceGeneratorStateKeepAlive silenceGeneratorState = "keepAlive"
	)

	ticker := time.NewTicker(silenceChunkDuration)
	defer ticker.Stop()

	chunk := make([]byte, int(silenceChunkDuration.Seconds()*float64(p.encoding.BytesPerSecond())))
	for i := range chunk {
		chunk[i] = p.encoding.SilenceValue()
	}

	state := silenceGeneratorStateWaiting
	var firstSilenceTime *time.Time
	var lastKeepAliveTime *time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sinceAudio := p.sinceLastAudio()
			switch state {
			case silenceGeneratorStateWaiting:
				if sinceAudio > silenceChunkDuration {
					state = silenceGeneratorStateSilence
					firstSilenceTime = utils.Ptr(time.Now())
				}

			case silenceGeneratorStateSilence:
				if sinceAudio < silenceChunkDuration {
					state = silenceGeneratorStateWaiting
					firstSilenceTime = nil
					continue
				}
				if time.Since(*firstSilenceTime) >= silenceFillDuration {
					state = silenceGeneratorStateKeepAlive
					lastKeepAliveTime = utils.Ptr(time.Now())
					firstSilenceTime = nil
					continue
				}

				p.connMu.Lock()
				err := p.writeLocked(websocket.BinaryMessage, chunk)
				p.connMu.Unlock()
				if err != nil {
					logger.Debug("sending silence audio failed", "error", err)
				}

			case silenceGeneratorStateKeepAlive:
				if sinceAudio < silenceChunkDuration {
					state = silenceGeneratorStateWaiting
					continue
				}
				if time.Since(*lastKeepAliveTime) >= keepAliveInterval {
					lastKeepAliveTime = utils.Ptr(time.Now())
					if err := p.sendControl("KeepAlive"); err != nil {
						logger.Debug("sending keepalive failed", "error", err)
					}
				}
			}
		}
	}
}

func (p *Provider) sinceLastAudio() time.Duration {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	return time.Since(p.lastMsgTs)
}
