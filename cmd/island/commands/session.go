package commands

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	orchestration "github.com/koscakluka/ema-island/core"
	"github.com/koscakluka/ema-island/core/audio/miniaudio"
	"github.com/koscakluka/ema-island/core/audio/portaudio"
	"github.com/koscakluka/ema-island/core/capture"
	"github.com/koscakluka/ema-island/core/config"
	"github.com/koscakluka/ema-island/core/playback"
	"github.com/koscakluka/ema-island/core/silence"
	"github.com/koscakluka/ema-island/core/speechactivity/deepgram"
	"github.com/koscakluka/ema-island/core/speechactivity/energy"
	"github.com/koscakluka/ema-island/core/transport"
	"github.com/koscakluka/ema-island/core/transport/request"
	"github.com/koscakluka/ema-island/core/transport/socket"
)

// newSession assembles an orchestrator for a voice or video session from
// cfg. The capture device is released by the session itself when it stops.
func newSession(cfg *config.Config, mode config.Mode, opts ...orchestration.OrchestratorOption) (*orchestration.Orchestrator, error) {
	device, speaker, err := newAudioDevice(cfg)
	if err != nil {
		return nil, err
	}

	channel, err := newTransport(cfg, mode)
	if err != nil {
		if closer, ok := device.(interface{ Close() }); ok {
			closer.Close()
		}
		return nil, err
	}

	sessionOpts := []orchestration.OrchestratorOption{
		orchestration.WithCaptureDevice(device),
		orchestration.WithTransport(channel),
		orchestration.WithPlayer(newPlayer(cfg, speaker)),
		orchestration.WithDebounce(cfg.Playback.Debounce),
		orchestration.WithResponseTimeout(cfg.ResponseTimeout),
	}

	switch cfg.Segmentation {
	case config.SegmentationInterval:
		sessionOpts = append(sessionOpts, orchestration.WithIntervalSegmentation(cfg.Capture.Quantum, cfg.Capture.Threshold))
	default:
		sessionOpts = append(sessionOpts,
			orchestration.WithUtteranceSegmentation(
				silence.WithQuietThreshold(cfg.Silence.QuietThreshold),
				silence.WithGracePeriod(cfg.Silence.GracePeriod),
				silence.WithPollInterval(cfg.Silence.PollInterval),
			),
			orchestration.WithSpeechActivity(newActivityProvider(cfg, device)),
		)
	}

	return orchestration.NewOrchestrator(append(sessionOpts, opts...)...), nil
}

// newAudioDevice opens the configured backend. The speaker is nil when the
// backend has no output.
func newAudioDevice(cfg *config.Config) (capture.Device, playback.AudioOutput, error) {
	switch cfg.AudioBackend {
	case config.AudioPortaudio:
		client, err := portaudio.NewClient(cfg.Capture.BufferSize)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize portaudio: %w", err)
		}
		return client, nil, nil
	default:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize miniaudio: %w", err)
		}
		return client, client, nil
	}
}

func newTransport(cfg *config.Config, mode config.Mode) (transport.Channel, error) {
	switch cfg.Transport {
	case config.TransportSocket:
		if mode == config.ModeVideo {
			return nil, fmt.Errorf("the socket transport only serves voice sessions")
		}
		socketURL, err := socketURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return socket.New(socketURL,
			socket.WithBaseDelay(cfg.Reconnect.BaseDelay),
			socket.WithMaxAttempts(cfg.Reconnect.MaxAttempts),
		), nil
	default:
		endpoint := request.EndpointAudio
		if mode == config.ModeVideo {
			endpoint = request.EndpointVideo
		}
		return request.New(cfg.BaseURL, request.WithEndpoint(endpoint)), nil
	}
}

// socketURL derives the websocket address from the HTTP base URL.
func socketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = path.Join(u.Path, socket.EndpointAudio)
	return u.String(), nil
}

func newActivityProvider(cfg *config.Config, device capture.Device) orchestration.SpeechActivityProvider {
	if cfg.Activity.Provider == config.ActivityDeepgram {
		return deepgram.New(
			deepgram.WithAPIKey(cfg.Activity.DeepgramAPIKey),
			deepgram.WithModel(cfg.Activity.DeepgramModel),
			deepgram.WithEncodingInfo(device.EncodingInfo()),
		)
	}
	return energy.New(energy.WithThreshold(cfg.Activity.EnergyThreshold))
}

// newPlayer routes audio bytes to the speaker when there is one and
// everything else to the external media command.
func newPlayer(cfg *config.Config, speaker playback.AudioOutput) playback.Player {
	audioCommand, videoCommand := playback.FFPlayAudio(), playback.FFPlayVideo()
	if cfg.Playback.Command != "" && cfg.Playback.Command != "ffplay" {
		audioCommand = playback.NewCommandPlayer(cfg.Playback.Command)
		videoCommand = playback.NewCommandPlayer(cfg.Playback.Command)
	}

	router := &playback.Router{
		Video:    videoCommand,
		Fallback: audioCommand,
	}
	if speaker != nil {
		router.Audio = playback.NewSpeakerPlayer(speaker)
	} else {
		router.Audio = audioCommand
	}
	router.AudioURL = playback.NewFetchingPlayer(router)
	return router
}
