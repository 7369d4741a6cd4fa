// Package openai provides a speech-synthesis backend using the OpenAI audio
// API. Responses are requested as complete WAV files so they can be played
// directly.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/stagecue/stagecue/internal/synth"
)

// DefaultModel is the OpenAI speech model used when none is configured.
const DefaultModel = oai.SpeechModelGPT4oMiniTTS

// Ensure Backend implements the synth.Provider interface.
var _ synth.Provider = (*Backend)(nil)

// Backend implements [synth.Provider] on the OpenAI speech endpoint.
type Backend struct {
	client oai.Client
	model  oai.SpeechModel
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for [New].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// API-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI speech backend. If model is empty, [DefaultModel]
// is used.
func New(apiKey, model string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Backend{
		client: oai.NewClient(reqOpts...),
		model:  oai.SpeechModel(model),
	}, nil
}

// Name implements synth.Provider.
func (b *Backend) Name() string { return "openai" }

// Synthesize implements synth.Provider.
func (b *Backend) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	res, err := b.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          b.model,
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai tts: empty audio response")
	}
	return data, nil
}
