// Package local provides a speech-synthesis backend for self-hosted TTS
// servers that expose a simple JSON-over-HTTP interface, such as an index-tts
// or Piper instance running next to the stream rig.
//
// The server is expected to accept POST <base>/tts with a JSON body of
// {"text": ..., "voice": ...} and answer with WAV bytes.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stagecue/stagecue/internal/synth"
)

const (
	defaultTimeout = 30 * time.Second
	ttsPath        = "/tts"
)

// Ensure Backend implements the synth.Provider interface.
var _ synth.Provider = (*Backend)(nil)

// Backend implements [synth.Provider] against a local HTTP TTS server.
type Backend struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for [New].
type Option func(*Backend)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// New constructs a local TTS backend rooted at baseURL, e.g.
// "http://127.0.0.1:7860".
func New(baseURL string, opts ...Option) (*Backend, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("local tts: baseURL must not be empty")
	}
	b := &Backend{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name implements synth.Provider.
func (b *Backend) Name() string { return "local" }

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize implements synth.Provider.
func (b *Backend) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	body, err := json.Marshal(ttsRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("local tts: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+ttsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("local tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("local tts: server returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("local tts: read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("local tts: empty audio response")
	}
	return data, nil
}
