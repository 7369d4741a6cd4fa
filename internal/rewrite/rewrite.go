// Package rewrite optionally paraphrases response text before synthesis so
// repeated broadcasts and fillers do not sound canned. Rewriting is best
// effort: any backend failure falls back to the original line, and the
// dispatcher never waits longer than the configured timeout.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

const (
	defaultTimeout = 5 * time.Second

	systemPrompt = "You rephrase short spoken lines for a live-stream host. " +
		"Keep the meaning and tone, vary the wording, stay about the same length. " +
		"Reply with the rephrased line only, no quotes or commentary."
)

// Completer produces one completion for a system/user prompt pair.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// anyllmCompleter adapts an any-llm-go backend to [Completer].
type anyllmCompleter struct {
	backend anyllmlib.Provider
	model   string
}

func (c *anyllmCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	temp := 0.9
	resp, err := c.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: c.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: user},
		},
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("rewrite: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("rewrite: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// Rewriter paraphrases response lines through an LLM backend.
type Rewriter struct {
	completer Completer
	timeout   time.Duration
}

// Option is a functional option for a [Rewriter].
type Option func(*Rewriter)

// WithTimeout bounds how long a single rewrite may take before falling back
// to the original text. Defaults to 5s.
func WithTimeout(d time.Duration) Option {
	return func(r *Rewriter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a [Rewriter] backed by the named any-llm-go provider.
// Supported providers: "openai", "ollama".
func New(providerName, model string, opts []anyllmlib.Option, ropts ...Option) (*Rewriter, error) {
	if model == "" {
		return nil, fmt.Errorf("rewrite: model must not be empty")
	}

	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = anyllmoai.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("rewrite: unsupported provider %q; supported: openai, ollama", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("rewrite: create %q backend: %w", providerName, err)
	}

	return NewWithCompleter(&anyllmCompleter{backend: backend, model: model}, ropts...), nil
}

// NewWithCompleter creates a [Rewriter] over an arbitrary [Completer].
func NewWithCompleter(c Completer, opts ...Option) *Rewriter {
	r := &Rewriter{completer: c, timeout: defaultTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rewrite returns a paraphrase of text, or text itself when the backend
// fails, times out, or returns something unusable.
func (r *Rewriter) Rewrite(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.completer.Complete(rctx, systemPrompt, text)
	if err != nil {
		slog.Debug("rewrite failed, keeping original", "error", err)
		return text
	}

	out = strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"“”`))
	if out == "" || len(out) > 4*len(text)+64 {
		slog.Debug("rewrite output unusable, keeping original", "chars", len(out))
		return text
	}
	return out
}
