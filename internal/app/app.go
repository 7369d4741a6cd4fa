// Package app wires the stagecue subsystems into a running service.
//
// New builds and connects everything from config: classifier, picker,
// synthesis renderer, audio player, dispatch scheduler, WebSocket ingest,
// timers, and the optional archive. Run serves HTTP until the context is
// cancelled; Shutdown tears subsystems down in reverse order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithSynthBackends, etc.). When an option is not provided, New creates the
// real implementation from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/stagecue/stagecue/internal/archive"
	"github.com/stagecue/stagecue/internal/audio"
	"github.com/stagecue/stagecue/internal/config"
	"github.com/stagecue/stagecue/internal/dispatch"
	"github.com/stagecue/stagecue/internal/health"
	"github.com/stagecue/stagecue/internal/observe"
	"github.com/stagecue/stagecue/internal/picker"
	"github.com/stagecue/stagecue/internal/resilience"
	"github.com/stagecue/stagecue/internal/rewrite"
	"github.com/stagecue/stagecue/internal/source"
	"github.com/stagecue/stagecue/internal/synth"
	synthlocal "github.com/stagecue/stagecue/internal/synth/local"
	synthopenai "github.com/stagecue/stagecue/internal/synth/openai"
	"github.com/stagecue/stagecue/internal/trigger"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	store      *dispatch.Store
	classifier *trigger.Classifier
	picker     *picker.Picker
	ttsGroup   *resilience.FallbackGroup[synth.Provider]
	renderer   *synth.Renderer
	player     *audio.Player
	rewriter   dispatch.Rewriter
	metrics    *observe.Metrics
	archive    *archive.Archive
	sched      *dispatch.Scheduler
	server     *source.Server
	timers     *source.Timers

	device audio.Device

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once

	mu sync.Mutex
}

// Option injects a test double or overrides a default.
type Option func(*App)

// WithDevice injects an audio output device instead of opening the system
// one.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithSynthBackends injects the synthesis fallback chain instead of building
// it from config.
func WithSynthBackends(g *resilience.FallbackGroup[synth.Provider]) Option {
	return func(a *App) { a.ttsGroup = g }
}

// WithRewriter injects a reply rewriter instead of building one from config.
func WithRewriter(r dispatch.Rewriter) Option {
	return func(a *App) { a.rewriter = r }
}

// WithMetrics injects a metrics instance instead of using the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires all subsystems. Initialisation is synchronous; the dispatch loop
// and timers are running when New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	a.store = dispatch.NewStore()
	a.classifier = trigger.NewClassifier(cfg.Rules(),
		trigger.WithSenderCooldown(time.Duration(cfg.Scheduler.SenderCooldown)),
	)
	a.picker = picker.New(cfg.Tables(), a.store,
		picker.WithMinIdle(time.Duration(cfg.Scheduler.MinIdle)),
	)

	if err := a.initSynthesis(); err != nil {
		return nil, fmt.Errorf("app: init synthesis: %w", err)
	}
	if err := a.initPlayer(); err != nil {
		return nil, fmt.Errorf("app: init player: %w", err)
	}
	if err := a.initRewriter(); err != nil {
		return nil, fmt.Errorf("app: init rewriter: %w", err)
	}
	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	a.initDispatch()
	a.initSource()

	return a, nil
}

// noSynth rejects synthesis when no provider is configured. Prerecorded
// clips do not pass through it.
type noSynth struct{}

func (noSynth) Name() string { return "none" }

func (noSynth) Synthesize(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("no synthesis providers configured")
}

func (a *App) initSynthesis() error {
	if a.ttsGroup == nil {
		for i, entry := range a.cfg.TTS.Providers {
			backend, err := buildSynthBackend(entry)
			if err != nil {
				return fmt.Errorf("provider %d (%s): %w", i, entry.Name, err)
			}
			if a.ttsGroup == nil {
				a.ttsGroup = resilience.NewFallbackGroup[synth.Provider](
					entry.Name, backend, resilience.BreakerConfig{})
			} else {
				a.ttsGroup.Add(entry.Name, backend)
			}
		}
		if a.ttsGroup == nil {
			a.ttsGroup = resilience.NewFallbackGroup[synth.Provider](
				"none", noSynth{}, resilience.BreakerConfig{})
		}
	}

	a.renderer = synth.NewRenderer(a.ttsGroup,
		synth.WithCache(synth.NewCache(a.cfg.TTS.CacheEntries)),
		synth.WithWorkers(a.cfg.TTS.Workers),
		synth.WithTimeout(time.Duration(a.cfg.TTS.Timeout)),
	)
	a.closers = append(a.closers, func() error {
		a.renderer.Close()
		return nil
	})
	return nil
}

func buildSynthBackend(entry config.TTSProviderEntry) (synth.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []synthopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, synthopenai.WithBaseURL(entry.BaseURL))
		}
		return synthopenai.New(entry.APIKey, entry.Model, opts...)
	case "local":
		return synthlocal.New(entry.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider %q; supported: openai, local", entry.Name)
	}
}

func (a *App) initPlayer() error {
	if a.device == nil {
		dev, err := audio.OpenDevice(a.cfg.Audio.SampleRate, a.cfg.Audio.Channels)
		if err != nil {
			return err
		}
		a.device = dev
	}
	a.player = audio.NewPlayer(a.device)
	return nil
}

func (a *App) initRewriter() error {
	if a.rewriter != nil || a.cfg.Rewrite.Provider == "" {
		return nil
	}

	var opts []anyllmlib.Option
	if a.cfg.Rewrite.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(a.cfg.Rewrite.APIKey))
	}
	if a.cfg.Rewrite.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(a.cfg.Rewrite.BaseURL))
	}

	r, err := rewrite.New(a.cfg.Rewrite.Provider, a.cfg.Rewrite.Model, opts,
		rewrite.WithTimeout(time.Duration(a.cfg.Rewrite.Timeout)))
	if err != nil {
		return err
	}
	a.rewriter = r
	slog.Info("reply rewriter enabled",
		"provider", a.cfg.Rewrite.Provider, "model", a.cfg.Rewrite.Model)
	return nil
}

func (a *App) initMetrics() error {
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a.metrics.RegisterQueueDepth(func() int64 {
		return a.store.Counters().Depth
	})
}

func (a *App) initArchive(ctx context.Context) error {
	if a.cfg.Archive.PostgresDSN == "" {
		return nil
	}
	arch, err := archive.Open(ctx, a.cfg.Archive.PostgresDSN)
	if err != nil {
		return err
	}
	a.archive = arch
	a.closers = append(a.closers, arch.Close)
	slog.Info("event archive enabled")
	return nil
}

func (a *App) initDispatch() {
	schedOpts := []dispatch.Option{
		dispatch.WithStatusFunc(a.onStatus),
	}
	if a.rewriter != nil {
		schedOpts = append(schedOpts, dispatch.WithRewriter(a.rewriter))
	}

	a.sched = dispatch.New(a.picker, a.renderer, a.player, a.store,
		dispatch.Config{
			Cooldown:         time.Duration(a.cfg.Scheduler.Cooldown),
			KeywordStaleness: time.Duration(a.cfg.Scheduler.KeywordStaleness),
			StopDeadline:     time.Duration(a.cfg.Scheduler.StopDeadline),
		},
		schedOpts...,
	)
	a.closers = append(a.closers, a.sched.Close)
}

func (a *App) initSource() {
	a.timers = source.NewTimers(a.sched,
		time.Duration(a.cfg.Broadcast.Interval),
		time.Duration(a.cfg.Filler.Poll),
	)
	a.closers = append(a.closers, func() error {
		a.timers.Close()
		return nil
	})

	server := source.NewServer(a.instrumentedClassifier(), a.sched,
		source.WithAckCooldown(time.Duration(a.cfg.Scheduler.AckCooldown)),
		source.WithTimers(a.timers),
	)
	a.mu.Lock()
	a.server = server
	a.mu.Unlock()
	a.closers = append(a.closers, server.Close)
}

// onStatus fans one lifecycle event out to every consumer: connected
// clients, metrics, and the archive.
func (a *App) onStatus(ev dispatch.StatusEvent) {
	a.metrics.Status(ev)
	if a.archive != nil {
		a.archive.Status(ev)
	}
	a.mu.Lock()
	server := a.server
	a.mu.Unlock()
	if server != nil {
		server.Status(ev)
	}
}

// instrumentedClassifier wraps the classifier so every chat event is counted
// and optionally archived before classification decides its fate.
func (a *App) instrumentedClassifier() source.Classifier {
	return classifierFunc(func(ev trigger.ChatEvent) (trigger.Trigger, bool) {
		tr, ok := a.classifier.Submit(ev)
		a.metrics.RecordChatEvent(context.Background(), ev.Platform, ok)
		if a.archive != nil {
			a.archive.RecordChat(ev, tr.Keyword)
		}
		return tr, ok
	})
}

type classifierFunc func(trigger.ChatEvent) (trigger.Trigger, bool)

func (f classifierFunc) Submit(ev trigger.ChatEvent) (trigger.Trigger, bool) { return f(ev) }

// Reload applies a changed config to the hot-swappable pieces: keyword rules
// and response tables. The in-flight job and queue are not disturbed. Wire
// it to a [config.Watcher].
func (a *App) Reload(_, next *config.Config) {
	a.classifier.Replace(next.Rules())
	a.picker.Replace(next.Tables())
	slog.Info("configuration reloaded",
		"keywords", len(next.Keywords),
		"broadcasts", len(next.Broadcast.Responses),
		"filler", len(next.Filler.Responses),
	)
}

// Scheduler exposes dispatch control, mainly for tests and the CLI.
func (a *App) Scheduler() *dispatch.Scheduler { return a.sched }

// Store exposes the mode and counter snapshots.
func (a *App) Store() *dispatch.Store { return a.store }

// Handler builds the HTTP surface: WebSocket ingest, health probes, and the
// Prometheus scrape endpoint, all behind the observability middleware.
func (a *App) Handler() http.Handler {
	inner := http.NewServeMux()
	inner.Handle("/metrics", promhttp.Handler())

	checks := health.New(
		health.AudioDevice(a.player),
		health.Synthesis(a.ttsGroup),
	)
	checks.Register(inner)

	// The WebSocket endpoint bypasses the middleware: its response writer
	// wrapper would defeat the connection hijack the upgrade needs.
	mux := http.NewServeMux()
	mux.Handle("/ws", a.server)
	mux.Handle("/", observe.Middleware(a.metrics)(inner))
	return mux
}

// Run serves HTTP on the configured listen address until ctx is cancelled,
// then returns ctx.Err(). Subsystems keep running; call Shutdown after Run
// returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(closeCtx); err != nil {
			slog.Warn("http shutdown error", "error", err)
		}
		return gctx.Err()
	})
	return g.Wait()
}

// Shutdown tears subsystems down in reverse-init order: ingest first so no
// new triggers arrive, then the scheduler (which drains its queue), then
// synthesis and storage. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		a.player.Stop()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
