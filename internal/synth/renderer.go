package synth

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stagecue/stagecue/internal/resilience"
	"github.com/stagecue/stagecue/internal/response"
)

// Result is the outcome of one render request. Exactly one of Artifact and
// Err is set.
type Result struct {
	Artifact *response.Artifact
	Err      error
}

// Artifact origins reported on successful renders.
const (
	OriginClip  = "clip"
	OriginCache = "cache"
	OriginSynth = "synth"
)

const (
	defaultWorkers = 2
	defaultTimeout = 15 * time.Second
)

type renderJob struct {
	ctx  context.Context
	spec response.ResponseSpec
	out  chan Result
}

// Renderer resolves response specs to playable WAV artifacts. Clip-backed
// specs are read from disk; text-backed specs go through the cache and then
// the synthesis backends.
//
// Render is asynchronous and its result channel is buffered, so a caller that
// no longer wants the audio can simply walk away and the worker will not
// block delivering it.
type Renderer struct {
	backends *resilience.FallbackGroup[Provider]
	cache    *Cache
	timeout  time.Duration
	workers  int

	jobs      chan renderJob
	inflight  singleflight.Group
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// RendererOption configures a [Renderer].
type RendererOption func(*Renderer)

// WithCache attaches an audio cache. Without one every text render hits the
// backends.
func WithCache(c *Cache) RendererOption {
	return func(r *Renderer) { r.cache = c }
}

// WithWorkers sets the size of the render worker pool.
func WithWorkers(n int) RendererOption {
	return func(r *Renderer) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithTimeout bounds how long a single synthesis attempt may take.
func WithTimeout(d time.Duration) RendererOption {
	return func(r *Renderer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRenderer creates a [Renderer] over the given backend chain and starts
// its worker pool. Call [Renderer.Close] to stop the workers.
func NewRenderer(backends *resilience.FallbackGroup[Provider], opts ...RendererOption) *Renderer {
	r := &Renderer{
		backends: backends,
		timeout:  defaultTimeout,
		workers:  defaultWorkers,
	}
	for _, o := range opts {
		o(r)
	}
	r.jobs = make(chan renderJob, r.workers)
	for range r.workers {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Render resolves spec to an artifact on a worker goroutine. The returned
// channel receives exactly one [Result] and is never closed; abandoning it is
// safe. No-op specs resolve immediately to a nil artifact.
func (r *Renderer) Render(ctx context.Context, spec response.ResponseSpec) <-chan Result {
	out := make(chan Result, 1)
	if spec.IsNoOp() {
		out <- Result{}
		return out
	}
	select {
	case r.jobs <- renderJob{ctx: ctx, spec: spec, out: out}:
	case <-ctx.Done():
		out <- Result{Err: ctx.Err()}
	}
	return out
}

// Close stops the worker pool and waits for in-flight renders to finish.
func (r *Renderer) Close() {
	r.closeOnce.Do(func() { close(r.jobs) })
	r.wg.Wait()
}

func (r *Renderer) work() {
	defer r.wg.Done()
	for job := range r.jobs {
		if err := job.ctx.Err(); err != nil {
			job.out <- Result{Err: err}
			continue
		}
		job.out <- r.resolve(job.ctx, job.spec)
	}
}

func (r *Renderer) resolve(ctx context.Context, spec response.ResponseSpec) Result {
	if !spec.Synthesized() {
		data, err := os.ReadFile(spec.Clip)
		if err != nil {
			return Result{Err: &MissingAssetError{Path: spec.Clip, Err: err}}
		}
		return Result{Artifact: &response.Artifact{Data: data, Origin: OriginClip}}
	}

	if r.cache != nil {
		if data, ok := r.cache.Get(spec.Text, spec.VoiceID); ok {
			return Result{Artifact: &response.Artifact{Data: data, Origin: OriginCache}}
		}
	}

	// Rotations repeat lines, so two workers can race on the same text.
	// Collapse concurrent identical requests into one backend call. The
	// shared call must not inherit the leader's cancellation: collapsed
	// waiters may still be live when the leader's job is preempted. The
	// timeout still bounds it.
	v, err, _ := r.inflight.Do(cacheKey(spec.Text, spec.VoiceID), func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		start := time.Now()
		data, err := resilience.DoWithResult(r.backends, func(p Provider) ([]byte, error) {
			return p.Synthesize(sctx, spec.Text, spec.VoiceID)
		})
		if err != nil {
			return nil, err
		}
		slog.Debug("synthesized response",
			"chars", len(spec.Text),
			"bytes", len(data),
			"took", time.Since(start))

		if r.cache != nil {
			r.cache.Put(spec.Text, spec.VoiceID, data)
		}
		return data, nil
	})
	if err != nil {
		return Result{Err: &SynthesisError{Provider: "tts", Err: err}}
	}
	return Result{Artifact: &response.Artifact{Data: v.([]byte), Origin: OriginSynth}}
}
