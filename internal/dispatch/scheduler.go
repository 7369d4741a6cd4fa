// Package dispatch contains the scheduling core: a single goroutine that owns
// the job queue and the mode state machine, activates at most one job at a
// time, and arbitrates between competing triggers by priority.
//
// Producers hand triggers to [Scheduler.Submit], which never blocks: bounded
// categories replace their pending entry instead of appending, and everything
// else is queued on a priority heap with FIFO ordering inside each tier.
// Rendering happens off the scheduling loop so a slow synthesis call can
// never delay a preemption, mute, or skip.
package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagecue/stagecue/internal/audio"
	"github.com/stagecue/stagecue/internal/response"
	"github.com/stagecue/stagecue/internal/synth"
	"github.com/stagecue/stagecue/internal/trigger"
)

// Picker selects a concrete response for a trigger.
type Picker interface {
	Pick(tr trigger.Trigger) (response.ResponseSpec, error)
}

// Renderer resolves a response spec to a playable artifact off the
// scheduling loop. The returned channel delivers exactly one result and must
// be safe to abandon.
type Renderer interface {
	Render(ctx context.Context, spec response.ResponseSpec) <-chan synth.Result
}

// Player plays one artifact at a time. Play blocks until the clip ends or is
// stopped; Stop must be safe to call concurrently with Play.
type Player interface {
	Play(ctx context.Context, art *response.Artifact) error
	Stop()
}

// Rewriter paraphrases response text. Optional.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) string
}

// Config tunes the scheduler. Zero fields take defaults.
type Config struct {
	// Cooldown is the refractory period after normal playback. Default 400ms.
	Cooldown time.Duration

	// KeywordStaleness drops keyword jobs older than this at activation.
	// Default 30s.
	KeywordStaleness time.Duration

	// UnmuteStaleness drops queued jobs older than this when unmuting.
	// Defaults to KeywordStaleness.
	UnmuteStaleness time.Duration

	// StopDeadline bounds how long a preemption hard stop may take before it
	// is logged as overdue. Default 200ms.
	StopDeadline time.Duration
}

func (c *Config) applyDefaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 400 * time.Millisecond
	}
	if c.KeywordStaleness <= 0 {
		c.KeywordStaleness = 30 * time.Second
	}
	if c.UnmuteStaleness <= 0 {
		c.UnmuteStaleness = c.KeywordStaleness
	}
	if c.StopDeadline <= 0 {
		c.StopDeadline = 200 * time.Millisecond
	}
}

type command int

const (
	cmdMute command = iota
	cmdUnmute
	cmdSkip
)

// activeJob tracks the job currently being rendered or played, shared between
// the loop and Submit for the preemption decision.
type activeJob struct {
	job         *Job
	priority    int
	preemptible bool
	cancel      context.CancelFunc
	reason      string // why cancel was called, set before cancelling
}

// Scheduler is the dispatch core. Create with [New], feed with
// [Scheduler.Submit] and the operator methods, stop with [Scheduler.Close].
type Scheduler struct {
	picker   Picker
	renderer Renderer
	player   Player
	rewriter Rewriter
	store    *Store
	status   StatusFunc
	cfg      Config

	mu     sync.Mutex
	queue  jobHeap
	seq    uint64
	active *activeJob
	closed bool

	// resume holds a preempted filler job to replay once the queue drains.
	// Loop-owned.
	resume *Job

	ctx    context.Context
	stop   context.CancelFunc
	notify chan struct{}
	cmds   chan command
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithStatusFunc registers the job lifecycle callback. The callback may be
// invoked from multiple goroutines and must not block.
func WithStatusFunc(fn StatusFunc) Option {
	return func(s *Scheduler) { s.status = fn }
}

// WithRewriter attaches an optional text rewriter applied to keyword replies
// before synthesis.
func WithRewriter(r Rewriter) Option {
	return func(s *Scheduler) { s.rewriter = r }
}

// New creates a [Scheduler] writing its mode into store and starts the
// scheduling loop. Call [Scheduler.Close] to stop it.
func New(p Picker, r Renderer, pl Player, store *Store, cfg Config, opts ...Option) *Scheduler {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		picker:   p,
		renderer: r,
		player:   pl,
		store:    store,
		cfg:      cfg,
		queue:    make(jobHeap, 0, 16),
		ctx:      ctx,
		stop:     cancel,
		notify:   make(chan struct{}, 1),
		cmds:     make(chan command, 16),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	heap.Init(&s.queue)
	s.wg.Add(1)
	go s.run()
	return s
}

// Submit queues a job for the trigger and returns its ID. It never blocks:
// filler and broadcast tiers hold at most one pending job each, with a new
// arrival replacing the old one. If the trigger outranks a preemptible active
// job (or any lower-ranked job, for manual commands), the active job is
// stopped immediately.
func (s *Scheduler) Submit(tr trigger.Trigger) uuid.UUID {
	job := &Job{ID: uuid.New(), Trigger: tr, EnqueuedAt: time.Now()}
	pri := tr.Kind.Priority()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return uuid.Nil
	}

	var replaced *Job
	if tr.Kind == trigger.KindIdleFiller || tr.Kind == trigger.KindScheduledBroadcast {
		replaced = s.removeKindLocked(tr.Kind)
	}

	s.seq++
	heap.Push(&s.queue, entry{job: job, priority: pri, seq: s.seq})
	s.store.depth.Store(int64(s.queue.Len()))
	s.store.enqueued.Add(1)

	// Preempt the active job if the new one outranks it. Manual commands may
	// also cut off a keyword reply, which nothing else may interrupt.
	if s.active != nil && pri > s.active.priority &&
		(s.active.preemptible || tr.Kind == trigger.KindManualCommand) {
		s.cancelActiveLocked(ReasonPreempted)
	}
	s.mu.Unlock()

	if replaced != nil {
		s.emitDropped(replaced, ReasonReplaced)
	}
	s.emit(job, JobWaiting, "")
	s.wake()
	return job.ID
}

// Mute silences the co-host: the active job is dropped and queued jobs are
// held until [Scheduler.Unmute].
func (s *Scheduler) Mute() { s.command(cmdMute) }

// Unmute resumes dispatch. Queued jobs older than the staleness threshold
// are discarded rather than replayed.
func (s *Scheduler) Unmute() { s.command(cmdUnmute) }

// ForceSkip abandons the active job without a replacement. No-op when
// nothing is active.
func (s *Scheduler) ForceSkip() { s.command(cmdSkip) }

func (s *Scheduler) command(c command) {
	select {
	case s.cmds <- c:
	default:
		slog.Warn("scheduler command dropped, queue full", "command", int(c))
	}
	s.wake()
}

// Close stops the scheduling loop, cancelling the active job and discarding
// the queue. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stop()
	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	for s.queue.Len() > 0 {
		e := heap.Pop(&s.queue).(entry)
		s.emitDropped(e.job, ReasonShutdown)
	}
	s.store.depth.Store(0)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// run is the scheduling loop: the only writer of the mode store and the only
// goroutine that pops the queue.
func (s *Scheduler) run() {
	defer s.wg.Done()

	cooldown := time.NewTimer(0)
	if !cooldown.Stop() {
		<-cooldown.C
	}
	defer cooldown.Stop()

	for {
		select {
		case <-s.done:
			return
		case cmd := <-s.cmds:
			s.handleIdleCommand(cmd)
		case <-s.notify:
		case <-cooldown.C:
			if s.store.Mode() == ModeCooldown {
				s.store.setMode(ModeIdle)
			}
		}
		s.drain(cooldown)
	}
}

// drain activates queued jobs until the queue is exhausted or the mode
// forbids activation.
func (s *Scheduler) drain(cooldown *time.Timer) {
	for {
		switch s.store.Mode() {
		case ModeMuted, ModeCooldown:
			return
		}

		job, ok := s.pop()
		if !ok {
			if s.resume != nil {
				job, s.resume = s.resume, nil
				s.runJob(job, cooldown)
				continue
			}
			s.store.setMode(ModeIdle)
			return
		}
		s.runJob(job, cooldown)
	}
}

// pop returns the highest-priority queued job, dropping stale keyword jobs
// on the way.
func (s *Scheduler) pop() (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queue.Len() > 0 {
		e := heap.Pop(&s.queue).(entry)
		s.store.depth.Store(int64(s.queue.Len()))
		if e.job.Trigger.Kind == trigger.KindKeywordMatch &&
			time.Since(e.job.EnqueuedAt) > s.cfg.KeywordStaleness {
			s.emitDropped(e.job, ReasonStale)
			continue
		}
		return e.job, true
	}
	return nil, false
}

// removeKindLocked removes the pending entry of the given kind, if any.
// Caller holds s.mu.
func (s *Scheduler) removeKindLocked(k trigger.Kind) *Job {
	for i := range s.queue {
		if s.queue[i].job.Trigger.Kind == k {
			removed := s.queue[i].job
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			heap.Init(&s.queue)
			return removed
		}
	}
	return nil
}

// cancelActiveLocked records the reason and cancels the active job's context.
// Caller holds s.mu.
func (s *Scheduler) cancelActiveLocked(reason string) {
	if s.active == nil || s.active.reason != "" {
		return
	}
	s.active.reason = reason
	s.active.cancel()
}

// handleIdleCommand processes an operator command while no job is active.
func (s *Scheduler) handleIdleCommand(cmd command) {
	switch cmd {
	case cmdMute:
		s.resume = nil
		s.store.setMode(ModeMuted)
		slog.Info("muted")
	case cmdUnmute:
		if s.store.Mode() != ModeMuted {
			return
		}
		s.pruneStale()
		s.store.setMode(ModeIdle)
		slog.Info("unmuted")
	case cmdSkip:
		// Nothing active to skip.
	}
}

// pruneStale discards queued jobs older than the unmute staleness threshold.
func (s *Scheduler) pruneStale() {
	s.mu.Lock()
	var kept jobHeap
	var stale []*Job
	for _, e := range s.queue {
		if time.Since(e.job.EnqueuedAt) > s.cfg.UnmuteStaleness {
			stale = append(stale, e.job)
			continue
		}
		kept = append(kept, e)
	}
	s.queue = kept
	heap.Init(&s.queue)
	s.store.depth.Store(int64(s.queue.Len()))
	s.mu.Unlock()

	for _, j := range stale {
		s.emitDropped(j, ReasonStale)
	}
}

// runJob takes a job through pick, render and playback. It owns all mode
// transitions for the job's lifetime.
func (s *Scheduler) runJob(job *Job, cooldown *time.Timer) {
	if job.Spec.Category == "" {
		spec, err := s.picker.Pick(job.Trigger)
		if err != nil {
			slog.Warn("pick failed", "job", job.ID, "kind", job.Trigger.Kind, "error", err)
			s.emitDropped(job, ReasonNoCandidate)
			return
		}
		if spec.IsNoOp() {
			s.emitDropped(job, ReasonIdleGate)
			return
		}
		job.Spec = spec
	}

	jobCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	act := &activeJob{
		job:         job,
		priority:    job.Trigger.Kind.Priority(),
		preemptible: job.Trigger.Kind.Preemptible(),
		cancel:      cancel,
	}
	s.mu.Lock()
	s.active = act
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()

	s.emit(job, JobActive, "")

	art, ok := s.renderPhase(jobCtx, act)
	if !ok {
		return
	}
	s.playPhase(jobCtx, act, art, cooldown)
}

// renderPhase resolves the job's artifact while staying responsive to
// commands and preemption. Returns ok=false when the job ended here.
func (s *Scheduler) renderPhase(ctx context.Context, act *activeJob) (*response.Artifact, bool) {
	job := act.job
	results := make(chan synth.Result, 1)
	go func() {
		spec := job.Spec
		if s.rewriter != nil && spec.Synthesized() && spec.Category == response.CategoryKeyword {
			spec.Text = s.rewriter.Rewrite(ctx, spec.Text)
		}
		results <- <-s.renderer.Render(ctx, spec)
	}()

	for {
		select {
		case cmd := <-s.cmds:
			if s.interruptForCommand(cmd, act, nil) {
				return nil, false
			}
		case <-ctx.Done():
			s.finishCancelled(act, 0)
			return nil, false
		case res := <-results:
			if res.Err != nil {
				// The render may have lost the race with a cancellation.
				if ctx.Err() != nil {
					s.finishCancelled(act, 0)
					return nil, false
				}
				slog.Warn("render failed", "job", job.ID, "error", res.Err)
				s.emitDropped(job, renderDropReason(res.Err))
				return nil, false
			}
			return res.Artifact, true
		}
	}
}

// playPhase plays the artifact to completion, preemption, or command.
func (s *Scheduler) playPhase(ctx context.Context, act *activeJob, art *response.Artifact, cooldown *time.Timer) {
	job := act.job
	s.store.setMode(ModeSpeaking)

	playDone := make(chan error, 1)
	go func() { playDone <- s.player.Play(ctx, art) }()

	for {
		select {
		case cmd := <-s.cmds:
			if s.interruptForCommand(cmd, act, playDone) {
				return
			}
		case <-ctx.Done():
			latency := s.stopAndWait(playDone)
			s.finishCancelled(act, latency)
			return
		case err := <-playDone:
			if ctx.Err() != nil {
				s.finishCancelled(act, 0)
				return
			}
			if err != nil {
				slog.Warn("playback failed", "job", job.ID, "error", err)
				if errors.Is(err, audio.ErrUnavailable) {
					slog.Error("playback unavailable, operator intervention required")
				}
				s.emitDropped(job, ReasonPlayback)
				return
			}
			s.emit(job, JobCompleted, "")
			s.store.completed.Add(1)
			s.store.setMode(ModeCooldown)
			cooldown.Reset(s.cfg.Cooldown)
			return
		}
	}
}

// interruptForCommand applies an operator command to the active job. Returns
// true when the job ended. playDone is nil during the render phase.
func (s *Scheduler) interruptForCommand(cmd command, act *activeJob, playDone chan error) bool {
	switch cmd {
	case cmdMute:
		s.endActive(act, ReasonMuted, playDone)
		s.resume = nil
		s.store.setMode(ModeMuted)
		slog.Info("muted")
		return true
	case cmdSkip:
		s.endActive(act, ReasonSkipped, playDone)
		return true
	case cmdUnmute:
		// Not muted while a job is active.
		return false
	}
	return false
}

// endActive cancels the active job and reports it dropped.
func (s *Scheduler) endActive(act *activeJob, reason string, playDone chan error) {
	s.mu.Lock()
	s.cancelActiveLocked(reason)
	s.mu.Unlock()
	if playDone != nil {
		s.stopAndWait(playDone)
	}
	s.emitDropped(act.job, reason)
}

// finishCancelled reports the outcome of a job whose context was cancelled,
// using the reason recorded by whoever cancelled it.
func (s *Scheduler) finishCancelled(act *activeJob, stopLatency time.Duration) {
	s.mu.Lock()
	reason := act.reason
	s.mu.Unlock()

	switch reason {
	case ReasonPreempted:
		s.emitPreempted(act.job, stopLatency)
		if act.job.Trigger.Kind == trigger.KindIdleFiller {
			s.resume = act.job
		}
	case "":
		s.emitDropped(act.job, ReasonShutdown)
	default:
		s.emitDropped(act.job, reason)
	}
}

// stopAndWait hard-stops the player and waits for the blocked Play call,
// bounded by the stop deadline. Returns the observed stop latency.
func (s *Scheduler) stopAndWait(playDone chan error) time.Duration {
	start := time.Now()
	s.player.Stop()

	deadline := time.NewTimer(s.cfg.StopDeadline)
	defer deadline.Stop()
	select {
	case <-playDone:
	case <-deadline.C:
		slog.Warn("hard stop exceeded deadline", "deadline", s.cfg.StopDeadline)
	}
	return time.Since(start)
}

func renderDropReason(err error) string {
	var missing *synth.MissingAssetError
	if errors.As(err, &missing) {
		return ReasonMissingClip
	}
	return ReasonSynthesis
}

func (s *Scheduler) emit(job *Job, state JobState, reason string) {
	if s.status == nil {
		return
	}
	s.status(StatusEvent{
		JobID:  job.ID,
		Kind:   job.Trigger.Kind,
		State:  state,
		Reason: reason,
		Mode:   s.store.Mode(),
		At:     time.Now(),
	})
}

func (s *Scheduler) emitDropped(job *Job, reason string) {
	s.store.dropped.Add(1)
	s.emit(job, JobDropped, reason)
}

func (s *Scheduler) emitPreempted(job *Job, stopLatency time.Duration) {
	s.store.preempted.Add(1)
	if s.status == nil {
		return
	}
	s.status(StatusEvent{
		JobID:       job.ID,
		Kind:        job.Trigger.Kind,
		State:       JobPreempted,
		Reason:      ReasonPreempted,
		Mode:        s.store.Mode(),
		At:          time.Now(),
		StopLatency: stopLatency,
	})
}
