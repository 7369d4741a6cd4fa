package synth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stagecue/stagecue/internal/resilience"
	"github.com/stagecue/stagecue/internal/response"
)

// fakeProvider returns canned audio or an error, counting calls.
type fakeProvider struct {
	name  string
	audio []byte
	err   error
	slow  time.Duration
	calls atomic.Int64
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	p.calls.Add(1)
	if p.slow > 0 {
		select {
		case <-time.After(p.slow):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.audio, nil
}

func group(primary Provider, standbys ...Provider) *resilience.FallbackGroup[Provider] {
	g := resilience.NewFallbackGroup(primary.Name(), primary, resilience.BreakerConfig{})
	for _, s := range standbys {
		g.Add(s.Name(), s)
	}
	return g
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("render result never arrived")
		return Result{}
	}
}

func TestRendererSynthesizesText(t *testing.T) {
	p := &fakeProvider{name: "fake", audio: []byte("wav-bytes")}
	r := NewRenderer(group(p))
	defer r.Close()

	res := waitResult(t, r.Render(context.Background(), response.ResponseSpec{
		Category: response.CategoryKeyword,
		Text:     "welcome in",
		VoiceID:  "anna",
	}))
	if res.Err != nil {
		t.Fatalf("render: %v", res.Err)
	}
	if res.Artifact.Origin != OriginSynth {
		t.Errorf("origin = %q, want %q", res.Artifact.Origin, OriginSynth)
	}
	if string(res.Artifact.Data) != "wav-bytes" {
		t.Errorf("data = %q", res.Artifact.Data)
	}
}

func TestRendererUsesCache(t *testing.T) {
	p := &fakeProvider{name: "fake", audio: []byte("wav-bytes")}
	r := NewRenderer(group(p), WithCache(NewCache(8)))
	defer r.Close()

	spec := response.ResponseSpec{Category: response.CategoryFiller, Text: "Hello  Friends", VoiceID: "v"}
	if res := waitResult(t, r.Render(context.Background(), spec)); res.Err != nil {
		t.Fatalf("first render: %v", res.Err)
	}

	// Same text modulo case and spacing must come from the cache.
	spec.Text = "hello friends"
	res := waitResult(t, r.Render(context.Background(), spec))
	if res.Err != nil {
		t.Fatalf("second render: %v", res.Err)
	}
	if res.Artifact.Origin != OriginCache {
		t.Errorf("origin = %q, want %q", res.Artifact.Origin, OriginCache)
	}
	if p.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", p.calls.Load())
	}
}

func TestRendererLoadsClip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greet.wav")
	if err := os.WriteFile(path, []byte("clip-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRenderer(group(&fakeProvider{name: "fake"}))
	defer r.Close()

	res := waitResult(t, r.Render(context.Background(), response.ResponseSpec{
		Category: response.CategoryKeyword,
		Clip:     path,
	}))
	if res.Err != nil {
		t.Fatalf("render: %v", res.Err)
	}
	if res.Artifact.Origin != OriginClip {
		t.Errorf("origin = %q, want %q", res.Artifact.Origin, OriginClip)
	}
	if string(res.Artifact.Data) != "clip-bytes" {
		t.Errorf("data = %q", res.Artifact.Data)
	}
}

func TestRendererMissingClip(t *testing.T) {
	r := NewRenderer(group(&fakeProvider{name: "fake"}))
	defer r.Close()

	res := waitResult(t, r.Render(context.Background(), response.ResponseSpec{
		Category: response.CategoryKeyword,
		Clip:     filepath.Join(t.TempDir(), "nope.wav"),
	}))
	var missing *MissingAssetError
	if !errors.As(res.Err, &missing) {
		t.Fatalf("err = %v, want MissingAssetError", res.Err)
	}
}

func TestRendererFallsBackToStandby(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("down")}
	standby := &fakeProvider{name: "standby", audio: []byte("backup-wav")}
	r := NewRenderer(group(primary, standby))
	defer r.Close()

	res := waitResult(t, r.Render(context.Background(), response.ResponseSpec{
		Category: response.CategoryBroadcast,
		Text:     "back in five",
	}))
	if res.Err != nil {
		t.Fatalf("render: %v", res.Err)
	}
	if string(res.Artifact.Data) != "backup-wav" {
		t.Errorf("data = %q, want standby audio", res.Artifact.Data)
	}
}

func TestRendererAllBackendsFail(t *testing.T) {
	r := NewRenderer(group(&fakeProvider{name: "primary", err: errors.New("down")}))
	defer r.Close()

	res := waitResult(t, r.Render(context.Background(), response.ResponseSpec{
		Category: response.CategoryKeyword,
		Text:     "hi",
	}))
	var synthErr *SynthesisError
	if !errors.As(res.Err, &synthErr) {
		t.Fatalf("err = %v, want SynthesisError", res.Err)
	}
	if !errors.Is(res.Err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want wrapped ErrAllFailed", res.Err)
	}
}

func TestRendererTimeout(t *testing.T) {
	p := &fakeProvider{name: "slow", audio: []byte("late"), slow: time.Minute}
	r := NewRenderer(group(p), WithTimeout(10*time.Millisecond))
	defer r.Close()

	res := waitResult(t, r.Render(context.Background(), response.ResponseSpec{
		Category: response.CategoryKeyword,
		Text:     "hi",
	}))
	if res.Err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(res.Err.Error(), "deadline exceeded") {
		t.Errorf("err = %v, want deadline exceeded", res.Err)
	}
}

func TestRendererNoOpSpec(t *testing.T) {
	r := NewRenderer(group(&fakeProvider{name: "fake"}))
	defer r.Close()

	res := waitResult(t, r.Render(context.Background(), response.ResponseSpec{}))
	if res.Err != nil || res.Artifact != nil {
		t.Fatalf("no-op result = (%v, %v), want (nil, nil)", res.Artifact, res.Err)
	}
}

func TestRendererAbandonedResultDoesNotBlockWorkers(t *testing.T) {
	p := &fakeProvider{name: "fake", audio: []byte("wav")}
	r := NewRenderer(group(p), WithWorkers(1))
	defer r.Close()

	// Fire several renders and never read the first results. With a single
	// worker, the later render still completes because the result channels
	// are buffered.
	for range 3 {
		_ = r.Render(context.Background(), response.ResponseSpec{Category: response.CategoryFiller, Text: "x"})
	}
	res := waitResult(t, r.Render(context.Background(), response.ResponseSpec{Category: response.CategoryFiller, Text: "y"}))
	if res.Err != nil {
		t.Fatalf("render after abandoned jobs: %v", res.Err)
	}
}

func TestRendererCollapsesConcurrentIdenticalRenders(t *testing.T) {
	p := &fakeProvider{name: "fake", audio: []byte("wav"), slow: 200 * time.Millisecond}
	r := NewRenderer(group(p), WithWorkers(2))
	defer r.Close()

	spec := response.ResponseSpec{Category: response.CategoryBroadcast, Text: "sale starts now", VoiceID: "anna"}
	ch1 := r.Render(context.Background(), spec)
	ch2 := r.Render(context.Background(), spec)

	for _, ch := range []<-chan Result{ch1, ch2} {
		res := waitResult(t, ch)
		if res.Err != nil {
			t.Fatalf("render: %v", res.Err)
		}
		if string(res.Artifact.Data) != "wav" {
			t.Errorf("data = %q", res.Artifact.Data)
		}
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestRendererLeaderCancelDoesNotFailFollowers(t *testing.T) {
	p := &fakeProvider{name: "fake", audio: []byte("wav"), slow: 200 * time.Millisecond}
	r := NewRenderer(group(p), WithWorkers(2))
	defer r.Close()

	spec := response.ResponseSpec{Category: response.CategoryBroadcast, Text: "back in five", VoiceID: "anna"}

	leaderCtx, cancel := context.WithCancel(context.Background())
	_ = r.Render(leaderCtx, spec)
	time.Sleep(50 * time.Millisecond) // let the first render reach the backend
	follower := r.Render(context.Background(), spec)
	time.Sleep(20 * time.Millisecond)
	cancel()

	res := waitResult(t, follower)
	if res.Err != nil {
		t.Fatalf("follower render failed after leader cancel: %v", res.Err)
	}
	if string(res.Artifact.Data) != "wav" {
		t.Errorf("data = %q", res.Artifact.Data)
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}
