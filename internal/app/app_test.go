package app_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/stagecue/stagecue/internal/app"
	"github.com/stagecue/stagecue/internal/audio"
	"github.com/stagecue/stagecue/internal/config"
	"github.com/stagecue/stagecue/internal/observe"
	"github.com/stagecue/stagecue/internal/resilience"
	"github.com/stagecue/stagecue/internal/source"
	"github.com/stagecue/stagecue/internal/synth"
	"github.com/stagecue/stagecue/internal/trigger"
)

// buildWAV assembles a minimal RIFF file around pcm.
func buildWAV(pcm []byte) []byte {
	var b []byte
	b = append(b, "RIFF"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(36+len(pcm)))
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	b = binary.LittleEndian.AppendUint32(b, 16)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint32(b, 24000)
	b = binary.LittleEndian.AppendUint32(b, 48000)
	b = binary.LittleEndian.AppendUint16(b, 2)
	b = binary.LittleEndian.AppendUint16(b, 16)
	b = append(b, "data"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(pcm)))
	b = append(b, pcm...)
	return b
}

// fakeStream finishes after a couple of completion polls.
type fakeStream struct {
	mu      sync.Mutex
	playing bool
	polls   int
}

func (s *fakeStream) Play() {
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
}

func (s *fakeStream) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.polls > 2 {
		s.playing = false
	}
	return s.playing
}

func (s *fakeStream) Pause() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

func (s *fakeStream) Close() error { return nil }

type fakeDevice struct{}

func (fakeDevice) NewStream(r io.Reader) (audio.Stream, error) {
	_, _ = io.ReadAll(r)
	return &fakeStream{}, nil
}

// fakeSynth returns a fixed WAV for any text.
type fakeSynth struct{}

func (fakeSynth) Name() string { return "fake" }

func (fakeSynth) Synthesize(context.Context, string, string) ([]byte, error) {
	return buildWAV(make([]byte, 64)), nil
}

const testYAML = `
tts:
  providers:
    - name: openai
      api_key: test
scheduler:
  cooldown: 20ms
  min_idle: 1ms
keywords:
  - keyword: price
    responses:
      - text: about the price
manual:
  welcome:
    - text: welcome aboard
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()

	group := resilience.NewFallbackGroup[synth.Provider]("fake", fakeSynth{}, resilience.BreakerConfig{})
	a, err := app.New(context.Background(), cfg,
		app.WithDevice(fakeDevice{}),
		app.WithSynthBackends(group),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func waitCompleted(t *testing.T, a *app.App, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.Store().Counters().Completed >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d completions, counters = %+v", n, a.Store().Counters())
}

func TestManualTriggerPlaysEndToEnd(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))

	a.Scheduler().Submit(trigger.Trigger{
		Kind:      trigger.KindManualCommand,
		Keyword:   "welcome",
		CreatedAt: time.Now(),
	})

	waitCompleted(t, a, 1)
}

func TestHandlerServesProbesAndMetrics(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestWebSocketIngestDrivesDispatch(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	frame, _ := json.Marshal(source.Envelope{
		Type: source.TypeChat, Platform: "douyin", Text: "what is the price",
	})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitCompleted(t, a, 1)

	// The client receives lifecycle frames for its trigger.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	var msg source.StatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != source.TypeStatus || msg.Kind != "keyword_match" {
		t.Fatalf("status = %+v, want keyword lifecycle frame", msg)
	}
}

func TestReloadSwapsKeywordTable(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))

	next, err := config.LoadFromReader(strings.NewReader(`
tts:
  providers:
    - name: openai
      api_key: test
keywords:
  - keyword: shipping
    responses:
      - text: ships tomorrow
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	a.Reload(nil, next)

	a.Scheduler().Submit(trigger.Trigger{
		Kind:      trigger.KindKeywordMatch,
		Keyword:   "shipping",
		CreatedAt: time.Now(),
	})
	waitCompleted(t, a, 1)
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
