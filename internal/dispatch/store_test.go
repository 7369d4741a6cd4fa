package dispatch

import (
	"testing"
	"time"
)

func TestStoreStartsIdle(t *testing.T) {
	s := NewStore()
	if s.Mode() != ModeIdle {
		t.Fatalf("mode = %v, want idle", s.Mode())
	}
	if s.IdleFor() < 0 {
		t.Errorf("IdleFor = %v, want >= 0", s.IdleFor())
	}
}

func TestStoreIdleForZeroWhenNotIdle(t *testing.T) {
	s := NewStore()
	s.setMode(ModeSpeaking)
	if d := s.IdleFor(); d != 0 {
		t.Errorf("IdleFor = %v while speaking, want 0", d)
	}
}

func TestStoreSetModeKeepsSinceOnNoop(t *testing.T) {
	s := NewStore()
	first := s.Snapshot().Since
	time.Sleep(5 * time.Millisecond)
	s.setMode(ModeIdle)
	if got := s.Snapshot().Since; !got.Equal(first) {
		t.Error("Since changed on same-mode transition")
	}

	s.setMode(ModeMuted)
	if got := s.Snapshot().Since; got.Equal(first) {
		t.Error("Since unchanged on real transition")
	}
}

func TestStoreCounters(t *testing.T) {
	s := NewStore()
	s.enqueued.Add(3)
	s.completed.Add(2)
	s.dropped.Add(1)
	s.depth.Store(4)

	c := s.Counters()
	if c.Enqueued != 3 || c.Completed != 2 || c.Dropped != 1 || c.Depth != 4 {
		t.Errorf("counters = %+v", c)
	}
}

func TestModeString(t *testing.T) {
	cases := map[Mode]string{
		ModeIdle:     "idle",
		ModeSpeaking: "speaking",
		ModeCooldown: "cooldown",
		ModeMuted:    "muted",
		Mode(9):      "unknown",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", mode, got, want)
		}
	}
}
