package rewrite

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeCompleter struct {
	out   string
	err   error
	slow  time.Duration
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls++
	if f.slow > 0 {
		select {
		case <-time.After(f.slow):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.out, f.err
}

func TestRewriteReplacesText(t *testing.T) {
	r := NewWithCompleter(&fakeCompleter{out: "  \"Welcome aboard, friends!\"  "})
	got := r.Rewrite(context.Background(), "welcome to the stream")
	if got != "Welcome aboard, friends!" {
		t.Errorf("Rewrite = %q", got)
	}
}

func TestRewriteFallsBackOnError(t *testing.T) {
	r := NewWithCompleter(&fakeCompleter{err: errors.New("backend down")})
	got := r.Rewrite(context.Background(), "original line")
	if got != "original line" {
		t.Errorf("Rewrite = %q, want original", got)
	}
}

func TestRewriteFallsBackOnEmptyOutput(t *testing.T) {
	r := NewWithCompleter(&fakeCompleter{out: "   "})
	if got := r.Rewrite(context.Background(), "original line"); got != "original line" {
		t.Errorf("Rewrite = %q, want original", got)
	}
}

func TestRewriteFallsBackOnRunawayOutput(t *testing.T) {
	r := NewWithCompleter(&fakeCompleter{out: strings.Repeat("blah ", 200)})
	if got := r.Rewrite(context.Background(), "hi"); got != "hi" {
		t.Errorf("Rewrite = %q, want original", got)
	}
}

func TestRewriteTimeout(t *testing.T) {
	f := &fakeCompleter{out: "late answer", slow: time.Minute}
	r := NewWithCompleter(f, WithTimeout(10*time.Millisecond))
	if got := r.Rewrite(context.Background(), "original line"); got != "original line" {
		t.Errorf("Rewrite = %q, want original after timeout", got)
	}
}

func TestRewriteSkipsBlankInput(t *testing.T) {
	f := &fakeCompleter{out: "something"}
	r := NewWithCompleter(f)
	if got := r.Rewrite(context.Background(), "  "); got != "  " {
		t.Errorf("Rewrite = %q, want input unchanged", got)
	}
	if f.calls != 0 {
		t.Errorf("completer called %d times for blank input", f.calls)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New("carrier-pigeon", "m1", nil); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New("openai", "", nil); err == nil {
		t.Fatal("expected error for empty model")
	}
}
