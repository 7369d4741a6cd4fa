// Package picker selects the concrete audio response for a classified trigger.
//
// Selection rules per category:
//
//   - KeywordMatch: weighted random among the responses registered for the
//     matched keyword, never repeating the previous pick when two or more
//     candidates exist (anti-repetition window of 1).
//   - ScheduledBroadcast: round-robin over the configured broadcast list,
//     wrapping at the end.
//   - IdleFiller: weighted random from the filler pool, gated on the
//     scheduler having been idle for a configured minimum duration.
//   - ManualCommand: passed through verbatim — the operator already chose
//     the clip or text.
//
// The pools are replaced atomically on hot reload; rotation and
// anti-repetition state survive a reload when the keys still exist.
package picker

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stagecue/stagecue/internal/response"
	"github.com/stagecue/stagecue/internal/trigger"
)

// defaultMinIdle is how long the scheduler must have been idle before filler
// may play.
const defaultMinIdle = 20 * time.Second

// NoCandidatesError reports a configuration gap: a trigger category has no
// registered responses. The trigger is dropped; this is logged, not fatal.
type NoCandidatesError struct {
	Category response.Category
	Key      string
}

func (e *NoCandidatesError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("picker: no responses registered for %s %q", e.Category, e.Key)
	}
	return fmt.Sprintf("picker: no responses registered for category %s", e.Category)
}

// IdleState is the read-only view of scheduler state the filler gate needs.
// The dispatch mode store satisfies this.
type IdleState interface {
	// IdleFor returns how long the scheduler has been continuously idle, or
	// zero when it is not idle.
	IdleFor() time.Duration
}

// Option configures a [Picker].
type Option func(*Picker)

// WithMinIdle sets the minimum continuous idle duration before filler plays.
func WithMinIdle(d time.Duration) Option {
	return func(p *Picker) {
		if d > 0 {
			p.minIdle = d
		}
	}
}

// WithRand overrides the random source. Tests inject a seeded source for
// deterministic picks.
func WithRand(r *rand.Rand) Option {
	return func(p *Picker) {
		p.rand = r
	}
}

// Tables holds the selectable response pools. A Tables value is immutable
// once handed to the picker.
type Tables struct {
	// Keywords maps a keyword to its registered responses.
	Keywords map[string][]response.ResponseSpec

	// Broadcasts is the ordered broadcast rotation.
	Broadcasts []response.ResponseSpec

	// Filler is the idle chatter pool.
	Filler []response.ResponseSpec

	// Manual maps named manual response groups (operator command codes) to
	// their responses.
	Manual map[string][]response.ResponseSpec
}

// Picker selects concrete responses for triggers. Safe for concurrent use.
type Picker struct {
	idle    IdleState
	minIdle time.Duration

	mu        sync.Mutex
	tables    Tables
	rand      *rand.Rand
	lastPick  map[string]int // keyword/filler pool key → last chosen index
	broadcast int            // next rotation index
}

// fillerKey is the lastPick map key for the filler pool.
const fillerKey = "\x00filler"

// New creates a Picker over the given tables. idle provides the scheduler
// idle time for the filler gate; it must not be nil.
func New(tables Tables, idle IdleState, opts ...Option) *Picker {
	p := &Picker{
		idle:     idle,
		minIdle:  defaultMinIdle,
		tables:   tables,
		rand:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		lastPick: make(map[string]int),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Replace swaps the response tables. The broadcast rotation index is clamped
// so a shorter list does not wrap mid-air; anti-repetition state is kept.
func (p *Picker) Replace(tables Tables) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tables = tables
	if n := len(tables.Broadcasts); n > 0 {
		p.broadcast = p.broadcast % n
	} else {
		p.broadcast = 0
	}
}

// Pick selects the concrete response for tr.
//
// For IdleFiller triggers outside the idle window it returns the sentinel
// no-op spec and a nil error; the caller must drop the trigger (check
// [response.ResponseSpec.IsNoOp]). A *NoCandidatesError is returned when the
// category (or keyword) has nothing registered.
func (p *Picker) Pick(tr trigger.Trigger) (response.ResponseSpec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch tr.Kind {
	case trigger.KindKeywordMatch:
		return p.pickWeighted(response.CategoryKeyword, tr.Keyword, p.tables.Keywords[tr.Keyword])

	case trigger.KindScheduledBroadcast:
		// A broadcast trigger naming a manual group (follow/like acks,
		// delayed reports) picks from that group instead of the rotation.
		if group, ok := p.tables.Manual[tr.BroadcastID]; ok {
			return p.pickWeighted(response.CategoryBroadcast, "group:"+tr.BroadcastID, group)
		}
		return p.pickBroadcast()

	case trigger.KindIdleFiller:
		if p.idle.IdleFor() < p.minIdle {
			return response.ResponseSpec{}, nil
		}
		return p.pickWeighted(response.CategoryFiller, fillerKey, p.tables.Filler)

	case trigger.KindManualCommand:
		return p.pickManual(tr)

	default:
		return response.ResponseSpec{}, fmt.Errorf("picker: unknown trigger kind %v", tr.Kind)
	}
}

// pickBroadcast returns the next broadcast in rotation.
func (p *Picker) pickBroadcast() (response.ResponseSpec, error) {
	list := p.tables.Broadcasts
	if len(list) == 0 {
		return response.ResponseSpec{}, &NoCandidatesError{Category: response.CategoryBroadcast}
	}
	spec := list[p.broadcast%len(list)]
	p.broadcast = (p.broadcast + 1) % len(list)
	spec.Category = response.CategoryBroadcast
	return spec, nil
}

// pickManual resolves a manual trigger: verbatim text/clip, or a named group.
func (p *Picker) pickManual(tr trigger.Trigger) (response.ResponseSpec, error) {
	if tr.Clip != "" || tr.Text != "" {
		return response.ResponseSpec{
			Category: response.CategoryManual,
			Clip:     tr.Clip,
			Text:     tr.Text,
		}, nil
	}
	group := p.tables.Manual[tr.Keyword]
	return p.pickWeighted(response.CategoryManual, "manual:"+tr.Keyword, group)
}

// pickWeighted performs a weighted random draw over candidates, excluding the
// previous pick for key when at least two candidates exist.
func (p *Picker) pickWeighted(cat response.Category, key string, candidates []response.ResponseSpec) (response.ResponseSpec, error) {
	if len(candidates) == 0 {
		e := &NoCandidatesError{Category: cat}
		if key != fillerKey {
			e.Key = key
		}
		return response.ResponseSpec{}, e
	}

	last, hasLast := p.lastPick[key]
	exclude := -1
	if hasLast && len(candidates) >= 2 && last < len(candidates) {
		exclude = last
	}

	total := 0
	for i, c := range candidates {
		if i == exclude {
			continue
		}
		total += c.EffectiveWeight()
	}

	n := p.rand.IntN(total)
	for i, c := range candidates {
		if i == exclude {
			continue
		}
		n -= c.EffectiveWeight()
		if n < 0 {
			p.lastPick[key] = i
			spec := c
			spec.Category = cat
			if cat == response.CategoryKeyword {
				spec.Key = key
			}
			return spec, nil
		}
	}

	// Unreachable: n < total by construction.
	panic("picker: weighted draw fell through")
}
