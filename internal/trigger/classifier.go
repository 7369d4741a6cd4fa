package trigger

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// defaultFuzzyThreshold is the minimum Jaro-Winkler similarity required
	// for a near-miss chat token to count as a keyword hit.
	defaultFuzzyThreshold = 0.90

	// defaultSenderCooldown suppresses repeat keyword replies to the same
	// viewer. One chatty viewer must not monopolise the co-host.
	defaultSenderCooldown = 60 * time.Second
)

// Rule is one keyword rule in registration order.
type Rule struct {
	// Keyword is the phrase to look for in chat text (substring match,
	// case-insensitive).
	Keyword string

	// Must lists terms that all have to appear in the message for the rule
	// to match.
	Must []string

	// Any lists terms of which at least one has to appear, when non-empty.
	Any []string

	// Deny lists terms that suppress the rule when any appears.
	Deny []string
}

// admits reports whether the rule's term lists allow a match against lower,
// an already lowercased message.
func (r Rule) admits(lower string) bool {
	for _, d := range r.Deny {
		if d != "" && strings.Contains(lower, strings.ToLower(d)) {
			return false
		}
	}
	for _, m := range r.Must {
		if m != "" && !strings.Contains(lower, strings.ToLower(m)) {
			return false
		}
	}
	if len(r.Any) == 0 {
		return true
	}
	for _, a := range r.Any {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

// table is the immutable rule set the classifier matches against. Replaced
// wholesale on hot reload.
type table struct {
	rules []Rule
}

// ClassifierOption configures a [Classifier].
type ClassifierOption func(*Classifier)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for fuzzy keyword
// matching. Values outside (0, 1] disable fuzzy matching entirely.
func WithFuzzyThreshold(threshold float64) ClassifierOption {
	return func(c *Classifier) {
		c.fuzzyThreshold = threshold
	}
}

// WithSenderCooldown sets the per-sender reply cooldown. Zero or negative
// disables the cooldown.
func WithSenderCooldown(d time.Duration) ClassifierOption {
	return func(c *Classifier) {
		c.senderCooldown = d
	}
}

// WithClock overrides the time source. Tests use this to advance cooldowns
// without sleeping.
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) {
		c.now = now
	}
}

// Classifier converts chat events into keyword triggers.
//
// Matching is longest-match-wins over the configured rules: the rule whose
// keyword covers the most characters of the message wins, with ties broken by
// registration order. A rule's must/any/deny term lists gate the match before
// length is considered. When no rule matches exactly, a fuzzy pass compares
// message tokens against keywords with Jaro-Winkler similarity so that small
// typos ("discoutn") still hit.
//
// Submit is safe for concurrent use. The rule table is swapped atomically on
// hot reload without disturbing in-flight classification.
type Classifier struct {
	rules          atomic.Pointer[table]
	fuzzyThreshold float64
	senderCooldown time.Duration
	now            func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time // sender → last keyword reply
}

// NewClassifier creates a classifier over the given rules. Rule order is
// significant: earlier rules win length ties.
func NewClassifier(rules []Rule, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		fuzzyThreshold: defaultFuzzyThreshold,
		senderCooldown: defaultSenderCooldown,
		now:            time.Now,
		lastSeen:       make(map[string]time.Time),
	}
	for _, o := range opts {
		o(c)
	}
	c.rules.Store(&table{rules: rules})
	return c
}

// Replace swaps the rule table. Existing triggers and cooldown state are
// unaffected.
func (c *Classifier) Replace(rules []Rule) {
	c.rules.Store(&table{rules: rules})
	slog.Info("keyword table replaced", "rules", len(rules))
}

// Submit classifies a chat event. It returns a KeywordMatch trigger and true
// when a rule matches and the sender is outside the reply cooldown; otherwise
// it returns false and the event is dropped. Dropping is not an error.
func (c *Classifier) Submit(ev ChatEvent) (Trigger, bool) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return Trigger{}, false
	}

	keyword, ok := c.match(text)
	if !ok {
		return Trigger{}, false
	}

	if !c.admitSender(ev.SenderID) {
		slog.Debug("keyword reply suppressed by sender cooldown",
			"sender", ev.SenderID, "keyword", keyword)
		return Trigger{}, false
	}

	return Trigger{
		Kind:      KindKeywordMatch,
		Keyword:   keyword,
		Text:      ev.Text,
		SenderID:  ev.SenderID,
		CreatedAt: c.now(),
	}, true
}

// match finds the winning keyword for text, or ok=false.
func (c *Classifier) match(text string) (keyword string, ok bool) {
	tbl := c.rules.Load()
	lower := strings.ToLower(text)

	// Exact pass: longest keyword contained in the message wins; earlier
	// registration wins ties (strict > keeps the first).
	bestLen := 0
	for _, r := range tbl.rules {
		kw := strings.ToLower(r.Keyword)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, kw) && len(kw) > bestLen && r.admits(lower) {
			keyword = r.Keyword
			bestLen = len(kw)
		}
	}
	if bestLen > 0 {
		return keyword, true
	}

	// Fuzzy pass: token-level Jaro-Winkler against each keyword.
	if c.fuzzyThreshold <= 0 || c.fuzzyThreshold > 1 {
		return "", false
	}
	bestScore := c.fuzzyThreshold
	for _, tok := range strings.Fields(lower) {
		tok = strings.TrimFunc(tok, unicode.IsPunct)
		if tok == "" {
			continue
		}
		for _, r := range tbl.rules {
			kw := strings.ToLower(r.Keyword)
			if kw == "" {
				continue
			}
			if !r.admits(lower) {
				continue
			}
			if score := matchr.JaroWinkler(tok, kw, false); score >= bestScore {
				// Strict > on subsequent rules keeps registration order as
				// the tie-break.
				if score > bestScore || keyword == "" {
					keyword = r.Keyword
					bestScore = score
				}
			}
		}
	}
	return keyword, keyword != ""
}

// admitSender records a reply to sender and reports whether the sender is
// outside the cooldown window. An empty sender ID is always admitted.
func (c *Classifier) admitSender(sender string) bool {
	if sender == "" || c.senderCooldown <= 0 {
		return true
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, seen := c.lastSeen[sender]; seen && now.Sub(last) < c.senderCooldown {
		return false
	}
	c.lastSeen[sender] = now

	// Opportunistic pruning so the map does not grow with every viewer who
	// ever matched a keyword.
	if len(c.lastSeen) > 4096 {
		for id, ts := range c.lastSeen {
			if now.Sub(ts) >= c.senderCooldown {
				delete(c.lastSeen, id)
			}
		}
	}
	return true
}
