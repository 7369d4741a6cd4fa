package trigger_test

import (
	"testing"
	"time"

	"github.com/stagecue/stagecue/internal/trigger"
)

func rules(keywords ...string) []trigger.Rule {
	rs := make([]trigger.Rule, 0, len(keywords))
	for _, k := range keywords {
		rs = append(rs, trigger.Rule{Keyword: k})
	}
	return rs
}

func TestSubmitKeywordMatch(t *testing.T) {
	t.Parallel()

	c := trigger.NewClassifier(rules("discount", "shipping"))

	tr, ok := c.Submit(trigger.ChatEvent{Text: "is there a discount today?", SenderID: "u1"})
	if !ok {
		t.Fatal("expected a keyword match")
	}
	if tr.Kind != trigger.KindKeywordMatch {
		t.Errorf("Kind = %v, want KindKeywordMatch", tr.Kind)
	}
	if tr.Keyword != "discount" {
		t.Errorf("Keyword = %q, want %q", tr.Keyword, "discount")
	}
	if tr.Text != "is there a discount today?" {
		t.Errorf("Text = %q, original text not preserved", tr.Text)
	}
}

func TestSubmitNoMatchIsDropNotError(t *testing.T) {
	t.Parallel()

	c := trigger.NewClassifier(rules("discount"))

	if _, ok := c.Submit(trigger.ChatEvent{Text: "hello there"}); ok {
		t.Error("unrelated text should not match")
	}
	if _, ok := c.Submit(trigger.ChatEvent{Text: "   "}); ok {
		t.Error("blank text should not match")
	}
}

func TestLongestMatchWins(t *testing.T) {
	t.Parallel()

	c := trigger.NewClassifier(rules("ship", "shipping cost"))

	tr, ok := c.Submit(trigger.ChatEvent{Text: "what is the shipping cost?"})
	if !ok {
		t.Fatal("expected a match")
	}
	if tr.Keyword != "shipping cost" {
		t.Errorf("Keyword = %q, want the longer rule %q", tr.Keyword, "shipping cost")
	}
}

func TestRegistrationOrderBreaksTies(t *testing.T) {
	t.Parallel()

	// Both keywords are the same length and both appear in the message; the
	// first registered rule must win.
	c := trigger.NewClassifier(rules("blue", "gray"))

	tr, ok := c.Submit(trigger.ChatEvent{Text: "gray or blue?"})
	if !ok {
		t.Fatal("expected a match")
	}
	if tr.Keyword != "blue" {
		t.Errorf("Keyword = %q, want first-registered %q", tr.Keyword, "blue")
	}
}

func TestFuzzyMatchCatchesTypos(t *testing.T) {
	t.Parallel()

	c := trigger.NewClassifier(rules("discount"))

	tr, ok := c.Submit(trigger.ChatEvent{Text: "any discoutn?"})
	if !ok {
		t.Fatal("expected a fuzzy match for a one-letter transposition")
	}
	if tr.Keyword != "discount" {
		t.Errorf("Keyword = %q, want %q", tr.Keyword, "discount")
	}
}

func TestSenderCooldownSuppressesRepeats(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }
	c := trigger.NewClassifier(rules("discount"),
		trigger.WithSenderCooldown(time.Minute),
		trigger.WithClock(clock),
	)

	if _, ok := c.Submit(trigger.ChatEvent{Text: "discount?", SenderID: "u1"}); !ok {
		t.Fatal("first message should match")
	}
	if _, ok := c.Submit(trigger.ChatEvent{Text: "discount?", SenderID: "u1"}); ok {
		t.Error("same sender inside cooldown should be suppressed")
	}
	if _, ok := c.Submit(trigger.ChatEvent{Text: "discount?", SenderID: "u2"}); !ok {
		t.Error("different sender should not be affected by u1's cooldown")
	}

	now = now.Add(61 * time.Second)
	if _, ok := c.Submit(trigger.ChatEvent{Text: "discount?", SenderID: "u1"}); !ok {
		t.Error("sender should be admitted again after the cooldown elapses")
	}
}

func TestReplaceSwapsRuleTable(t *testing.T) {
	t.Parallel()

	c := trigger.NewClassifier(rules("discount"))
	c.Replace(rules("refund"))

	if _, ok := c.Submit(trigger.ChatEvent{Text: "discount?"}); ok {
		t.Error("old rule should be gone after Replace")
	}
	if _, ok := c.Submit(trigger.ChatEvent{Text: "refund please"}); !ok {
		t.Error("new rule should match after Replace")
	}
}

func TestKindPriorityOrdering(t *testing.T) {
	t.Parallel()

	order := []trigger.Kind{
		trigger.KindIdleFiller,
		trigger.KindScheduledBroadcast,
		trigger.KindKeywordMatch,
		trigger.KindManualCommand,
	}
	for i := 1; i < len(order); i++ {
		if order[i].Priority() <= order[i-1].Priority() {
			t.Errorf("%v should outrank %v", order[i], order[i-1])
		}
	}

	if trigger.KindKeywordMatch.Preemptible() {
		t.Error("keyword replies must not be preemptible")
	}
	if trigger.KindManualCommand.Preemptible() {
		t.Error("manual commands must not be preemptible")
	}
	if !trigger.KindIdleFiller.Preemptible() {
		t.Error("filler must be preemptible")
	}
	if !trigger.KindScheduledBroadcast.Preemptible() {
		t.Error("broadcasts must be preemptible")
	}
}

func TestRuleTermListsGateMatches(t *testing.T) {
	t.Parallel()

	c := trigger.NewClassifier([]trigger.Rule{
		{Keyword: "refund", Deny: []string{"no refund"}},
		{Keyword: "size", Must: []string{"stock"}},
		{Keyword: "ship", Any: []string{"when", "how long"}},
	})

	cases := []struct {
		name    string
		text    string
		keyword string
		ok      bool
	}{
		{"deny term suppresses", "so there is no refund?", "", false},
		{"clean text still matches", "can I get a refund?", "refund", true},
		{"must term missing", "what size is it?", "", false},
		{"must term present", "is that size in stock?", "size", true},
		{"any term missing", "you ship overseas?", "", false},
		{"any term present", "when do you ship?", "ship", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr, ok := c.Submit(trigger.ChatEvent{Text: tc.text})
			if ok != tc.ok {
				t.Fatalf("Submit(%q) matched = %v, want %v", tc.text, ok, tc.ok)
			}
			if ok && tr.Keyword != tc.keyword {
				t.Errorf("Keyword = %q, want %q", tr.Keyword, tc.keyword)
			}
		})
	}
}

func TestRuleDenyGatesFuzzyPass(t *testing.T) {
	t.Parallel()

	c := trigger.NewClassifier([]trigger.Rule{
		{Keyword: "discount", Deny: []string{"yesterday"}},
	})

	// The typo would fuzzy-match, but the deny term still suppresses it.
	if _, ok := c.Submit(trigger.ChatEvent{Text: "missed the discoutn yesterday"}); ok {
		t.Error("deny term should suppress the fuzzy match")
	}
	if _, ok := c.Submit(trigger.ChatEvent{Text: "any discoutn today"}); !ok {
		t.Error("typo should fuzzy-match without the deny term")
	}
}
