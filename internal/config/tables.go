package config

import (
	"path/filepath"

	"github.com/stagecue/stagecue/internal/picker"
	"github.com/stagecue/stagecue/internal/response"
	"github.com/stagecue/stagecue/internal/trigger"
)

// Rules converts the configured keyword rules into classifier rules,
// preserving registration order.
func (c *Config) Rules() []trigger.Rule {
	rules := make([]trigger.Rule, 0, len(c.Keywords))
	for _, kw := range c.Keywords {
		rules = append(rules, trigger.Rule{
			Keyword: kw.Keyword,
			Must:    kw.Must,
			Any:     kw.Any,
			Deny:    kw.Deny,
		})
	}
	return rules
}

// Tables converts the configured response pools into picker tables. Relative
// clip paths are resolved against audio.clip_dir and entries without a voice
// inherit tts.voice.
func (c *Config) Tables() picker.Tables {
	t := picker.Tables{
		Keywords:   make(map[string][]response.ResponseSpec, len(c.Keywords)),
		Broadcasts: c.specs(c.Broadcast.Responses),
		Filler:     c.specs(c.Filler.Responses),
		Manual:     make(map[string][]response.ResponseSpec, len(c.Manual)+2),
	}
	for _, kw := range c.Keywords {
		t.Keywords[kw.Keyword] = c.specs(kw.Responses)
	}
	for name, entries := range c.Manual {
		t.Manual[name] = c.specs(entries)
	}

	// Follow/like acknowledgements are addressed as manual groups by the
	// command router.
	if len(c.Acks.Follow) > 0 {
		t.Manual[AckFollowGroup] = c.specs(c.Acks.Follow)
	}
	if len(c.Acks.Like) > 0 {
		t.Manual[AckLikeGroup] = c.specs(c.Acks.Like)
	}
	return t
}

// Reserved manual group names for event acknowledgements.
const (
	AckFollowGroup = "ack:follow"
	AckLikeGroup   = "ack:like"
)

// specs converts a pool of response entries into specs.
func (c *Config) specs(entries []ResponseEntry) []response.ResponseSpec {
	if len(entries) == 0 {
		return nil
	}
	specs := make([]response.ResponseSpec, 0, len(entries))
	for _, e := range entries {
		spec := response.ResponseSpec{
			Clip:   e.Clip,
			Text:   e.Text,
			Weight: e.Weight,
		}
		if spec.Clip != "" && !filepath.IsAbs(spec.Clip) && c.Audio.ClipDir != "" {
			spec.Clip = filepath.Join(c.Audio.ClipDir, spec.Clip)
		}
		if spec.Text != "" {
			spec.VoiceID = e.Voice
			if spec.VoiceID == "" {
				spec.VoiceID = c.TTS.Voice
			}
		}
		specs = append(specs, spec)
	}
	return specs
}
