package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidTTSProviders lists the known speech-synthesis provider names. Used by
// [Validate] to reject typos early.
var ValidTTSProviders = []string{"openai", "local"}

// Defaults applied by [Validate] when fields are unset.
const (
	DefaultSampleRate       = 24000
	DefaultChannels         = 1
	DefaultTTSTimeout       = 15 * time.Second
	DefaultTTSWorkers       = 2
	DefaultCacheEntries     = 256
	DefaultRewriteTimeout   = 5 * time.Second
	DefaultCooldown         = 400 * time.Millisecond
	DefaultKeywordStaleness = 30 * time.Second
	DefaultMinIdle          = 20 * time.Second
	DefaultStopDeadline     = 200 * time.Millisecond
	DefaultSenderCooldown   = 60 * time.Second
	DefaultAckCooldown      = 5 * time.Minute
	DefaultFillerPoll       = 3 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. ${VAR} references are expanded from the environment
// before decoding, so secrets like API keys can stay out of the file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for unset fields. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	} else if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	} else if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}

	// TTS
	for i, p := range cfg.TTS.Providers {
		prefix := fmt.Sprintf("tts.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if !slices.Contains(ValidTTSProviders, p.Name) {
			errs = append(errs, fmt.Errorf("%s.name %q is invalid; valid values: openai, local", prefix, p.Name))
		}
		if p.Name == "local" && p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required when name is local", prefix))
		}
	}
	if cfg.TTS.Timeout <= 0 {
		cfg.TTS.Timeout = Duration(DefaultTTSTimeout)
	}
	if cfg.TTS.Workers <= 0 {
		cfg.TTS.Workers = DefaultTTSWorkers
	}
	if cfg.TTS.CacheEntries <= 0 {
		cfg.TTS.CacheEntries = DefaultCacheEntries
	}

	// Rewrite
	if cfg.Rewrite.Provider != "" && cfg.Rewrite.Model == "" {
		errs = append(errs, errors.New("rewrite.model is required when rewrite.provider is set"))
	}
	if cfg.Rewrite.Timeout <= 0 {
		cfg.Rewrite.Timeout = Duration(DefaultRewriteTimeout)
	}

	// Scheduler
	applyDefault(&cfg.Scheduler.Cooldown, DefaultCooldown)
	applyDefault(&cfg.Scheduler.KeywordStaleness, DefaultKeywordStaleness)
	applyDefault(&cfg.Scheduler.MinIdle, DefaultMinIdle)
	applyDefault(&cfg.Scheduler.StopDeadline, DefaultStopDeadline)
	applyDefault(&cfg.Scheduler.SenderCooldown, DefaultSenderCooldown)
	applyDefault(&cfg.Scheduler.AckCooldown, DefaultAckCooldown)
	applyDefault(&cfg.Filler.Poll, DefaultFillerPoll)

	// Response pools
	keywordsSeen := make(map[string]int, len(cfg.Keywords))
	for i, rule := range cfg.Keywords {
		prefix := fmt.Sprintf("keywords[%d]", i)
		if rule.Keyword == "" {
			errs = append(errs, fmt.Errorf("%s.keyword is required", prefix))
		} else if prev, ok := keywordsSeen[rule.Keyword]; ok {
			errs = append(errs, fmt.Errorf("%s.keyword %q is a duplicate of keywords[%d]", prefix, rule.Keyword, prev))
		} else {
			keywordsSeen[rule.Keyword] = i
		}
		if len(rule.Responses) == 0 {
			errs = append(errs, fmt.Errorf("%s.responses must not be empty", prefix))
		}
		errs = append(errs, validateEntries(prefix+".responses", rule.Responses)...)
	}
	errs = append(errs, validateEntries("broadcast.responses", cfg.Broadcast.Responses)...)
	errs = append(errs, validateEntries("filler.responses", cfg.Filler.Responses)...)
	errs = append(errs, validateEntries("acks.follow", cfg.Acks.Follow)...)
	errs = append(errs, validateEntries("acks.like", cfg.Acks.Like)...)
	for name, entries := range cfg.Manual {
		errs = append(errs, validateEntries(fmt.Sprintf("manual[%q]", name), entries)...)
	}

	// Availability warnings — configuration gaps surface at trigger time as
	// NoCandidatesError, so flag them up front too.
	if len(cfg.Keywords) == 0 {
		slog.Warn("no keyword rules configured; chat messages will never trigger audio")
	}
	if cfg.Broadcast.Interval > 0 && len(cfg.Broadcast.Responses) == 0 {
		slog.Warn("broadcast.interval is set but broadcast.responses is empty")
	}
	if synthesisNeeded(cfg) && len(cfg.TTS.Providers) == 0 {
		errs = append(errs, errors.New("tts.providers is required because at least one response entry uses text synthesis"))
	}

	return errors.Join(errs...)
}

// validateEntries checks each entry sets exactly one of clip or text.
func validateEntries(prefix string, entries []ResponseEntry) []error {
	var errs []error
	for i, e := range entries {
		switch {
		case e.Clip == "" && e.Text == "":
			errs = append(errs, fmt.Errorf("%s[%d] must set clip or text", prefix, i))
		case e.Clip != "" && e.Text != "":
			errs = append(errs, fmt.Errorf("%s[%d] must not set both clip and text", prefix, i))
		}
		if e.Weight < 0 {
			errs = append(errs, fmt.Errorf("%s[%d].weight must not be negative", prefix, i))
		}
	}
	return errs
}

// synthesisNeeded reports whether any configured response entry requires TTS.
func synthesisNeeded(cfg *Config) bool {
	pools := [][]ResponseEntry{
		cfg.Broadcast.Responses, cfg.Filler.Responses,
		cfg.Acks.Follow, cfg.Acks.Like,
	}
	for _, rule := range cfg.Keywords {
		pools = append(pools, rule.Responses)
	}
	for _, entries := range cfg.Manual {
		pools = append(pools, entries)
	}
	for _, pool := range pools {
		for _, e := range pool {
			if e.Text != "" {
				return true
			}
		}
	}
	return false
}

func applyDefault(d *Duration, def time.Duration) {
	if *d <= 0 {
		*d = Duration(def)
	}
}
