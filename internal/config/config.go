// Package config provides the configuration schema, loader, and hot-reload
// watcher for the stagecue dispatch pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values can be written as "400ms" or
// "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader] and hot-reloaded by [Watcher].
type Config struct {
	Server    ServerConfig               `yaml:"server"`
	Audio     AudioConfig                `yaml:"audio"`
	TTS       TTSConfig                  `yaml:"tts"`
	Rewrite   RewriteConfig              `yaml:"rewrite"`
	Archive   ArchiveConfig              `yaml:"archive"`
	Scheduler SchedulerConfig            `yaml:"scheduler"`
	Broadcast BroadcastConfig            `yaml:"broadcast"`
	Filler    FillerConfig               `yaml:"filler"`
	Keywords  []KeywordRule              `yaml:"keywords"`
	Manual    map[string][]ResponseEntry `yaml:"manual"`
	Acks      AcksConfig                 `yaml:"acks"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving the WebSocket ingest endpoint
	// (/ws), health probes (/healthz, /readyz), and metrics (/metrics).
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the output device format. Prerecorded clips and
// synthesized audio must match this format.
type AudioConfig struct {
	// SampleRate in Hz. Defaults to 24000, the native rate of the default
	// synthesis provider.
	SampleRate int `yaml:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo. Defaults to 1.
	Channels int `yaml:"channels"`

	// ClipDir is prepended to relative clip paths in response entries.
	ClipDir string `yaml:"clip_dir"`
}

// TTSProviderEntry configures one speech-synthesis backend.
type TTSProviderEntry struct {
	// Name selects the implementation: "openai" or "local".
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, when required.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Required for
	// "local" (the address of the local synthesis server).
	BaseURL string `yaml:"base_url"`

	// Model selects a provider-specific model (e.g. "gpt-4o-mini-tts").
	Model string `yaml:"model"`
}

// TTSConfig holds speech-synthesis settings. Providers lists backends in
// fallback order: the first is primary, later entries are tried when earlier
// ones fail or their circuit breaker is open.
type TTSConfig struct {
	Providers []TTSProviderEntry `yaml:"providers"`

	// Voice is the default voice ID for synthesized responses that do not
	// set one.
	Voice string `yaml:"voice"`

	// Timeout bounds a single synthesis call. Default 15s.
	Timeout Duration `yaml:"timeout"`

	// Workers is the size of the synthesis worker pool. Default 2.
	Workers int `yaml:"workers"`

	// CacheEntries caps the in-memory artifact cache. Default 256.
	CacheEntries int `yaml:"cache_entries"`
}

// RewriteConfig configures the optional LLM reply rewriter. Leaving Provider
// empty disables rewriting.
type RewriteConfig struct {
	// Provider is an any-llm provider name ("openai", "ollama", ...).
	Provider string `yaml:"provider"`

	// Model is the model identifier (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single rewrite call. Default 5s; on timeout the
	// original text is synthesized unchanged.
	Timeout Duration `yaml:"timeout"`
}

// ArchiveConfig configures the optional Postgres event archive. An empty DSN
// disables archiving.
type ArchiveConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SchedulerConfig holds the dispatch-loop tuning knobs.
type SchedulerConfig struct {
	// Cooldown is the refractory period after normal playback before the
	// next job may start. Default 400ms.
	Cooldown Duration `yaml:"cooldown"`

	// KeywordStaleness drops queued keyword replies older than this before
	// activation; also applied to queued jobs on unmute. Default 30s.
	KeywordStaleness Duration `yaml:"keyword_staleness"`

	// MinIdle is how long the loop must be idle before filler plays.
	// Default 20s.
	MinIdle Duration `yaml:"min_idle"`

	// StopDeadline bounds preemption: the time from a preemption decision
	// to the device hard-stop. Default 200ms.
	StopDeadline Duration `yaml:"stop_deadline"`

	// SenderCooldown suppresses repeat keyword replies to one viewer.
	// Default 60s.
	SenderCooldown Duration `yaml:"sender_cooldown"`

	// AckCooldown rate-limits follow/like acknowledgements. Default 5m.
	AckCooldown Duration `yaml:"ack_cooldown"`
}

// ResponseEntry is one selectable response in a keyword, broadcast, filler,
// manual, or ack pool.
type ResponseEntry struct {
	// Clip is a path to a prerecorded WAV file, optionally relative to
	// audio.clip_dir. Mutually exclusive with Text.
	Clip string `yaml:"clip"`

	// Text is synthesized at play time. Mutually exclusive with Clip.
	Text string `yaml:"text"`

	// Voice overrides tts.voice for this entry.
	Voice string `yaml:"voice"`

	// Weight biases random selection. Zero means 1.
	Weight int `yaml:"weight"`
}

// KeywordRule binds a chat keyword to its response pool. Rule order is
// significant: earlier rules win length ties during classification.
type KeywordRule struct {
	Keyword   string          `yaml:"keyword"`
	Responses []ResponseEntry `yaml:"responses"`

	// Must lists terms that all have to appear alongside the keyword.
	Must []string `yaml:"must"`

	// Any lists terms of which at least one has to appear, when non-empty.
	Any []string `yaml:"any"`

	// Deny lists terms that suppress the rule when any appears.
	Deny []string `yaml:"deny"`
}

// BroadcastConfig holds the scheduled-announcement rotation.
type BroadcastConfig struct {
	// Interval between scheduled broadcasts. Zero disables the timer.
	Interval Duration `yaml:"interval"`

	Responses []ResponseEntry `yaml:"responses"`
}

// FillerConfig holds the idle chatter pool.
type FillerConfig struct {
	// Poll is how often the idle timer checks whether filler should play.
	// Default 3s.
	Poll Duration `yaml:"poll"`

	Responses []ResponseEntry `yaml:"responses"`
}

// AcksConfig holds follow/like acknowledgement pools.
type AcksConfig struct {
	Follow []ResponseEntry `yaml:"follow"`
	Like   []ResponseEntry `yaml:"like"`
}
