package config

// Config is the full process configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON so both formats go
// through the same strict decoder (unknown fields are rejected).
// Durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets may reference environment variables with ${VAR}.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Session describes the monitored session and the polling loop.
	Session SessionConfig `json:"session"`

	// Source selects and configures the timing data source.
	Source SourceConfig `json:"source"`

	// Message controls notification rendering.
	Message MessageConfig `json:"message"`

	// Sinks configures the posting endpoints. At least one must be
	// enabled.
	Sinks SinksConfig `json:"sinks"`

	// Dispatch controls pacing and retries of outbound posts.
	Dispatch DispatchConfig `json:"dispatch,omitempty"`

	// Storage enables announced-event persistence across restarts.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Metrics enables the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// Pprof enables the runtime profiling endpoint (loopback only).
	Pprof PprofConfig `json:"pprof,omitempty"`

	// Calendar schedules monitor runs; ignored in -once mode.
	Calendar *CalendarConfig `json:"calendar,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type SessionConfig struct {
	// ID is the session identifier understood by the source
	// (OpenF1 session_key, or "latest").
	ID string `json:"id"`
	// Interval is the polling cadence. Default "5s".
	Interval string `json:"interval,omitempty"`
	// MaxDuration is the hard ceiling on one run. Default "4h".
	MaxDuration string `json:"max_duration,omitempty"`
	// FetchRetryMax is the in-cycle retry budget for transient fetch
	// failures. Default 3.
	FetchRetryMax *int `json:"fetch_retry_max,omitempty"`
	// FetchRetryBase seeds the fetch backoff. Default "1s".
	FetchRetryBase string `json:"fetch_retry_base,omitempty"`
	// StopOnChequered ends the run after the chequered flag.
	StopOnChequered bool `json:"stop_on_chequered,omitempty"`
}

type SourceConfig struct {
	// Kind is "openf1" (REST polling, default) or "stream" (websocket
	// push feed).
	Kind   string              `json:"kind,omitempty"`
	OpenF1 *OpenF1SourceConfig `json:"openf1,omitempty"`
	Stream *StreamSourceConfig `json:"stream,omitempty"`
}

type OpenF1SourceConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type StreamSourceConfig struct {
	URL              string `json:"url"`
	Topic            string `json:"topic,omitempty"`
	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	ReconnectDelay   string `json:"reconnect_delay,omitempty"`
	BufferLimit      int    `json:"buffer_limit,omitempty"`
}

type MessageConfig struct {
	// Hashtags is the trailing tag block, e.g. "#F1 #Formula1 #AbuDhabiGP".
	Hashtags string `json:"hashtags,omitempty"`
	// MaxChars overrides the per-post limit. 0 picks the strictest
	// enabled sink's limit (Bluesky: 300).
	MaxChars int `json:"max_chars,omitempty"`
}

type SinksConfig struct {
	Bluesky  *BlueskySinkConfig  `json:"bluesky,omitempty"`
	Telegram *TelegramSinkConfig `json:"telegram,omitempty"`
}

type BlueskySinkConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host,omitempty"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Timeout    string `json:"timeout,omitempty"`
}

type TelegramSinkConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type DispatchConfig struct {
	RatePerSec       int    `json:"rate_per_sec,omitempty"`
	RetryMax         int    `json:"retry_max,omitempty"`
	RetryBase        string `json:"retry_base,omitempty"`
	RetryMaxDelay    string `json:"retry_max_delay,omitempty"`
	RateLimitedDelay string `json:"rate_limited_delay,omitempty"`
	PostTimeout      string `json:"post_timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./f1live.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
}

type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:6060"
}

// CalendarConfig schedules monitor runs for upcoming sessions, the
// in-process counterpart of an external cron trigger.
type CalendarConfig struct {
	Enabled  bool            `json:"enabled"`
	Timezone string          `json:"timezone,omitempty"`
	Entries  []CalendarEntry `json:"entries,omitempty"`
}

// CalendarEntry triggers one session run. Exactly one of Cron or At must
// be set.
type CalendarEntry struct {
	// Session overrides session.id for this run; empty keeps the default.
	Session string `json:"session,omitempty"`
	// Cron is a 5- or 6-field cron spec (seconds optional).
	Cron string `json:"cron,omitempty"`
	// At is an RFC3339 one-shot start time.
	At string `json:"at,omitempty"`
	// MaxDuration overrides session.max_duration for this run.
	MaxDuration string `json:"max_duration,omitempty"`
}
