package config

type Config struct {
	Telegram    Telegram    `json:"telegram"`
	Storage     Storage     `json:"storage"`
	Video       Video       `json:"video"`
	Logging     Logging     `json:"logging"`
	Debug       Debug       `json:"debug"`
	Maintenance Maintenance `json:"maintenance"`
}

type Telegram struct {
	Token string `json:"token"`
	// ChatID is the moderated group.
	ChatID int64 `json:"chat_id"`
	// ModeratorIDs may use the grant commands.
	ModeratorIDs []int64 `json:"moderator_ids"`
	// LogChatID receives the telegram log sink, if enabled.
	LogChatID int64 `json:"log_chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
}

type Storage struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	DSN    string `json:"dsn,omitempty"`
	// BusyTimeout is a Go duration string; sqlite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type Video struct {
	// DefaultDuration applies when /stream is called without one.
	DefaultDuration string `json:"default_duration"`
	// MaxDuration caps moderator-supplied durations; empty or "0s" disables.
	MaxDuration string `json:"max_duration,omitempty"`
	// FireTimeout bounds one revocation API call.
	FireTimeout string `json:"fire_timeout,omitempty"`
}

type Logging struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type Debug struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

type Maintenance struct {
	// GCInterval schedules storage garbage collection ("@every 10m" or cron).
	GCInterval string `json:"gc_interval,omitempty"`
	// AuditSchedule schedules the ghost-record audit (cron spec).
	AuditSchedule string `json:"audit_schedule,omitempty"`
}
