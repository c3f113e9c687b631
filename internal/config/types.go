package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the daemon's YAML configuration.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Logging     LoggingConfig     `yaml:"logging"`
	Storage     *StorageConfig    `yaml:"storage,omitempty"`
	Network     *NetworkConfig    `yaml:"network,omitempty"`
	Debug       *DebugConfig      `yaml:"debug,omitempty"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	Objects   []ObjectSpec   `yaml:"objects,omitempty"`
	Calendars []CalendarSpec `yaml:"calendars,omitempty"`
	Schedules []ScheduleSpec `yaml:"schedules"`
}

type DeviceConfig struct {
	Instance uint32 `yaml:"instance"`
}

type LoggingConfig struct {
	Level   string `yaml:"level,omitempty"`
	Console bool   `yaml:"console"`
	File    struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"file,omitempty"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path,omitempty"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"`
}

type NetworkConfig struct {
	RatePerSec int    `yaml:"rate_per_sec,omitempty"`
	Burst      int    `yaml:"burst,omitempty"`
	Latency    string `yaml:"latency,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
}

// DebugConfig controls the optional pprof/status HTTP server.
type DebugConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr,omitempty"`
	Token         string `yaml:"token,omitempty"`
	AllowInsecure bool   `yaml:"allow_insecure,omitempty"`
}

// MaintenanceConfig drives the app-level cron jobs.
type MaintenanceConfig struct {
	// PruneSpec is a cron expression (robfig/cron, descriptors allowed).
	// Empty disables pruning.
	PruneSpec string `yaml:"prune_spec,omitempty"`
	// Retention is how long dispatch/history entries are kept.
	Retention string `yaml:"retention,omitempty"`
}

// ObjectSpec declares a plain local value object, usually a schedule target.
type ObjectSpec struct {
	ID       string     `yaml:"id"` // "analog-value:1"
	Name     string     `yaml:"name"`
	Initial  *ValueSpec `yaml:"initial"`
	Writable bool       `yaml:"writable"`
}

// CalendarSpec declares a calendar object.
type CalendarSpec struct {
	Instance uint32      `yaml:"instance"`
	Name     string      `yaml:"name"`
	Entries  []EntrySpec `yaml:"entries"`
}

// ScheduleSpec declares one schedule entity.
type ScheduleSpec struct {
	Instance     uint32     `yaml:"instance"`
	Name         string     `yaml:"name"`
	Default      *ValueSpec `yaml:"default"`
	Priority     int        `yaml:"priority,omitempty"`
	OutOfService bool       `yaml:"out_of_service,omitempty"`

	Effective struct {
		Start string `yaml:"start,omitempty"` // "YYYY-MM-DD", empty = open
		End   string `yaml:"end,omitempty"`
	} `yaml:"effective,omitempty"`

	// Weekly maps weekday names to their time-value lists. Present but empty
	// days are allowed; omit the whole block for an exception-only schedule.
	Weekly map[string][]TimeValueSpec `yaml:"weekly,omitempty"`

	Exceptions []ExceptionSpec `yaml:"exceptions,omitempty"`

	Targets []TargetSpec `yaml:"targets"`

	// Failsafe enables the periodic re-push writer.
	Failsafe *FailsafeSpec `yaml:"failsafe,omitempty"`
}

type FailsafeSpec struct {
	Delay  string `yaml:"delay,omitempty"`
	Period string `yaml:"period"`
}

type ExceptionSpec struct {
	// Exactly one of Calendar (instance of a calendar object) or a dated
	// entry (Date/Range/WeekNDay fields of EntrySpec) must be set.
	Calendar *uint32 `yaml:"calendar,omitempty"`
	EntrySpec `yaml:",inline"`

	Priority int             `yaml:"priority"`
	Entries  []TimeValueSpec `yaml:"entries"`
}

// EntrySpec is one dated pattern.
type EntrySpec struct {
	// Date is "YYYY-MM-DD" where any part may be "*". An optional Weekday
	// (1=Monday..7=Sunday) constrains it further.
	Date    string `yaml:"date,omitempty"`
	Weekday int    `yaml:"weekday,omitempty"`

	Range *struct {
		Start string `yaml:"start,omitempty"`
		End   string `yaml:"end,omitempty"`
	} `yaml:"range,omitempty"`

	WeekNDay *struct {
		Month   int `yaml:"month,omitempty"`
		Week    int `yaml:"week,omitempty"`
		Weekday int `yaml:"weekday,omitempty"`
	} `yaml:"week_n_day,omitempty"`
}

type TimeValueSpec struct {
	At    string     `yaml:"at"` // "HH:MM" or "HH:MM:SS"
	Value *ValueSpec `yaml:"value"`
}

// ValueSpec is a tagged primitive value; exactly one field is set.
// `null: true` yields an explicit Null.
type ValueSpec struct {
	Null     *bool    `yaml:"null,omitempty"`
	Bool     *bool    `yaml:"bool,omitempty"`
	Unsigned *uint64  `yaml:"unsigned,omitempty"`
	Signed   *int64   `yaml:"signed,omitempty"`
	Real     *float64 `yaml:"real,omitempty"`
	Enum     *uint32  `yaml:"enum,omitempty"`
	Text     *string  `yaml:"text,omitempty"`
}

type TargetSpec struct {
	Device   *uint32 `yaml:"device,omitempty"` // omitted = local
	Object   string  `yaml:"object"`           // "analog-value:1"
	Property string  `yaml:"property"`         // "present-value"
	Index    *uint32 `yaml:"index,omitempty"`
}

// ---- small field parsers ----

// ParseDuration parses an optional duration field. Empty means zero;
// negative durations are rejected.
func ParseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDuration with a fallback for fields left
// empty or set to zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
