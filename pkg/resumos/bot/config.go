// Package bot wires the resumos components together: configuration, the
// WhatsApp channel, the message log, the summary pipeline, maintenance jobs
// and the metrics endpoint.
package bot

import (
	"errors"
	"fmt"
	"time"

	"github.com/dnephew1/resumos/pkg/resumos/channels/whatsapp"
	"github.com/dnephew1/resumos/pkg/resumos/database"
	"github.com/dnephew1/resumos/pkg/resumos/llm"
	"github.com/dnephew1/resumos/pkg/resumos/summarizer"
)

// Config is the full bot configuration, usually read from config.yaml.
type Config struct {
	// Name is shown in logs.
	Name string `yaml:"name"`

	// API configures the completion endpoint.
	API llm.Config `yaml:"api"`

	// Summary configures the #resumo command.
	Summary SummaryConfig `yaml:"summary"`

	// Gate decides which chats may request summaries.
	Gate summarizer.Gate `yaml:"gate"`

	// Channels configures communication channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Database configures the SQLite file shared by the session store and
	// the message log.
	Database DatabaseConfig `yaml:"database"`

	// History configures message log retention.
	History HistoryConfig `yaml:"history"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// SummaryConfig configures the summary command.
type SummaryConfig struct {
	// Command is the trigger token (default "#resumo").
	Command string `yaml:"command"`

	// Window is the look-back of the time-window mode.
	Window time.Duration `yaml:"window"`

	// MaxHistory bounds how many messages are read in time-window mode.
	MaxHistory int `yaml:"max_history"`

	// Retention is how long a published summary stays in the chat.
	Retention time.Duration `yaml:"retention"`

	// Template holds the role text and the request lines of the prompt.
	Template summarizer.Template `yaml:"template"`

	// SystemPrompt is sent as the system message of every completion.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxPromptTokens trims the oldest messages to fit. 0 disables it.
	MaxPromptTokens int `yaml:"max_prompt_tokens"`

	// EmptyNotice is replied when there is nothing to summarize. Empty
	// keeps the bot silent.
	EmptyNotice string `yaml:"empty_notice"`
}

// ChannelsConfig configures communication channels.
type ChannelsConfig struct {
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	JournalMode string `yaml:"journal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig configures message log pruning.
type HistoryConfig struct {
	// Retention is how long messages stay in the log.
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is the cron expression of the prune job.
	PruneSchedule string `yaml:"prune_schedule"`
}

// MetricsConfig configures the HTTP endpoint serving /metrics and /healthz.
type MetricsConfig struct {
	// Address to listen on (e.g. ":9090"). Empty disables the endpoint.
	Address string `yaml:"address"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" (default) or "text".
	Format string `yaml:"format"`

	// File adds a rotating log file next to stdout.
	File string `yaml:"file"`

	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	wa := whatsapp.DefaultConfig()
	wa.DatabasePath = ""

	return &Config{
		Name: "Resumos",
		API: llm.Config{
			Model:      llm.DefaultModel,
			Timeout:    summarizer.DefaultCompletionTimeout,
			MaxRetries: llm.DefaultMaxRetries,
		},
		Summary: SummaryConfig{
			Command:         summarizer.DefaultCommand,
			Window:          summarizer.DefaultWindow,
			MaxHistory:      summarizer.DefaultMaxHistory,
			Retention:       summarizer.DefaultRetention,
			Template:        summarizer.DefaultTemplate(),
			SystemPrompt:    summarizer.DefaultSystemPrompt,
			MaxPromptTokens: summarizer.DefaultMaxPromptTokens,
		},
		Gate: summarizer.DefaultGate(),
		Channels: ChannelsConfig{
			WhatsApp: wa,
		},
		Database: DatabaseConfig{
			Path:        "./data/resumos.db",
			JournalMode: "WAL",
			BusyTimeout: 5000,
		},
		History: HistoryConfig{
			Retention:     72 * time.Hour,
			PruneSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// applyDefaults fills derived values after parsing.
func (c *Config) applyDefaults() {
	if c.Channels.WhatsApp.DatabasePath == "" {
		c.Channels.WhatsApp.DatabasePath = c.Database.Path
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Gate.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Summary.Window <= 0 {
		errs = append(errs, fmt.Errorf("summary.window must be positive, got %s", c.Summary.Window))
	}
	if c.Summary.Retention <= 0 {
		errs = append(errs, fmt.Errorf("summary.retention must be positive, got %s", c.Summary.Retention))
	}
	if c.Summary.MaxHistory <= 0 {
		errs = append(errs, fmt.Errorf("summary.max_history must be positive, got %d", c.Summary.MaxHistory))
	}
	if c.Summary.MaxPromptTokens < 0 {
		errs = append(errs, fmt.Errorf("summary.max_prompt_tokens must not be negative, got %d", c.Summary.MaxPromptTokens))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout))
	}
	if c.API.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("api.max_retries must not be negative, got %d", c.API.MaxRetries))
	}
	if c.History.Retention <= 0 {
		errs = append(errs, fmt.Errorf("history.retention must be positive, got %s", c.History.Retention))
	}
	// The log must outlive the widest time window or summaries lose messages.
	if c.History.Retention > 0 && c.History.Retention < c.Summary.Window {
		errs = append(errs, fmt.Errorf("history.retention (%s) is shorter than summary.window (%s)", c.History.Retention, c.Summary.Window))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SummarizerConfig maps the configuration onto the pipeline settings.
func (c *Config) SummarizerConfig() summarizer.Config {
	return summarizer.Config{
		Command: c.Summary.Command,
		Window: summarizer.WindowPolicy{
			Window:     c.Summary.Window,
			MaxHistory: c.Summary.MaxHistory,
		},
		Template: c.Summary.Template,
		Dispatch: summarizer.DispatchConfig{
			Model:        c.API.Model,
			SystemPrompt: c.Summary.SystemPrompt,
			Timeout:      c.API.Timeout,
		},
		Retention:       c.Summary.Retention,
		Gate:            c.Gate,
		MaxPromptTokens: c.Summary.MaxPromptTokens,
		EmptyNotice:     c.Summary.EmptyNotice,
	}
}

// SQLiteConfig maps the database section onto the backend settings.
func (c *Config) SQLiteConfig() database.SQLiteConfig {
	return database.SQLiteConfig{
		Path:        c.Database.Path,
		JournalMode: c.Database.JournalMode,
		BusyTimeout: c.Database.BusyTimeout,
	}
}
