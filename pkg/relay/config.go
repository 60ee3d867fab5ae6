// Copyright 2024-2026 Aiku AI

package relay

import (
	_ "embed"
	"errors"
	"fmt"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/filerelay/pkg/botsession"
	"github.com/aiku/filerelay/pkg/store"
)

//go:embed example-config.yaml
var ExampleConfig string

// Seconds is a duration written as a whole number of seconds.
type Seconds int

func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

type BotsConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

type SessionConfig struct {
	SendPause       Seconds `yaml:"send_pause"`
	ClickRetryDelay Seconds `yaml:"click_retry_delay"`
	ClickScanLimit  int     `yaml:"click_scan_limit"`
	FloodAttempts   int     `yaml:"flood_attempts"`
}

type ParsingConfig struct {
	SearchText        string  `yaml:"search_text"`
	ShowPresetPayload string  `yaml:"show_preset_payload"`
	RunPresetPayload  string  `yaml:"run_preset_payload"`
	ClickAttempts     int     `yaml:"click_attempts"`
	StepDelay         Seconds `yaml:"step_delay"`
	LaunchDelay       Seconds `yaml:"launch_delay"`
	FileScanLimit     int     `yaml:"file_scan_limit"`
	FilePollInterval  Seconds `yaml:"file_poll_interval"`
	FileTimeout       Seconds `yaml:"file_timeout"`
}

type ForwardingConfig struct {
	MaxRetries      int     `yaml:"max_retries"`
	SettleDelay     Seconds `yaml:"settle_delay"`
	RetryDelay      Seconds `yaml:"retry_delay"`
	SecondLookDelay Seconds `yaml:"second_look_delay"`
	ReplyScanLimit  int     `yaml:"reply_scan_limit"`
	// AssumeAcceptedWithoutReply counts a forward as delivered when the
	// consumer neither accepts nor reports a timeout.
	AssumeAcceptedWithoutReply bool `yaml:"assume_accepted_without_reply"`
}

type WatchdogConfig struct {
	CommandInterval    Seconds `yaml:"command_interval"`
	RetryInterval      Seconds `yaml:"retry_interval"`
	CompletionInterval Seconds `yaml:"completion_interval"`
	ErrorBackoff       Seconds `yaml:"error_backoff"`
	RetryFlagTTL       Seconds `yaml:"retry_flag_ttl"`
	ResendSettle       Seconds `yaml:"resend_settle"`
	MonitorScanLimit   int     `yaml:"monitor_scan_limit"`
	GateOnMailing      bool    `yaml:"gate_on_mailing"`

	MalformedCommandGrace Seconds `yaml:"malformed_command_grace"`
}

type StartupConfig struct {
	RestoreQueue     bool `yaml:"restore_queue"`
	RestoreScanLimit int  `yaml:"restore_scan_limit"`
	AutostartParsing bool `yaml:"autostart_parsing"`
}

// Config is the relay configuration file.
type Config struct {
	Mattermost botsession.Credentials `yaml:"mattermost"`
	Bots       BotsConfig             `yaml:"bots"`
	OperatorID int64                  `yaml:"operator_id"`
	Store      store.Config           `yaml:"store"`
	Session    SessionConfig          `yaml:"session"`
	Parsing    ParsingConfig          `yaml:"parsing"`
	Forwarding ForwardingConfig       `yaml:"forwarding"`
	Watchdog   WatchdogConfig         `yaml:"watchdog"`
	Startup    StartupConfig          `yaml:"startup"`
	Signals    botsession.Patterns    `yaml:"signals"`
	Logging    zeroconfig.Config      `yaml:"logging"`

	observer *botsession.PatternObserver `yaml:"-"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the config and compiles the signal patterns.
func (c *Config) PostProcess() error {
	var errs []error
	if c.Bots.Source == "" || c.Bots.Target == "" {
		errs = append(errs, errors.New("bots.source and bots.target are required"))
	} else if c.Bots.Source == c.Bots.Target {
		errs = append(errs, errors.New("bots.source and bots.target must differ"))
	}
	if c.Parsing.SearchText == "" || c.Parsing.RunPresetPayload == "" {
		errs = append(errs, errors.New("parsing.search_text and parsing.run_preset_payload are required"))
	}
	if c.Forwarding.MaxRetries <= 0 {
		errs = append(errs, errors.New("forwarding.max_retries must be positive"))
	}
	if c.Parsing.FileTimeout <= 0 {
		errs = append(errs, errors.New("parsing.file_timeout must be positive"))
	}
	for name, interval := range map[string]Seconds{
		"watchdog.command_interval":    c.Watchdog.CommandInterval,
		"watchdog.retry_interval":      c.Watchdog.RetryInterval,
		"watchdog.completion_interval": c.Watchdog.CompletionInterval,
	} {
		if interval <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	var err error
	if c.observer, err = botsession.NewPatternObserver(c.Signals); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Observer returns the compiled reply classifier.
func (c *Config) Observer() *botsession.PatternObserver {
	return c.observer
}

// SessionTimings converts the session block for the bot facade.
func (c *Config) SessionTimings() botsession.Timings {
	return botsession.Timings{
		SendPause:       c.Session.SendPause.Duration(),
		ClickRetryDelay: c.Session.ClickRetryDelay.Duration(),
		ClickScanLimit:  c.Session.ClickScanLimit,
		FloodAttempts:   c.Session.FloodAttempts,
	}
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "username")
	helper.Copy(up.Str, "mattermost", "password")

	helper.Copy(up.Str, "bots", "source")
	helper.Copy(up.Str, "bots", "target")
	helper.Copy(up.Int, "operator_id")

	helper.Copy(up.Str, "store", "type")
	helper.Copy(up.Str, "store", "directory")
	helper.Copy(up.Str, "store", "redis_url")
	helper.Copy(up.Str, "store", "key_prefix")

	helper.Copy(up.Int, "session", "send_pause")
	helper.Copy(up.Int, "session", "click_retry_delay")
	helper.Copy(up.Int, "session", "click_scan_limit")
	helper.Copy(up.Int, "session", "flood_attempts")

	helper.Copy(up.Str, "parsing", "search_text")
	helper.Copy(up.Str, "parsing", "show_preset_payload")
	helper.Copy(up.Str, "parsing", "run_preset_payload")
	helper.Copy(up.Int, "parsing", "click_attempts")
	helper.Copy(up.Int, "parsing", "step_delay")
	helper.Copy(up.Int, "parsing", "launch_delay")
	helper.Copy(up.Int, "parsing", "file_scan_limit")
	helper.Copy(up.Int, "parsing", "file_poll_interval")
	helper.Copy(up.Int, "parsing", "file_timeout")

	helper.Copy(up.Int, "forwarding", "max_retries")
	helper.Copy(up.Int, "forwarding", "settle_delay")
	helper.Copy(up.Int, "forwarding", "retry_delay")
	helper.Copy(up.Int, "forwarding", "second_look_delay")
	helper.Copy(up.Int, "forwarding", "reply_scan_limit")
	helper.Copy(up.Bool, "forwarding", "assume_accepted_without_reply")

	helper.Copy(up.Int, "watchdog", "command_interval")
	helper.Copy(up.Int, "watchdog", "retry_interval")
	helper.Copy(up.Int, "watchdog", "completion_interval")
	helper.Copy(up.Int, "watchdog", "error_backoff")
	helper.Copy(up.Int, "watchdog", "retry_flag_ttl")
	helper.Copy(up.Int, "watchdog", "resend_settle")
	helper.Copy(up.Int, "watchdog", "monitor_scan_limit")
	helper.Copy(up.Bool, "watchdog", "gate_on_mailing")
	helper.Copy(up.Int, "watchdog", "malformed_command_grace")

	helper.Copy(up.Bool, "startup", "restore_queue")
	helper.Copy(up.Int, "startup", "restore_scan_limit")
	helper.Copy(up.Bool, "startup", "autostart_parsing")

	helper.Copy(up.List, "signals", "acceptance")
	helper.Copy(up.List, "signals", "timeout")
	helper.Copy(up.List, "signals", "completion")
	helper.Copy(up.List, "signals", "selection_in_progress")

	helper.Copy(up.Map, "logging")
}

var spacedBlocks = [][]string{
	{"bots"},
	{"operator_id"},
	{"store"},
	{"session"},
	{"parsing"},
	{"forwarding"},
	{"watchdog"},
	{"startup"},
	{"signals"},
	{"logging"},
}

func configUpgrader() *up.StructUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         spacedBlocks,
		Base:           ExampleConfig,
	}
}

// ParseConfig decodes and post-processes a complete config document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads the config file at path, fills in options missing from it
// with the example values and optionally writes the merged result back.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, configUpgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}
