package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Portal    PortalConfig    `json:"portal"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the single chat the bot serves. Updates from any other
	// chat are dropped.
	ChatID int64 `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
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

// PortalConfig points at the external helper that talks to the attendance
// portal.
type PortalConfig struct {
	Command string `json:"command"`
	// Timeout is a Go duration string; how long one helper run may take.
	Timeout string `json:"timeout,omitempty"`
}

// SchedulerConfig controls the daily question and the auto checkout pairing.
type SchedulerConfig struct {
	// Timezone is the civil zone all clock times are interpreted in.
	Timezone string `json:"timezone,omitempty"`
	// QuestionTime is "HH:MM", the daily question slot on working days.
	QuestionTime string `json:"question_time,omitempty"`

	// AutoCheckoutDelayMinutes is how long after a confirmed entrada the
	// paired salida fires. 0 disables auto checkout.
	AutoCheckoutDelayMinutes int `json:"auto_checkout_delay_minutes,omitempty"`
	// AutoCheckoutRandomOffsetMinutes spreads the salida by a random
	// whole number of minutes in [-offset, +offset].
	AutoCheckoutRandomOffsetMinutes int `json:"auto_checkout_random_offset_minutes,omitempty"`

	MaxReminders            int `json:"max_reminders,omitempty"`
	ReminderIntervalMinutes int `json:"reminder_interval_minutes,omitempty"`

	// ScheduleFile is the path of the pending-marks snapshot.
	ScheduleFile string `json:"schedule_file,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	defaultTimezone         = "Europe/Madrid"
	defaultQuestionTime     = "09:00"
	defaultCheckoutDelayMin = 420
	defaultCheckoutOffset   = 3
	defaultMaxReminders     = 3
	defaultReminderInterval = 5
	defaultScheduleFile     = ".schedule.data"
	defaultPollTimeout      = "10s"
)

// Normalize fills the optional fields with their defaults. It mutates the
// receiver and is idempotent.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = defaultPollTimeout
	}
	s := &c.Scheduler
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = defaultTimezone
	}
	if strings.TrimSpace(s.QuestionTime) == "" {
		s.QuestionTime = defaultQuestionTime
	}
	if s.AutoCheckoutDelayMinutes == 0 {
		s.AutoCheckoutDelayMinutes = defaultCheckoutDelayMin
	}
	if s.AutoCheckoutRandomOffsetMinutes == 0 {
		s.AutoCheckoutRandomOffsetMinutes = defaultCheckoutOffset
	}
	if s.MaxReminders == 0 {
		s.MaxReminders = defaultMaxReminders
	}
	if s.ReminderIntervalMinutes == 0 {
		s.ReminderIntervalMinutes = defaultReminderInterval
	}
	if strings.TrimSpace(s.ScheduleFile) == "" {
		s.ScheduleFile = defaultScheduleFile
	}
}

// Validate checks a normalized config. It reports the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(c.Portal.Command) == "" {
		return errors.New("portal.command is required")
	}
	if _, err := ParseDurationField("portal.timeout", c.Portal.Timeout); err != nil {
		return err
	}

	s := c.Scheduler
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if _, _, err := ParseClockField("scheduler.question_time", s.QuestionTime); err != nil {
		return err
	}
	if s.AutoCheckoutDelayMinutes < 0 {
		return errors.New("scheduler.auto_checkout_delay_minutes must be >= 0")
	}
	if s.AutoCheckoutRandomOffsetMinutes < 0 {
		return errors.New("scheduler.auto_checkout_random_offset_minutes must be >= 0")
	}
	if s.MaxReminders < 0 {
		return errors.New("scheduler.max_reminders must be >= 0")
	}
	if s.ReminderIntervalMinutes <= 0 {
		return errors.New("scheduler.reminder_interval_minutes must be > 0")
	}

	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Location loads the configured timezone. Call after Validate.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.Timezone)
}

// QuestionClock returns the daily question slot. Call after Validate.
func (c *Config) QuestionClock() (hour, min int) {
	hour, min, _ = ParseClockField("scheduler.question_time", c.Scheduler.QuestionTime)
	return hour, min
}
