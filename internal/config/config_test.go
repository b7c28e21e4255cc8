package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalJSON = `{
  "telegram": {"token": "123:abc", "chat_id": 4242},
  "portal": {"command": "/usr/local/bin/fichar"}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}

	s := cfg.Scheduler
	if s.Timezone != "Europe/Madrid" {
		t.Errorf("timezone: %q", s.Timezone)
	}
	if s.QuestionTime != "09:00" {
		t.Errorf("question_time: %q", s.QuestionTime)
	}
	if s.AutoCheckoutDelayMinutes != 420 {
		t.Errorf("delay: %d", s.AutoCheckoutDelayMinutes)
	}
	if s.AutoCheckoutRandomOffsetMinutes != 3 {
		t.Errorf("offset: %d", s.AutoCheckoutRandomOffsetMinutes)
	}
	if s.MaxReminders != 3 || s.ReminderIntervalMinutes != 5 {
		t.Errorf("reminders: %d every %dm", s.MaxReminders, s.ReminderIntervalMinutes)
	}
	if s.ScheduleFile != ".schedule.data" {
		t.Errorf("schedule_file: %q", s.ScheduleFile)
	}
	if cfg.Telegram.PollTimeout != "10s" {
		t.Errorf("poll_timeout: %q", cfg.Telegram.PollTimeout)
	}

	h, min := cfg.QuestionClock()
	if h != 9 || min != 0 {
		t.Errorf("question clock: %02d:%02d", h, min)
	}
	if m.Get() == nil {
		t.Error("Get returned nil after Load")
	}
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  chat_id: 4242
portal:
  command: /usr/local/bin/fichar
scheduler:
  question_time: "08:30"
  timezone: Europe/Madrid
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	h, min := cfg.QuestionClock()
	if h != 8 || min != 30 {
		t.Fatalf("question clock: %02d:%02d", h, min)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "telegram": {"token": "123:abc", "chat_id": 4242},
  "portal": {"command": "x"},
  "scheduller": {}
}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", minimalJSON+`{"extra": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		message string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"missing chat", func(c *Config) { c.Telegram.ChatID = 0 }, "telegram.chat_id"},
		{"missing command", func(c *Config) { c.Portal.Command = " " }, "portal.command"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad question time", func(c *Config) { c.Scheduler.QuestionTime = "25:99" }, "scheduler.question_time"},
		{"negative delay", func(c *Config) { c.Scheduler.AutoCheckoutDelayMinutes = -1 }, "auto_checkout_delay"},
		{"bad poll timeout", func(c *Config) { c.Telegram.PollTimeout = "soon" }, "poll_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{
				Telegram: TelegramConfig{Token: "123:abc", ChatID: 4242},
				Portal:   PortalConfig{Command: "fichar"},
			}
			cfg.Normalize()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("error %q does not mention %q", err, tc.message)
			}
		})
	}
}

func TestParseClockField(t *testing.T) {
	h, m, err := ParseClockField("t", "17:45")
	if err != nil || h != 17 || m != 45 {
		t.Fatalf("got (%d, %d, %v)", h, m, err)
	}
	if _, _, err := ParseClockField("t", "9am"); err == nil {
		t.Fatal("expected error")
	}
}
