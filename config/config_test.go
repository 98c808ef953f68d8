package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Market.Timezone != "Europe/Berlin" {
		t.Errorf("Market.Timezone = %q, want Europe/Berlin", cfg.Market.Timezone)
	}
	if cfg.Cache.TTL != 300*time.Second {
		t.Errorf("Cache.TTL = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Jobs.RefreshInterval != 15*time.Minute {
		t.Errorf("Jobs.RefreshInterval = %v, want 15m", cfg.Jobs.RefreshInterval)
	}
	if len(cfg.Market.Weekdays) != 5 {
		t.Errorf("Market.Weekdays = %v, want 5 days", cfg.Market.Weekdays)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
market:
  timezone: America/New_York
  open: "09:30"
  close: "16:00"
  holidays: ["2024-07-04"]
cache:
  ttl: 60s
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_CACHE_TTL", "90s")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Market.Timezone != "America/New_York" {
		t.Errorf("Market.Timezone = %q", cfg.Market.Timezone)
	}
	if cfg.Market.Open != "09:30" || cfg.Market.Close != "16:00" {
		t.Errorf("Market open/close = %s/%s", cfg.Market.Open, cfg.Market.Close)
	}
	if len(cfg.Market.Holidays) != 1 || cfg.Market.Holidays[0] != "2024-07-04" {
		t.Errorf("Market.Holidays = %v", cfg.Market.Holidays)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("Cache.TTL = %v, want env override 90s", cfg.Cache.TTL)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad open", func(c *Config) { c.Market.Open = "9am" }},
		{"bad job time", func(c *Config) { c.Jobs.EndOfDay = "25:00" }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"zero interval", func(c *Config) { c.Jobs.RefreshInterval = 0 }},
		{"no suffix", func(c *Config) { c.Market.SymbolSuffix = "" }},
		{"unknown store", func(c *Config) { c.Cache.Store = "disk" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]string{"Mon", "tuesday", "FRI"})
	if err != nil {
		t.Fatalf("ParseWeekdays() error = %v", err)
	}
	want := []time.Weekday{time.Monday, time.Tuesday, time.Friday}
	for i, d := range want {
		if days[i] != d {
			t.Errorf("days[%d] = %v, want %v", i, days[i], d)
		}
	}
	if _, err := ParseWeekdays([]string{"xyz"}); err == nil {
		t.Error("ParseWeekdays(xyz) = nil error, want error")
	}
}

func TestMaskDSN(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://user:secret@db:5432/app", "postgres://***@db:5432/app"},
		{"host=db user=u password=secret dbname=app", "host=db user=u password=*** dbname=app"},
		{"data/trading.db", "data/trading.db"},
	}
	for _, tt := range tests {
		if got := MaskDSN(tt.in); got != tt.want {
			t.Errorf("MaskDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
