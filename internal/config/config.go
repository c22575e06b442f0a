// Package config loads daybot configuration from a JSON config file with
// environment variable overrides.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	Calendar CalendarConfig
	Storage  StorageConfig
	Log      LogConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type CalendarConfig struct {
	ID       string
	Timezone string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type NotifyConfig struct {
	PollInterval  string
	FollowUpDelay string
}

// Poll returns the worker poll interval, defaulting to 500ms on bad input.
func (n NotifyConfig) Poll() time.Duration {
	if d, err := time.ParseDuration(n.PollInterval); err == nil && d > 0 {
		return d
	}
	return 500 * time.Millisecond
}

// FollowUp returns the follow-up delay, defaulting to 10m on bad input.
func (n NotifyConfig) FollowUp() time.Duration {
	if d, err := time.ParseDuration(n.FollowUpDelay); err == nil && d > 0 {
		return d
	}
	return 10 * time.Minute
}

// Location resolves the configured calendar timezone.
func (c CalendarConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-1.5-flash",
		},
		Calendar: CalendarConfig{
			ID:       "primary",
			Timezone: "Asia/Kolkata",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Notify: NotifyConfig{
			PollInterval:  "500ms",
			FollowUpDelay: "10m",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/daybot/config.json, then applies DAYBOT_* environment
// overrides. The Gemini API key is required and can only come from the
// environment.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. Set it via environment variable DAYBOT_GEMINI_API_KEY")
	}

	return cfg, nil
}
