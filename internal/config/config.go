package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"
)

// Config is the full runtime configuration. Values merge in precedence
// order: defaults, then the yaml file, then KOTOBA_* environment variables,
// then command-line flags.
type Config struct {
	DB       string `koanf:"db" validate:"required"`
	Listen   string `koanf:"listen" validate:"required,hostname_port"`
	Timezone string `koanf:"timezone" validate:"required,timezone"`

	// Intervals are the ascending review day-offsets from registration.
	Intervals []int `koanf:"intervals" validate:"required,min=1,dive,min=1"`

	ReminderAt  string        `koanf:"reminder_at" validate:"required"`
	NudgeAt     string        `koanf:"nudge_at" validate:"required"`
	SnoozeAfter time.Duration `koanf:"snooze_after" validate:"min=0"`

	SessionTimeout time.Duration `koanf:"session_timeout" validate:"min=0"`
	// RejectActive rejects a review start while one is active instead of
	// letting the last start win.
	RejectActive bool `koanf:"reject_active"`

	QuizSize int     `koanf:"quiz_size" validate:"min=1"`
	QuizBias float64 `koanf:"quiz_bias" validate:"min=0,max=3"`

	// ReposDir is where git vocabulary sources are checked out.
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

// Default returns the configuration the engine runs with when nothing else
// is specified.
func Default() Config {
	return Config{
		DB:             "kotoba.db",
		Listen:         "127.0.0.1:8990",
		Timezone:       "Asia/Tokyo",
		Intervals:      []int{1, 4, 10, 17, 30, 60},
		ReminderAt:     "21:00",
		NudgeAt:        "22:00",
		SnoozeAfter:    time.Hour,
		SessionTimeout: 5 * time.Minute,
		QuizSize:       10,
		QuizBias:       1,
		ReposDir:       "repos",
	}
}

const envPrefix = "KOTOBA_"

// Load merges the config file (when path is non-empty), environment and
// flags over the defaults, then validates the result.
func Load(path string, flags *flag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints plus the cross-field rules the tags
// cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for i := 1; i < len(c.Intervals); i++ {
		if c.Intervals[i] <= c.Intervals[i-1] {
			return fmt.Errorf("invalid config: intervals must be strictly ascending, got %v", c.Intervals)
		}
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
