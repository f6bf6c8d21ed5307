// Copyright 2024-2026 Aiku AI

// Package config loads the bridge configuration from YAML, a .env file and
// environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/aiku/roombridge/pkg/bridge"
	"github.com/aiku/roombridge/pkg/mattermost"
	"github.com/aiku/roombridge/pkg/store"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the whole bridge configuration.
type Config struct {
	Logging    LoggingConfig     `yaml:"logging"`
	Store      store.Config      `yaml:"store"`
	Mattermost mattermost.Config `yaml:"mattermost"`
	Bridge     BridgeConfig      `yaml:"bridge"`
	Dedup      DedupConfig       `yaml:"dedup"`
	Links      LinksConfig       `yaml:"links"`
	Admin      AdminConfig       `yaml:"admin"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type BridgeConfig struct {
	PrimaryChannel string        `yaml:"primary_channel"`
	MirrorChannel  string        `yaml:"mirror_channel"`
	CommandPrefix  string        `yaml:"command_prefix"`
	DeleteCommands bool          `yaml:"delete_commands"`
	ChatTag        string        `yaml:"chat_tag"`
	DefaultColor   string        `yaml:"default_color"`
	PlainText      bool          `yaml:"plain_text"`
	QueueSize      int           `yaml:"queue_size"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	ErrorBackoff   time.Duration `yaml:"error_backoff"`
	Timezone       string        `yaml:"timezone"`
}

type DedupConfig struct {
	PersistCursor bool `yaml:"persist_cursor"`
	SkipHistory   bool `yaml:"skip_history"`
}

type LinksConfig struct {
	Index   bool          `yaml:"index"`
	Refresh time.Duration `yaml:"refresh"`
	CodeTTL time.Duration `yaml:"code_ttl"`
}

type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// Environment variables that override the file.
const (
	EnvToken          = "MATTERMOST_TOKEN"
	EnvServerURL      = "MATTERMOST_URL"
	EnvStoreURL       = "BRIDGE_STORE_URL"
	EnvPrimaryChannel = "BRIDGE_PRIMARY_CHANNEL"
	EnvMirrorChannel  = "BRIDGE_MIRROR_CHANNEL"
)

// Load reads the embedded defaults, then path if it is not empty, then the
// environment. A .env file in the working directory is loaded first if
// present; it never overrides variables that are already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse default config: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(getenv)
	if err := cfg.Mattermost.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid displayname_template: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Mattermost.Token, EnvToken)
	set(&c.Mattermost.ServerURL, EnvServerURL)
	set(&c.Store.URL, EnvStoreURL)
	set(&c.Bridge.PrimaryChannel, EnvPrimaryChannel)
	set(&c.Bridge.MirrorChannel, EnvMirrorChannel)
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Mattermost.Token == "" {
		errs = append(errs, fmt.Errorf("mattermost token is required (%s)", EnvToken))
	}
	if c.Mattermost.ServerURL == "" {
		errs = append(errs, fmt.Errorf("mattermost server_url is required (%s)", EnvServerURL))
	}
	if c.Bridge.PrimaryChannel == "" {
		errs = append(errs, fmt.Errorf("bridge primary_channel is required (%s)", EnvPrimaryChannel))
	}
	if c.Store.URL == "" && !strings.EqualFold(c.Store.Backend, "memory") {
		errs = append(errs, fmt.Errorf("store url is required (%s)", EnvStoreURL))
	}
	if c.Store.Session == "" {
		errs = append(errs, errors.New("store session is required"))
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid logging level %q", c.Logging.Level))
	}
	if _, err := time.LoadLocation(c.Bridge.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid bridge timezone: %w", err))
	}
	return errors.Join(errs...)
}

// BridgeSettings converts the file settings into the bridge's own config.
func (c *Config) BridgeSettings() (bridge.Config, error) {
	loc := time.Local
	if c.Bridge.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(c.Bridge.Timezone); err != nil {
			return bridge.Config{}, fmt.Errorf("invalid bridge timezone: %w", err)
		}
	}
	return bridge.Config{
		PrimaryChannel:       c.Bridge.PrimaryChannel,
		MirrorChannel:        c.Bridge.MirrorChannel,
		CommandPrefix:        c.Bridge.CommandPrefix,
		DeleteCommands:       c.Bridge.DeleteCommands,
		ChatTag:              c.Bridge.ChatTag,
		DefaultColor:         c.Bridge.DefaultColor,
		PlainText:            c.Bridge.PlainText,
		RelayNativeReactions: c.Mattermost.RelayNativeReactions,
		QueueSize:            c.Bridge.QueueSize,
		SendTimeout:          c.Bridge.SendTimeout,
		ErrorBackoff:         c.Bridge.ErrorBackoff,
		Location:             loc,
	}, nil
}

// Logger builds the root logger.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil || c.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if c.Logging.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
