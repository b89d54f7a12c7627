// Package config loads the TOML configuration file into service
// definitions and runtime settings.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/jmallek/svcpilot/internal/logger"
	"github.com/jmallek/svcpilot/internal/registry"
	"github.com/jmallek/svcpilot/internal/store"
)

// FileConfig represents the top-level TOML structure.
//
// Example:
//
//	use_defaults = true
//
//	[log]
//	level = "info"
//	dir = "/var/log/svcpilot"
//
//	[store]
//	type = "sqlite"
//	path = "/var/lib/svcpilot/state.db"
//
//	[history]
//	dsn = "sqlite:///var/lib/svcpilot/history.db"
//
//	[server]
//	listen = "127.0.0.1:9900"
//
//	[[services]]
//	name = "tool-server"
//	kind = "process"
//	command = "/usr/local/bin/tool-server --port 9910"
type FileConfig struct {
	UseDefaults bool            `toml:"use_defaults" mapstructure:"use_defaults"`
	Log         LogConfig       `toml:"log" mapstructure:"log"`
	Store       store.Config    `toml:"store" mapstructure:"store"`
	History     HistoryConfig   `toml:"history" mapstructure:"history"`
	Server      ServerConfig    `toml:"server" mapstructure:"server"`
	Services    []ServiceConfig `toml:"services" mapstructure:"services"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// ServiceConfig mirrors registry.Definition in TOML-friendly form.
type ServiceConfig struct {
	Name         string            `toml:"name" mapstructure:"name"`
	Kind         string            `toml:"kind" mapstructure:"kind"`
	Command      string            `toml:"command" mapstructure:"command"`
	WorkDir      string            `toml:"workdir" mapstructure:"workdir"`
	Env          []string          `toml:"env" mapstructure:"env"`
	Image        string            `toml:"image" mapstructure:"image"`
	Ports        []registry.PortMap `toml:"ports" mapstructure:"ports"`
	Volumes      []string          `toml:"volumes" mapstructure:"volumes"`
	Listen       string            `toml:"listen" mapstructure:"listen"`
	Upstream     string            `toml:"upstream" mapstructure:"upstream"`
	Probe        ProbeConfig       `toml:"probe" mapstructure:"probe"`
	AutoResume   *bool             `toml:"auto_resume" mapstructure:"auto_resume"`
	Enabled      *bool             `toml:"enabled" mapstructure:"enabled"`
	Rank         *int              `toml:"rank" mapstructure:"rank"`
	StartTimeout time.Duration     `toml:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout  time.Duration     `toml:"stop_timeout" mapstructure:"stop_timeout"`
}

type ProbeConfig struct {
	Type        string        `toml:"type" mapstructure:"type"`
	Target      string        `toml:"target" mapstructure:"target"`
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	MaxAttempts int           `toml:"max_attempts" mapstructure:"max_attempts"`
}

// Config is the fully resolved configuration.
type Config struct {
	Definitions []registry.Definition
	Logger      logger.Config
	Store       store.Config
	History     HistoryConfig
	Server      ServerConfig
}

// Load reads a TOML file and resolves it. With use_defaults, the
// built-in service catalog is the base and [[services]] entries
// override or extend it by name.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return resolve(fc)
}

func resolve(fc FileConfig) (*Config, error) {
	fileDefaults := logger.FileConfig{
		Dir:        fc.Log.Dir,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
	}

	var defs []registry.Definition
	if fc.UseDefaults {
		defs = registry.Defaults()
	}
	byName := make(map[string]int, len(defs))
	for i, d := range defs {
		byName[d.Name] = i
	}
	for _, sc := range fc.Services {
		if i, ok := byName[sc.Name]; ok {
			defs[i] = mergeService(defs[i], sc)
			continue
		}
		byName[sc.Name] = len(defs)
		defs = append(defs, toDefinition(sc))
	}
	for i := range defs {
		if defs[i].Log.Dir == "" {
			defs[i].Log = fileDefaults
		}
	}

	cfg := &Config{
		Definitions: defs,
		Logger: logger.Config{
			Slog: logger.SlogConfig{Level: logger.Level(fc.Log.Level), Color: fc.Log.Color},
			File: fileDefaults,
		},
		Store:   fc.Store,
		History: fc.History,
		Server:  fc.Server,
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:9900"
	}
	return cfg, nil
}

func toDefinition(sc ServiceConfig) registry.Definition {
	d := registry.Definition{
		Name:     sc.Name,
		Kind:     registry.Kind(sc.Kind),
		Command:  sc.Command,
		WorkDir:  sc.WorkDir,
		Env:      sc.Env,
		Image:    sc.Image,
		Ports:    sc.Ports,
		Volumes:  sc.Volumes,
		Listen:   sc.Listen,
		Upstream: sc.Upstream,
		Probe: registry.ProbeConfig{
			Type:        sc.Probe.Type,
			Target:      sc.Probe.Target,
			Interval:    sc.Probe.Interval,
			MaxAttempts: sc.Probe.MaxAttempts,
		},
		StartTimeout: sc.StartTimeout,
		StopTimeout:  sc.StopTimeout,
	}
	if sc.AutoResume != nil {
		d.AutoResume = *sc.AutoResume
	}
	if sc.Enabled != nil {
		d.Enabled = *sc.Enabled
	} else {
		d.Enabled = true
	}
	if sc.Rank != nil {
		d.Rank = *sc.Rank
	}
	return d
}

// mergeService overlays the fields a TOML entry actually set onto a
// catalog definition.
func mergeService(base registry.Definition, sc ServiceConfig) registry.Definition {
	if sc.Kind != "" {
		base.Kind = registry.Kind(sc.Kind)
	}
	if sc.Command != "" {
		base.Command = sc.Command
	}
	if sc.WorkDir != "" {
		base.WorkDir = sc.WorkDir
	}
	if len(sc.Env) > 0 {
		base.Env = sc.Env
	}
	if sc.Image != "" {
		base.Image = sc.Image
	}
	if len(sc.Ports) > 0 {
		base.Ports = sc.Ports
	}
	if len(sc.Volumes) > 0 {
		base.Volumes = sc.Volumes
	}
	if sc.Listen != "" {
		base.Listen = sc.Listen
	}
	if sc.Upstream != "" {
		base.Upstream = sc.Upstream
	}
	if sc.Probe.Type != "" {
		base.Probe.Type = sc.Probe.Type
		base.Probe.Target = sc.Probe.Target
	}
	if sc.Probe.Interval > 0 {
		base.Probe.Interval = sc.Probe.Interval
	}
	if sc.Probe.MaxAttempts > 0 {
		base.Probe.MaxAttempts = sc.Probe.MaxAttempts
	}
	if sc.AutoResume != nil {
		base.AutoResume = *sc.AutoResume
	}
	if sc.Enabled != nil {
		base.Enabled = *sc.Enabled
	}
	if sc.Rank != nil {
		base.Rank = *sc.Rank
	}
	if sc.StartTimeout > 0 {
		base.StartTimeout = sc.StartTimeout
	}
	if sc.StopTimeout > 0 {
		base.StopTimeout = sc.StopTimeout
	}
	return base
}
