package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type probeConfig struct {
	URL      string
	Author   string
	Channel  string
	Count    int
	Interval time.Duration
	Timeout  time.Duration
}

type fileConfig struct {
	URL      string `toml:"url"`
	Author   string `toml:"author"`
	Channel  string `toml:"channel"`
	Count    int    `toml:"count"`
	Interval string `toml:"interval"`
	Timeout  string `toml:"timeout"`
}

func defaultProbeConfig() probeConfig {
	return probeConfig{
		URL:      "ws://127.0.0.1:9400/ws",
		Author:   "probe",
		Channel:  "probe",
		Count:    3,
		Interval: 250 * time.Millisecond,
		Timeout:  5 * time.Second,
	}
}

func loadProbeConfig(path string) (probeConfig, error) {
	cfg := defaultProbeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return probeConfig{}, fmt.Errorf("load probe config: %w", err)
	}

	if meta.IsDefined("url") && strings.TrimSpace(raw.URL) != "" {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("author") && strings.TrimSpace(raw.Author) != "" {
		cfg.Author = strings.TrimSpace(raw.Author)
	}
	if meta.IsDefined("channel") && strings.TrimSpace(raw.Channel) != "" {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("count") && raw.Count > 0 {
		cfg.Count = raw.Count
	}
	if meta.IsDefined("interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Interval))
		if err != nil {
			return probeConfig{}, fmt.Errorf("parse interval: %w", err)
		}
		cfg.Interval = d
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return probeConfig{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}
