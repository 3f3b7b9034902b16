// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultInterval = 2 * time.Second

// A Config names the two remotes and the proxy's trigger settings.
type Config struct {
	Git      Remote `yaml:"git"`
	Pijul    Remote `yaml:"pijul"`
	Interval string `yaml:"interval"`
	Listen   string `yaml:"listen"`

	interval time.Duration
}

// A Remote is one synchronized repository.
type Remote struct {
	URL string `yaml:"url"`
}

func loadConfig(path string) (*Config, error) {
	path = expandHome(path)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %v", path, err)
	}
	c, err := parseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("config %s: %v", path, err)
	}
	return c, nil
}

func parseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.Git.URL == "" || c.Pijul.URL == "" {
		return nil, errors.New("git.url and pijul.url must both be set")
	}
	c.interval = defaultInterval
	if c.Interval != "" {
		d, err := time.ParseDuration(c.Interval)
		if err != nil {
			return nil, fmt.Errorf("bad interval %q: %v", c.Interval, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("bad interval %q: must be positive", c.Interval)
		}
		c.interval = d
	}
	return &c, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
