// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/siderolabs/go-swap/swap"
)

var (
	errConfigRead    = errors.New("failed to read config")
	errConfigInvalid = errors.New("invalid config")
)

// Config is the swapctl configuration file.
//
// The file is HuJSON, JSON with comments and trailing commas.
type Config struct {
	Areas []AreaConfig `json:"areas"`

	// MetricsAddr is the listen address of the Prometheus endpoint, empty disables it.
	MetricsAddr string `json:"metrics_addr,omitempty"`

	// DrainPassLimit bounds fruitless drain passes on deactivation.
	DrainPassLimit int `json:"drain_pass_limit,omitempty"`

	PageSize        int  `json:"page_size,omitempty"`
	PhysicalMapping bool `json:"physical_mapping,omitempty"`
}

// AreaConfig describes a single swap area.
type AreaConfig struct {
	Path string `json:"path"`

	// Priority of the area, omitted for an automatic priority.
	Priority *int `json:"priority,omitempty"`

	Discard bool `json:"discard,omitempty"`
}

func (c AreaConfig) options() []swap.AreaOption {
	var opts []swap.AreaOption

	if c.Priority != nil {
		opts = append(opts, swap.WithPriority(*c.Priority))
	}

	if c.Discard {
		opts = append(opts, swap.WithDiscard())
	}

	return opts
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigRead, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid HuJSON: %w", err)
	}

	var cfg Config

	if err = json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	for i, area := range cfg.Areas {
		if area.Path == "" {
			return Config{}, fmt.Errorf("area %d: path is required", i)
		}

		if area.Priority != nil && (*area.Priority < 0 || *area.Priority > swap.MaxPriority) {
			return Config{}, fmt.Errorf("area %s: %w: %d", area.Path, swap.ErrInvalidPriority, *area.Priority)
		}
	}

	if cfg.DrainPassLimit < 0 {
		return Config{}, fmt.Errorf("drain_pass_limit must not be negative: %d", cfg.DrainPassLimit)
	}

	return cfg, nil
}

func (c Config) registryOptions() []swap.Option {
	opts := []swap.Option{
		swap.WithDrainPassLimit(c.DrainPassLimit),
		swap.WithPhysicalMapping(c.PhysicalMapping),
	}

	if c.PageSize != 0 {
		opts = append(opts, swap.WithPageSize(c.PageSize))
	}

	return opts
}
