// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the server's JSON configuration
// file (spec section 6's "Config surface" table) against an embedded
// JSON Schema using embed.FS and santhosh-tekuri/jsonschema/v5.
package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sufst/intermediate-server/internal/schema"
)

//go:embed schemas/*
var schemaFiles embed.FS

func init() {
	jsonschema.Loaders["embedFS"] = func(s string) (readCloser, error) {
		u, err := url.Parse(s)
		if err != nil {
			return nil, err
		}
		return schemaFiles.Open(u.Path)
	}
}

type readCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// SocketSubscriberConfig is one entry under sockets_io.<srv>.
type SocketSubscriberConfig struct {
	URL           string  `json:"url"`
	Namespace     string  `json:"namespace"`
	Interval      float64 `json:"interval"`
	Retries       int     `json:"retries"`
	RetryInterval float64 `json:"retry_interval"`
}

// FlushInterval is Interval as a time.Duration, defaulting to one second
// when unset — spec section 6 names no default for a subscriber's flush
// cadence, but the Broker's flush loop needs a positive ticker period.
func (c SocketSubscriberConfig) FlushInterval() time.Duration {
	if c.Interval <= 0 {
		return time.Second
	}
	return time.Duration(c.Interval * float64(time.Second))
}

// Config is the root of the server's configuration file.
type Config struct {
	Schema schema.Config `json:"schema"`

	Client struct {
		Socket struct {
			Host string `json:"host"`
			Port int    `json:"port"`
		} `json:"socket"`
		XBee struct {
			Com  string `json:"com"`
			Baud int    `json:"baud"`
			MAC  string `json:"mac"`
		} `json:"xbee"`
	} `json:"client"`

	Emulation struct {
		Enable   bool              `json:"enable"`
		Interval float64           `json:"interval"`
		Modules  []string          `json:"modules"`
		Sensors  map[string]string `json:"sensors"`
	} `json:"emulation"`

	Server struct {
		IP             string  `json:"ip"`
		Port           int     `json:"port"`
		Database       string  `json:"database"`
		Verbose        bool    `json:"verbose"`
		CommitInterval float64 `json:"commit_interval"`
	} `json:"server"`

	Restful struct {
		URL       string `json:"url"`
		Port      int    `json:"port"`
		KeepAlive bool   `json:"keep_alive"`
	} `json:"restful"`

	SocketsIO map[string]SocketSubscriberConfig `json:"sockets_io"`
}

// EmulationInterval is Emulation.Interval as a time.Duration.
func (c Config) EmulationInterval() time.Duration {
	return time.Duration(c.Emulation.Interval * float64(time.Second))
}

// CommitInterval is Server.CommitInterval as a time.Duration, defaulting
// to five seconds per spec section 4.5 ("on the order of seconds").
func (c Config) CommitInterval() time.Duration {
	if c.Server.CommitInterval <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Server.CommitInterval * float64(time.Second))
}

// Load reads path, validates it against the embedded JSON Schema, and
// decodes it into a Config. A validation failure is SchemaInvalid-class:
// fatal at startup (spec section 7).
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := validate(raw); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	return cfg, nil
}

func validate(raw []byte) error {
	sch, err := jsonschema.Compile("embedFS://schemas/config.schema.json")
	if err != nil {
		return fmt.Errorf("compiling embedded schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decoding instance: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
