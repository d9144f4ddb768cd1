// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `{
  "schema": {
    "start_byte": 1,
    "pdus": [{"id": 0, "name": "core", "fields": [{"name": "rpm", "c_type": "u16"}]}],
    "sensors": {"rpm": {"group": "core", "enable": true}}
  },
  "server": {"database": "./var/staging.db", "commit_interval": 2.5},
  "emulation": {"enable": true, "interval": 0.1, "sensors": {"rpm": "4000.0 + x"}}
}`

const missingDatabaseConfig = `{
  "schema": {
    "start_byte": 1,
    "pdus": [],
    "sensors": {"rpm": {"group": "core", "enable": true}}
  },
  "server": {}
}`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTemp(t, validConfig))
	require.NoError(t, err)
	assert.Equal(t, "./var/staging.db", cfg.Server.Database)
	assert.True(t, cfg.Emulation.Enable)
	assert.Equal(t, "4000.0 + x", cfg.Emulation.Sensors["rpm"])
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	_, err := Load(writeTemp(t, missingDatabaseConfig))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownCType(t *testing.T) {
	bad := `{
	  "schema": {"start_byte": 1, "pdus": [{"id": 0, "name": "core", "fields": [{"name": "rpm", "c_type": "u17"}]}], "sensors": {}},
	  "server": {"database": "x.db"}
	}`
	_, err := Load(writeTemp(t, bad))
	assert.Error(t, err)
}

func TestCommitIntervalDefault(t *testing.T) {
	cfg, err := Load(writeTemp(t, missingDatabaseConfigWithDatabase()))
	require.NoError(t, err)
	assert.Equal(t, defaultCommitIntervalSeconds, cfg.CommitInterval().Seconds())
}

const defaultCommitIntervalSeconds = 5.0

func missingDatabaseConfigWithDatabase() string {
	return `{
	  "schema": {"start_byte": 1, "pdus": [], "sensors": {"rpm": {"group": "core", "enable": true}}},
	  "server": {"database": "x.db"}
	}`
}
