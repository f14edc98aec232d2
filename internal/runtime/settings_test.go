// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/noldarim/goalbridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAppConfig(t *testing.T, settingsDir, bucket string) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{}
	cfg.Runtime.Name = "@atomist/sdm"
	cfg.Runtime.Version = "1.0.0"
	cfg.Runtime.SettingsDir = settingsDir
	cfg.Runtime.GoalTimeout = 20 * time.Minute
	cfg.Runtime.Temporal = config.TemporalConfig{HostPort: "localhost:7233", Namespace: "default", TaskQueue: "sdm-handlers"}
	cfg.Storage.Bucket = bucket
	cfg.Storage.LocalPath = "/tmp/sdm"
	cfg.Graph.Endpoint = "http://graph.local"
	return cfg
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(testAppConfig(t, t.TempDir(), ""), "T1", "k1")
	require.NoError(t, err)

	assert.Equal(t, "@atomist/sdm", s.Name)
	assert.Equal(t, "1.0.0", s.Version)
	assert.Equal(t, []string{"T1"}, s.WorkspaceIDs)
	assert.Equal(t, "k1", s.APIKey)
	assert.False(t, s.HTTP.Enabled)
	assert.False(t, s.WS.Enabled)
	assert.False(t, s.Cluster.Enabled)
	assert.Equal(t, LoggingSettings{Level: "debug", Color: false}, s.Logging)
	assert.Equal(t, 20*time.Minute, s.SDM.Goal.Timeout)
	assert.True(t, s.SDM.Cache.Enabled)
	assert.Equal(t, "/tmp/sdm", s.SDM.Cache.Path)
	assert.Empty(t, s.SDM.ExtensionPacks)
	assert.Equal(t, "http://graph.local", s.Endpoints.GraphQL)
	assert.Equal(t, "sdm-handlers", s.Temporal.TaskQueue)
}

func TestLoadSettingsWithBucketAddsGCPPack(t *testing.T) {
	s, err := LoadSettings(testAppConfig(t, t.TempDir(), "my-bucket"), "T1", "k1")
	require.NoError(t, err)

	assert.Equal(t, []string{ExtensionPackGCP}, s.SDM.ExtensionPacks)
	assert.Equal(t, "my-bucket", s.SDM.Cache.Bucket)
	assert.Empty(t, s.SDM.Cache.Path)
}

func TestLoadSettingsMergesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(`
name: "@acme/sdm"
http:
  enabled: true
sdm:
  extensionPacks: [k8s, gcp]
  custom:
    first: 1
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(`
version: "2.3.4"
sdm:
  custom:
    second: 2
flags:
  beta: true
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.json"), []byte(`{"name":"nope"}`), 0o644))

	s, err := LoadSettings(testAppConfig(t, dir, ""), "T1", "k1")
	require.NoError(t, err)

	assert.Equal(t, "@acme/sdm", s.Name)
	assert.Equal(t, "2.3.4", s.Version)
	assert.False(t, s.HTTP.Enabled, "http is always disabled")
	assert.Equal(t, []string{"k8s"}, s.SDM.ExtensionPacks, "gcp pack is dropped without a bucket")
	assert.Contains(t, s.Extra, "flags")
}

func TestLoadSettingsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unclosed"), 0o644))

	_, err := LoadSettings(testAppConfig(t, dir, ""), "T1", "k1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{"x": 1, "y": 2},
		"b": "keep",
	}
	deepMerge(dst, map[string]interface{}{
		"a": map[string]interface{}{"y": 3, "z": 4},
		"c": []interface{}{"new"},
	})

	assert.Equal(t, map[string]interface{}{"x": 1, "y": 3, "z": 4}, dst["a"])
	assert.Equal(t, "keep", dst["b"])
	assert.Equal(t, []interface{}{"new"}, dst["c"])
}
