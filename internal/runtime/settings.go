// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/noldarim/goalbridge/internal/config"
	"gopkg.in/yaml.v3"
)

// ExtensionPackGCP enables cloud storage backed caching in the runtime.
const ExtensionPackGCP = "gcp"

// Settings are the cold-start settings of the automation runtime.
type Settings struct {
	Name         string           `mapstructure:"name"`
	Version      string           `mapstructure:"version"`
	WorkspaceIDs []string         `mapstructure:"workspaceIds"`
	APIKey       string           `mapstructure:"-"`
	HTTP         Toggle           `mapstructure:"http"`
	WS           Toggle           `mapstructure:"ws"`
	Cluster      Toggle           `mapstructure:"cluster"`
	Logging      LoggingSettings  `mapstructure:"logging"`
	SDM          SDMSettings      `mapstructure:"sdm"`
	Endpoints    EndpointSettings `mapstructure:"endpoints"`

	Temporal config.TemporalConfig `mapstructure:"-"`

	// Anything else found in the settings files.
	Extra map[string]interface{} `mapstructure:",remain"`
}

// Toggle switches a runtime subsystem on or off.
type Toggle struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingSettings controls the runtime's own logging.
type LoggingSettings struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

// SDMSettings holds goal execution settings.
type SDMSettings struct {
	ExtensionPacks []string      `mapstructure:"extensionPacks"`
	Goal           GoalSettings  `mapstructure:"goal"`
	Cache          CacheSettings `mapstructure:"cache"`
}

// GoalSettings holds per-goal limits.
type GoalSettings struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheSettings points the runtime at its goal cache.
type CacheSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Path    string `mapstructure:"path"`
}

// EndpointSettings are the platform endpoints handed to the runtime.
type EndpointSettings struct {
	GraphQL   string `mapstructure:"graphql"`
	Dashboard string `mapstructure:"dashboard"`
	Rolar     string `mapstructure:"rolar"`
}

// NewSettingsLoader returns a SettingsLoader reading from cfg.Runtime.SettingsDir.
func NewSettingsLoader(cfg *config.AppConfig) SettingsLoader {
	return func(workspaceID, apiKey string) (*Settings, error) {
		return LoadSettings(cfg, workspaceID, apiKey)
	}
}

// LoadSettings merges every *.yaml file in the settings directory, in name
// order, and applies the fixed overrides of a request-driven deployment.
func LoadSettings(cfg *config.AppConfig, workspaceID, apiKey string) (*Settings, error) {
	merged, err := readSettingsDir(cfg.Runtime.SettingsDir)
	if err != nil {
		return nil, err
	}

	var s Settings
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create settings decoder: %w", err)
	}
	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to decode runtime settings: %w", err)
	}

	s.apply(cfg, workspaceID, apiKey)
	return &s, nil
}

func (s *Settings) apply(cfg *config.AppConfig, workspaceID, apiKey string) {
	if s.Name == "" {
		s.Name = cfg.Runtime.Name
	}
	if s.Version == "" {
		s.Version = cfg.Runtime.Version
	}

	s.APIKey = apiKey
	s.WorkspaceIDs = []string{workspaceID}

	s.HTTP.Enabled = false
	s.WS.Enabled = false
	s.Cluster.Enabled = false
	s.Logging = LoggingSettings{Level: "debug", Color: false}

	s.SDM.Goal.Timeout = cfg.Runtime.GoalTimeout
	s.SDM.Cache = CacheSettings{
		Enabled: true,
		Bucket:  cfg.Storage.Bucket,
		Path:    cfg.Storage.CachePath(),
	}

	packs := make([]string, 0, len(s.SDM.ExtensionPacks)+1)
	for _, p := range s.SDM.ExtensionPacks {
		if p != ExtensionPackGCP {
			packs = append(packs, p)
		}
	}
	if cfg.Storage.Bucket != "" {
		packs = append(packs, ExtensionPackGCP)
	}
	s.SDM.ExtensionPacks = packs

	s.Endpoints = EndpointSettings{
		GraphQL:   cfg.Graph.Endpoint,
		Dashboard: cfg.Dashboard.URL,
		Rolar:     cfg.Dashboard.RolarURL,
	}
	s.Temporal = cfg.Runtime.Temporal
}

func readSettingsDir(dir string) (map[string]interface{}, error) {
	merged := make(map[string]interface{})
	if dir == "" {
		return merged, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list settings in %s: %w", dir, err)
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", file, err)
		}
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse settings file %s: %w", file, err)
		}
		deepMerge(merged, doc)
	}
	return merged, nil
}

// deepMerge copies src into dst, merging nested maps and replacing everything else.
func deepMerge(dst, src map[string]interface{}) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}
