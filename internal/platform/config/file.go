package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dhruva-antino/live-drm/internal/pipeline"
)

// fileOverlay is the optional YAML document named by LIVE_CONFIG_FILE.
// Only fields present in the file replace values taken from the environment.
type fileOverlay struct {
	OutputRoot string `yaml:"output_root"`
	Publish    struct {
		Stability    string `yaml:"stability"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"publish"`
	KeyServer struct {
		URL              string   `yaml:"url"`
		Scheme           string   `yaml:"scheme"`
		ProtectionScheme string   `yaml:"protection_scheme"`
		DRMTypes         []string `yaml:"drm_types"`
		Tracks           []string `yaml:"tracks"`
	} `yaml:"key_server"`
	DRMLadder []pipeline.Request `yaml:"drm_ladder"`
}

// ApplyFile overlays the YAML file at path onto c.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var ov fileOverlay
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if ov.OutputRoot != "" {
		c.OutputRoot = ov.OutputRoot
	}
	if d, err := parseOptionalDuration(ov.Publish.Stability); err != nil {
		return fmt.Errorf("publish.stability: %w", err)
	} else if d > 0 {
		c.Publish.Stability = d
	}
	if d, err := parseOptionalDuration(ov.Publish.PollInterval); err != nil {
		return fmt.Errorf("publish.poll_interval: %w", err)
	} else if d > 0 {
		c.Publish.PollInterval = d
	}
	if ov.KeyServer.URL != "" {
		c.KeyServer.URL = ov.KeyServer.URL
	}
	if ov.KeyServer.Scheme != "" {
		c.KeyServer.Scheme = ov.KeyServer.Scheme
	}
	if ov.KeyServer.ProtectionScheme != "" {
		c.KeyServer.ProtectionScheme = ov.KeyServer.ProtectionScheme
	}
	if len(ov.KeyServer.DRMTypes) > 0 {
		c.KeyServer.DRMTypes = ov.KeyServer.DRMTypes
	}
	if len(ov.KeyServer.Tracks) > 0 {
		c.KeyServer.Tracks = ov.KeyServer.Tracks
	}
	if len(ov.DRMLadder) > 0 {
		c.DRMLadder = ov.DRMLadder
	}
	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
