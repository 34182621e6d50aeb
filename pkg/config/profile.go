package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a YAML override file for sync tunables. Zero values mean
// "keep the current setting", so a profile only has to name what it
// changes.
type Profile struct {
	Name                  string `yaml:"name"`
	DeleteZeroStock       *bool  `yaml:"delete_zero_stock"`
	PreserveSingleVariant *bool  `yaml:"preserve_single_variant"`
	BatchSize             int    `yaml:"batch_size"`
	MaxConcurrent         int    `yaml:"max_concurrent"`
	LockTTLSeconds        int    `yaml:"lock_ttl_seconds"`
	InterPageDelayMs      int    `yaml:"inter_page_delay_ms"`
}

// LoadProfile reads a sync profile from path and applies it on top of the
// given settings.
func LoadProfile(path string, base SyncSettings) (SyncSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return base, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	return p.Apply(base), nil
}

// Apply merges the profile into base and returns the result.
func (p *Profile) Apply(base SyncSettings) SyncSettings {
	out := base
	if p.DeleteZeroStock != nil {
		out.DeleteZeroStock = *p.DeleteZeroStock
	}
	if p.PreserveSingleVariant != nil {
		out.PreserveSingleVariant = *p.PreserveSingleVariant
	}
	if p.BatchSize > 0 {
		out.BatchSize = p.BatchSize
	}
	if p.MaxConcurrent > 0 {
		out.MaxConcurrent = p.MaxConcurrent
	}
	if p.LockTTLSeconds > 0 {
		out.LockTTL = time.Duration(p.LockTTLSeconds) * time.Second
	}
	if p.InterPageDelayMs > 0 {
		out.InterPageDelay = time.Duration(p.InterPageDelayMs) * time.Millisecond
	}
	return out
}
