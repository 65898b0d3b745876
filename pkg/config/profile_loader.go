package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is a jurisdiction-specific configuration profile.
// Profiles tighten the defaults in Config for regulated deployments
// (e.g. shorter token TTLs or mandatory QES in the EU).
type DeploymentProfile struct {
	Name      string          `yaml:"name" json:"name"`
	Code      string          `yaml:"code" json:"code"`
	Ceremony  CeremonyConfig  `yaml:"ceremony" json:"ceremony"`
	Sealing   SealingConfig   `yaml:"sealing" json:"sealing"`
	Retention RetentionConfig `yaml:"retention" json:"retention"`
}

// CeremonyConfig holds signer-ceremony thresholds per profile.
type CeremonyConfig struct {
	TokenTTLHours         int  `yaml:"token_ttl_hours" json:"token_ttl_hours"`
	ReminderIntervalHours int  `yaml:"reminder_interval_hours" json:"reminder_interval_hours"`
	RequireViewBeforeSign bool `yaml:"require_view_before_sign" json:"require_view_before_sign"`
}

// SealingConfig constrains the sealing engine per profile.
type SealingConfig struct {
	MinimumLevel string `yaml:"minimum_level" json:"minimum_level"` // simple, advanced, qualified
	QESProvider  string `yaml:"qes_provider,omitempty" json:"qes_provider,omitempty"`
}

// RetentionConfig defines evidence retention policy.
type RetentionConfig struct {
	DocumentDays int `yaml:"document_days" json:"document_days"`
	AuditLogDays int `yaml:"audit_log_days" json:"audit_log_days"`
}

// LoadProfile loads a deployment profile YAML by jurisdiction code.
// It searches the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*DeploymentProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// Apply overlays the profile's non-zero values onto cfg.
func (p *DeploymentProfile) Apply(cfg *Config) {
	if p.Ceremony.TokenTTLHours > 0 {
		cfg.TokenTTLHours = p.Ceremony.TokenTTLHours
	}
	if p.Ceremony.ReminderIntervalHours > 0 {
		cfg.ReminderIntervalHours = p.Ceremony.ReminderIntervalHours
	}
	if p.Sealing.QESProvider != "" {
		cfg.QESProvider = p.Sealing.QESProvider
	}
	if p.Retention.DocumentDays > 0 {
		cfg.RetentionDays = p.Retention.DocumentDays
	}
}
