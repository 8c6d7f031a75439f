// Alert configuration - rules, cooldowns, consecutive-failure limits.
//
// DESIGN: Every threshold is an explicit per-key value. DefaultCooldown and
// DefaultFailureLimit seed keys with no rule of their own; a rule overrides
// only the fields it sets.
package config

import (
	"fmt"
	"time"
)

// AlertRule overrides alerting defaults for one key.
type AlertRule struct {
	Threshold    float64       `yaml:"threshold"`     // meaning depends on the key (seconds, ratio, percent)
	Cooldown     time.Duration `yaml:"cooldown"`      // 0 means use DefaultCooldown
	FailureLimit int           `yaml:"failure_limit"` // consecutive failures before alerting, 0 means default
}

// AlertsConfig contains alert rules and dedup settings.
type AlertsConfig struct {
	DefaultCooldown     time.Duration        `yaml:"default_cooldown"`      // default 300s
	DefaultFailureLimit int                  `yaml:"default_failure_limit"` // default 3
	Rules               map[string]AlertRule `yaml:"rules"`                 // per-key overrides
}

func (a *AlertsConfig) applyDefaults() {
	if a.DefaultCooldown == 0 {
		a.DefaultCooldown = 5 * time.Minute
	}
	if a.DefaultFailureLimit == 0 {
		a.DefaultFailureLimit = 3
	}
}

// Validate checks alert rule sanity.
func (a *AlertsConfig) Validate() error {
	if a.DefaultCooldown < 0 {
		return fmt.Errorf("alerts.default_cooldown must not be negative")
	}
	for key, rule := range a.Rules {
		if rule.Cooldown < 0 {
			return fmt.Errorf("alerts.rules.%s.cooldown must not be negative", key)
		}
		if rule.FailureLimit < 0 {
			return fmt.Errorf("alerts.rules.%s.failure_limit must not be negative", key)
		}
	}
	return nil
}

// Cooldown returns the effective cooldown for a key.
func (a *AlertsConfig) Cooldown(key string) time.Duration {
	if rule, ok := a.Rules[key]; ok && rule.Cooldown > 0 {
		return rule.Cooldown
	}
	return a.DefaultCooldown
}

// FailureLimit returns the effective consecutive-failure limit for a key.
func (a *AlertsConfig) FailureLimit(key string) int {
	if rule, ok := a.Rules[key]; ok && rule.FailureLimit > 0 {
		return rule.FailureLimit
	}
	return a.DefaultFailureLimit
}
