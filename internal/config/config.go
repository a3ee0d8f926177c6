// Package config holds the per-execution OrchestrationConfig (§3) and the
// process-wide defaults file loader, in the teacher's dual json/yaml
// struct-tag style (internal/attractor/engine.RunConfigFile).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Budget holds the cost caps of §3 ("budget").
type Budget struct {
	MaxPerBatchUSD    float64 `json:"max_per_batch" yaml:"max_per_batch"`
	MaxTotalUSD       float64 `json:"max_total" yaml:"max_total"`
	HealingBudgetUSD  float64 `json:"healing_budget" yaml:"healing_budget"`
	DecisionBudgetUSD float64 `json:"decision_budget" yaml:"decision_budget"`
}

// OrchestrationConfig is the immutable, user-supplied set of knobs attached
// to one OrchestrationExecution (§3).
type OrchestrationConfig struct {
	AutoMerge           bool    `json:"auto_merge" yaml:"auto_merge"`
	SkipDesign          bool    `json:"skip_design" yaml:"skip_design"`
	SkipAnalyze         bool    `json:"skip_analyze" yaml:"skip_analyze"`
	AutoHealEnabled     bool    `json:"auto_heal_enabled" yaml:"auto_heal_enabled"`
	MaxHealAttempts     int     `json:"max_heal_attempts" yaml:"max_heal_attempts"`
	BatchSizeFallback   int     `json:"batch_size_fallback" yaml:"batch_size_fallback"`
	PauseBetweenBatches bool    `json:"pause_between_batches" yaml:"pause_between_batches"`
	Budget              Budget  `json:"budget" yaml:"budget"`
}

// applyDefaults fills zero-valued fields with the spec's named defaults
// (§3: maxHealAttempts default 1, batchSizeFallback default 15).
func (c *OrchestrationConfig) applyDefaults() {
	if c.MaxHealAttempts == 0 {
		c.MaxHealAttempts = 1
	}
	if c.BatchSizeFallback == 0 {
		c.BatchSizeFallback = 15
	}
}

// Validate rejects an out-of-range config synchronously (§7 ConfigInvalid).
// Callers must call Validate (or go through New) before using a config to
// start an execution.
func (c *OrchestrationConfig) Validate() error {
	if c.MaxHealAttempts < 0 || c.MaxHealAttempts > 5 {
		return fmt.Errorf("%w: max_heal_attempts must be 0-5, got %d", ErrConfigInvalid, c.MaxHealAttempts)
	}
	if c.BatchSizeFallback < 1 {
		return fmt.Errorf("%w: batch_size_fallback must be >= 1, got %d", ErrConfigInvalid, c.BatchSizeFallback)
	}
	for name, v := range map[string]float64{
		"max_per_batch":   c.Budget.MaxPerBatchUSD,
		"max_total":       c.Budget.MaxTotalUSD,
		"healing_budget":  c.Budget.HealingBudgetUSD,
		"decision_budget": c.Budget.DecisionBudgetUSD,
	} {
		if v < 0 {
			return fmt.Errorf("%w: budget.%s must be >= 0, got %v", ErrConfigInvalid, name, v)
		}
	}
	return nil
}

// New builds a validated OrchestrationConfig, applying spec defaults first.
func New(c OrchestrationConfig) (OrchestrationConfig, error) {
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return OrchestrationConfig{}, err
	}
	return c, nil
}

// Defaults holds process-wide tuning parameters (§9: "tuning parameters,
// not contracts") loaded from an optional global YAML file. These size the
// ambient pollers and timeouts; they are never semantic to the FSM itself
// and do not seed OrchestrationConfig, whose defaults come from
// applyDefaults.
type Defaults struct {
	TranscriptPollInterval   string   `json:"transcript_poll_interval" yaml:"transcript_poll_interval"`     // default "1s"
	SessionDiscoveryInterval string   `json:"session_discovery_interval" yaml:"session_discovery_interval"` // default "500ms"
	SessionDiscoveryTimeout  string   `json:"session_discovery_timeout" yaml:"session_discovery_timeout"`   // default "10s"
	WorkflowTimeout          string   `json:"workflow_timeout" yaml:"workflow_timeout"`                     // default "10m"
	CancelGracePeriod        string   `json:"cancel_grace_period" yaml:"cancel_grace_period"`               // default "5s"
	StaleThresholdMultiplier int      `json:"stale_threshold_multiplier" yaml:"stale_threshold_multiplier"` // default 3
	MaxPendingQuestions      int      `json:"max_pending_questions" yaml:"max_pending_questions"`           // default 50
	DecisionLogRetention     int      `json:"decision_log_retention" yaml:"decision_log_retention"`         // default 500
	EditorToolAllowlist      []string `json:"editor_tool_allowlist" yaml:"editor_tool_allowlist"`
}

// DefaultDefaults returns the built-in fallback values named throughout §4
// and §9, used when no global config file exists.
func DefaultDefaults() Defaults {
	return Defaults{
		TranscriptPollInterval:   "1s",
		SessionDiscoveryInterval: "500ms",
		SessionDiscoveryTimeout:  "10s",
		WorkflowTimeout:          "10m",
		CancelGracePeriod:        "5s",
		StaleThresholdMultiplier: 3,
		MaxPendingQuestions:      50,
		DecisionLogRetention:     500,
		EditorToolAllowlist:      []string{"edit", "write", "patch", "str_replace"},
	}
}

// GlobalConfigPath returns $HOME/.config/specflow/core.yaml (§6 Environment:
// "HOME used to locate ... per-user configuration directory").
func GlobalConfigPath() (string, error) {
	home := os.Getenv("HOME")
	if strings.TrimSpace(home) == "" {
		return "", fmt.Errorf("%w: HOME is not set", ErrConfigInvalid)
	}
	return filepath.Join(home, ".config", "specflow", "core.yaml"), nil
}

// LoadDefaults reads the global defaults file if present, overlaying it onto
// DefaultDefaults(). A missing file is not an error (absent vs unreadable,
// Design Notes) — it yields the built-in defaults unchanged.
func LoadDefaults() (Defaults, error) {
	d := DefaultDefaults()
	path, err := GlobalConfigPath()
	if err != nil {
		return d, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return Defaults{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := decodeYAMLStrict(b, &d); err != nil {
		return Defaults{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return d, nil
}

func decodeYAMLStrict(b []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// decodeJSONStrict mirrors the teacher's strict-decode helper, used for
// state-document parsing elsewhere in this module (internal/state).
func decodeJSONStrict(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

// DecodeJSONStrict is the exported form of decodeJSONStrict for other
// packages (internal/state) that need the same "single JSON document, no
// unknown fields" discipline without duplicating it.
func DecodeJSONStrict(b []byte, v any) error {
	return decodeJSONStrict(b, v)
}
