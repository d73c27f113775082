package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type RuleType string

const (
	RulePhaseCompletionThreshold RuleType = "phase_completion_threshold"
	RuleMandatoryFields          RuleType = "mandatory_fields"
	RuleValidation               RuleType = "validation_rule"
	RuleNotification             RuleType = "notification_rule"
	RuleDurationLimit            RuleType = "duration_limit"
)

var RuleTypes = []RuleType{
	RulePhaseCompletionThreshold, RuleMandatoryFields, RuleValidation, RuleNotification, RuleDurationLimit,
}

// PhaseAll scopes a rule to every phase.
const PhaseAll = "All"

type Rule struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	RuleType      RuleType        `json:"rule_type"`
	Phase         string          `json:"phase,omitempty"`
	Configuration json.RawMessage `json:"configuration"`
	IsActive      bool            `json:"is_active"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ThresholdConfig struct {
	Threshold float64 `json:"threshold"`
	Enforce   bool    `json:"enforce"`
	Message   string  `json:"message"`
}

type MandatoryFieldsConfig struct {
	Fields  []string `json:"fields"`
	Message string   `json:"message"`
}

// ValidationRuleConfig is stored and shown to admins. The script is never
// executed.
type ValidationRuleConfig struct {
	Script  string `json:"script"`
	Message string `json:"message"`
}

type NotificationRuleConfig struct {
	NotifyOnStatusChange bool `json:"notify_on_status_change"`
	NotifyAssignees      bool `json:"notify_assignees"`
	NotifyOwner          bool `json:"notify_owner"`
}

type DurationLimitConfig struct {
	MaxDays     int  `json:"max_days"`
	WarningDays int  `json:"warning_days"`
	Enforce     bool `json:"enforce"`
}

// MandatoryFieldNames are the goal fields a mandatory_fields rule may list.
var MandatoryFieldNames = []string{
	"title", "description", "department", "team", "owner_id", "priority", "start_date", "due_date", "assignees",
}

func DefaultRuleConfiguration(ruleType RuleType) (json.RawMessage, error) {
	var value any
	switch ruleType {
	case RulePhaseCompletionThreshold:
		value = ThresholdConfig{
			Threshold: 80,
			Enforce:   false,
			Message:   "Goal should be at least 80% complete before moving to the next phase",
		}
	case RuleMandatoryFields:
		value = MandatoryFieldsConfig{
			Fields:  []string{"title", "description", "owner_id", "due_date"},
			Message: "Please fill in all mandatory fields before moving to the next phase",
		}
	case RuleValidation:
		value = ValidationRuleConfig{Script: "", Message: "Custom validation failed"}
	case RuleNotification:
		value = NotificationRuleConfig{NotifyOnStatusChange: true, NotifyAssignees: true, NotifyOwner: true}
	case RuleDurationLimit:
		value = DurationLimitConfig{MaxDays: 30, WarningDays: 25, Enforce: false}
	default:
		return nil, fmt.Errorf("unknown rule type %q", ruleType)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal default %s: %w", ruleType, err)
	}
	return raw, nil
}

func ValidateRule(rule Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return errors.New("name is required")
	}
	if rule.Phase != "" && rule.Phase != PhaseAll && !IsPhase(Status(rule.Phase)) {
		return fmt.Errorf("unknown phase %q", rule.Phase)
	}
	if len(bytes.TrimSpace(rule.Configuration)) == 0 {
		return errors.New("configuration is required")
	}

	switch rule.RuleType {
	case RulePhaseCompletionThreshold:
		var cfg ThresholdConfig
		if err := decodeStrict(rule.Configuration, &cfg); err != nil {
			return err
		}
		if math.IsNaN(cfg.Threshold) || cfg.Threshold < 0 || cfg.Threshold > 100 {
			return errors.New("threshold must be between 0 and 100")
		}
	case RuleMandatoryFields:
		var cfg MandatoryFieldsConfig
		if err := decodeStrict(rule.Configuration, &cfg); err != nil {
			return err
		}
		if len(cfg.Fields) == 0 {
			return errors.New("at least one field is required")
		}
		for _, field := range cfg.Fields {
			if !knownField(field) {
				return fmt.Errorf("unknown goal field %q", field)
			}
		}
	case RuleValidation:
		var cfg ValidationRuleConfig
		if err := decodeStrict(rule.Configuration, &cfg); err != nil {
			return err
		}
	case RuleNotification:
		var cfg NotificationRuleConfig
		if err := decodeStrict(rule.Configuration, &cfg); err != nil {
			return err
		}
	case RuleDurationLimit:
		var cfg DurationLimitConfig
		if err := decodeStrict(rule.Configuration, &cfg); err != nil {
			return err
		}
		if cfg.WarningDays < 0 || cfg.MaxDays < cfg.WarningDays {
			return errors.New("max_days must be at least warning_days and warning_days cannot be negative")
		}
	default:
		return fmt.Errorf("unknown rule type %q", rule.RuleType)
	}
	return nil
}

func decodeStrict(raw json.RawMessage, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func knownField(field string) bool {
	for _, name := range MandatoryFieldNames {
		if name == field {
			return true
		}
	}
	return false
}

// Snapshot is the part of a goal the rules look at.
type Snapshot struct {
	Title           string
	Description     string
	Department      string
	Team            string
	OwnerID         string
	Priority        string
	Progress        int
	StartDate       *time.Time
	DueDate         *time.Time
	Assignees       []string
	StatusChangedAt time.Time
}

func (s Snapshot) fieldSet(field string) bool {
	switch field {
	case "title":
		return strings.TrimSpace(s.Title) != ""
	case "description":
		return strings.TrimSpace(s.Description) != ""
	case "department":
		return strings.TrimSpace(s.Department) != ""
	case "team":
		return strings.TrimSpace(s.Team) != ""
	case "owner_id":
		return strings.TrimSpace(s.OwnerID) != ""
	case "priority":
		return strings.TrimSpace(s.Priority) != ""
	case "start_date":
		return s.StartDate != nil
	case "due_date":
		return s.DueDate != nil
	case "assignees":
		return len(s.Assignees) > 0
	default:
		return true
	}
}

type Evaluation struct {
	Violations []string `json:"violations,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

func (e Evaluation) Allowed() bool {
	return len(e.Violations) == 0
}

// Evaluate applies the active rules scoped to the from status to a goal
// moving from one status to another. Moves into On Hold or Cancelled are
// never blocked by completion or mandatory field rules.
func Evaluate(rules []Rule, goal Snapshot, from, to Status, now time.Time) Evaluation {
	var result Evaluation
	if from == to {
		return result
	}
	advancing := to != StatusOnHold && to != StatusCancelled

	for _, rule := range rules {
		if !rule.IsActive || !appliesTo(rule, from) {
			continue
		}
		switch rule.RuleType {
		case RulePhaseCompletionThreshold:
			var cfg ThresholdConfig
			if json.Unmarshal(rule.Configuration, &cfg) != nil || !advancing {
				continue
			}
			if float64(goal.Progress) >= cfg.Threshold {
				continue
			}
			message := cfg.Message
			if message == "" {
				message = fmt.Sprintf("progress %d%% is below the %.0f%% threshold", goal.Progress, cfg.Threshold)
			}
			if cfg.Enforce {
				result.Violations = append(result.Violations, message)
			} else {
				result.Warnings = append(result.Warnings, message)
			}
		case RuleMandatoryFields:
			var cfg MandatoryFieldsConfig
			if json.Unmarshal(rule.Configuration, &cfg) != nil || !advancing {
				continue
			}
			var missing []string
			for _, field := range cfg.Fields {
				if !goal.fieldSet(field) {
					missing = append(missing, field)
				}
			}
			if len(missing) == 0 {
				continue
			}
			message := cfg.Message
			if message == "" {
				message = "missing mandatory fields"
			}
			result.Violations = append(result.Violations, fmt.Sprintf("%s: %s", message, strings.Join(missing, ", ")))
		case RuleDurationLimit:
			var cfg DurationLimitConfig
			if json.Unmarshal(rule.Configuration, &cfg) != nil {
				continue
			}
			state := PhaseDuration(cfg, goal.StatusChangedAt, now)
			if state.Exceeded {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("goal spent %d days in %s, limit is %d", state.Days, from, cfg.MaxDays))
			} else if state.Warning {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("goal spent %d days in %s, warning after %d", state.Days, from, cfg.WarningDays))
			}
		}
	}
	return result
}

func appliesTo(rule Rule, from Status) bool {
	if rule.Phase == "" || rule.Phase == PhaseAll {
		return IsPhase(from)
	}
	return Status(rule.Phase) == from
}

type DurationState struct {
	Days     int  `json:"days"`
	Warning  bool `json:"warning"`
	Exceeded bool `json:"exceeded"`
	Enforced bool `json:"enforced"`
}

// PhaseDuration reports how long a goal has been in its current status
// against a duration limit.
func PhaseDuration(cfg DurationLimitConfig, since, now time.Time) DurationState {
	if since.IsZero() || now.Before(since) {
		return DurationState{Enforced: cfg.Enforce}
	}
	days := int(now.Sub(since).Hours() / 24)
	return DurationState{
		Days:     days,
		Warning:  cfg.WarningDays > 0 && days >= cfg.WarningDays,
		Exceeded: cfg.MaxDays > 0 && days > cfg.MaxDays,
		Enforced: cfg.Enforce,
	}
}

// DurationFor applies the first active duration_limit rule that covers
// status. It returns nil when no rule applies.
func DurationFor(rules []Rule, status Status, since, now time.Time) *DurationState {
	for _, rule := range rules {
		if !rule.IsActive || rule.RuleType != RuleDurationLimit || !appliesTo(rule, status) {
			continue
		}
		var cfg DurationLimitConfig
		if json.Unmarshal(rule.Configuration, &cfg) != nil {
			continue
		}
		state := PhaseDuration(cfg, since, now)
		return &state
	}
	return nil
}

// NotificationPolicy returns the first active notification_rule that
// applies to from, or the defaults.
func NotificationPolicy(rules []Rule, from Status) NotificationRuleConfig {
	for _, rule := range rules {
		if !rule.IsActive || rule.RuleType != RuleNotification {
			continue
		}
		if rule.Phase != "" && rule.Phase != PhaseAll && Status(rule.Phase) != from {
			continue
		}
		var cfg NotificationRuleConfig
		if err := json.Unmarshal(rule.Configuration, &cfg); err == nil {
			return cfg
		}
	}
	return NotificationRuleConfig{NotifyOnStatusChange: true, NotifyAssignees: true, NotifyOwner: true}
}
