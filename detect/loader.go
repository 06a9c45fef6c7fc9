package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"seclog/core"
	"seclog/storage"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const ruleTypeCorrelation = "correlation"

// thresholdRuleSchema validates one threshold rule object. A rule is a
// threshold rule whenever its type is anything but "correlation".
const thresholdRuleSchema = `{
  "type": "object",
  "required": ["rule_name", "logfile", "aggregation"],
  "properties": {
    "enabled": {"type": "boolean"},
    "type": {"type": "string"},
    "rule_name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "logfile": {"type": "string", "minLength": 1},
    "conditions": {
      "type": "object",
      "additionalProperties": {"type": ["string", "number", "boolean"]}
    },
    "aggregation": {
      "type": "object",
      "required": ["time_window_minutes", "threshold"],
      "properties": {
        "time_window_minutes": {"type": "integer", "minimum": 1},
        "threshold": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

const correlationRuleSchema = `{
  "type": "object",
  "required": ["rule_name", "time_window_minutes", "steps"],
  "properties": {
    "enabled": {"type": "boolean"},
    "type": {"type": "string", "enum": ["correlation"]},
    "rule_name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "time_window_minutes": {"type": "integer", "minimum": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["logfile"],
        "properties": {
          "logfile": {"type": "string", "minLength": 1},
          "conditions": {
            "type": "object",
            "additionalProperties": {"type": ["string", "number", "boolean"]}
          },
          "threshold": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

var (
	thresholdSchema   = gojsonschema.NewStringLoader(thresholdRuleSchema)
	correlationSchema = gojsonschema.NewStringLoader(correlationRuleSchema)
	ruleValidator     = validator.New()
)

// ruleDocument is the on-disk shape of a rule, shared by both kinds.
type ruleDocument struct {
	Enabled           bool                 `json:"enabled"`
	Type              string               `json:"type"`
	RuleName          string               `json:"rule_name" validate:"required,max=200"`
	Description       string               `json:"description" validate:"max=2000"`
	Logfile           string               `json:"logfile" validate:"max=256"`
	Conditions        map[string]any       `json:"conditions"`
	Aggregation       *aggregationDocument `json:"aggregation"`
	TimeWindowMinutes int                  `json:"time_window_minutes" validate:"omitempty,min=1,max=10080"`
	Steps             []stepDocument       `json:"steps" validate:"omitempty,max=20,dive"`
}

type aggregationDocument struct {
	TimeWindowMinutes int `json:"time_window_minutes" validate:"min=1,max=10080"`
	Threshold         int `json:"threshold" validate:"min=1"`
}

type stepDocument struct {
	Logfile    string         `json:"logfile" validate:"required,max=256"`
	Conditions map[string]any `json:"conditions"`
	Threshold  int            `json:"threshold" validate:"omitempty,min=1"`
}

// RuleIssue describes a rule that was dropped while loading. Index is -1
// when the whole file was rejected.
type RuleIssue struct {
	Index    int    `json:"index"`
	RuleName string `json:"rule_name,omitempty"`
	Reason   string `json:"reason"`
}

func (i RuleIssue) String() string {
	if i.Index < 0 {
		return i.Reason
	}
	if i.RuleName != "" {
		return fmt.Sprintf("rule %d (%s): %s", i.Index, i.RuleName, i.Reason)
	}
	return fmt.Sprintf("rule %d: %s", i.Index, i.Reason)
}

// LoadRules reads a JSON or YAML rule file. A missing or malformed file
// yields an empty rule set; individual invalid rules are dropped. Problems
// are logged as warnings and returned for callers that want to show them.
func LoadRules(filename string, logger *zap.SugaredLogger) (core.RuleSet, []RuleIssue) {
	data, err := os.ReadFile(filename)
	if err != nil {
		logger.Warnw("Rules file unavailable, no rules loaded", "file", filename, "error", err)
		return core.RuleSet{}, []RuleIssue{{Index: -1, Reason: fmt.Sprintf("failed to read rules file: %v", err)}}
	}

	rs, issues := ParseRules(data, isYAML(filename))
	for _, issue := range issues {
		logger.Warnw("Rule dropped", "file", filename, "issue", issue.String())
	}
	th, co := rs.Enabled()
	logger.Infow("Loaded rules",
		"file", filename,
		"threshold", len(rs.Threshold),
		"correlation", len(rs.Correlation),
		"enabled_threshold", th,
		"enabled_correlation", co,
		"dropped", len(issues))
	return rs, issues
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// ParseRules decodes a rule array and converts every valid element.
func ParseRules(data []byte, yamlFormat bool) (core.RuleSet, []RuleIssue) {
	var (
		elements []any
		err      error
	)
	if yamlFormat {
		err = yaml.Unmarshal(data, &elements)
	} else {
		err = json.Unmarshal(data, &elements)
	}
	if err != nil {
		return core.RuleSet{}, []RuleIssue{{Index: -1, Reason: fmt.Sprintf("failed to unmarshal rules: %v", err)}}
	}

	var (
		rs     core.RuleSet
		issues []RuleIssue
		seen   = make(map[string]bool)
	)
	for i, element := range elements {
		doc, err := decodeRule(element)
		if err != nil {
			issues = append(issues, RuleIssue{Index: i, RuleName: ruleNameOf(element), Reason: err.Error()})
			continue
		}
		if seen[doc.RuleName] {
			issues = append(issues, RuleIssue{Index: i, RuleName: doc.RuleName, Reason: "duplicate rule_name"})
			continue
		}

		if doc.Type == ruleTypeCorrelation {
			rule, err := toCorrelationRule(doc)
			if err != nil {
				issues = append(issues, RuleIssue{Index: i, RuleName: doc.RuleName, Reason: err.Error()})
				continue
			}
			rs.Correlation = append(rs.Correlation, rule)
		} else {
			rule, err := toThresholdRule(doc)
			if err != nil {
				issues = append(issues, RuleIssue{Index: i, RuleName: doc.RuleName, Reason: err.Error()})
				continue
			}
			rs.Threshold = append(rs.Threshold, rule)
		}
		seen[doc.RuleName] = true
	}
	return rs, issues
}

// decodeRule validates one element against its schema and decodes it.
func decodeRule(element any) (ruleDocument, error) {
	var doc ruleDocument

	obj, ok := element.(map[string]any)
	if !ok {
		return doc, errors.New("rule is not an object")
	}
	// re-encode so YAML and JSON input go through the same schema
	data, err := json.Marshal(obj)
	if err != nil {
		return doc, fmt.Errorf("failed to encode rule: %w", err)
	}

	schema := thresholdSchema
	if t, _ := obj["type"].(string); t == ruleTypeCorrelation {
		schema = correlationSchema
	}
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return doc, fmt.Errorf("failed to validate rule against schema: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return doc, fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode rule: %w", err)
	}
	if err := ruleValidator.Struct(doc); err != nil {
		return doc, fmt.Errorf("invalid rule: %w", err)
	}
	return doc, nil
}

func ruleNameOf(element any) string {
	if obj, ok := element.(map[string]any); ok {
		if name, ok := obj["rule_name"].(string); ok {
			return name
		}
	}
	return ""
}

func toThresholdRule(doc ruleDocument) (core.ThresholdRule, error) {
	conditions, err := toConditions(doc.Conditions)
	if err != nil {
		return core.ThresholdRule{}, err
	}
	return core.ThresholdRule{
		Name:        doc.RuleName,
		Description: doc.Description,
		Enabled:     doc.Enabled,
		Logfile:     core.ParseLogfile(doc.Logfile),
		Conditions:  conditions,
		TimeWindow:  time.Duration(doc.Aggregation.TimeWindowMinutes) * time.Minute,
		Threshold:   doc.Aggregation.Threshold,
	}, nil
}

func toCorrelationRule(doc ruleDocument) (core.CorrelationRule, error) {
	rule := core.CorrelationRule{
		Name:        doc.RuleName,
		Description: doc.Description,
		Enabled:     doc.Enabled,
		TimeWindow:  time.Duration(doc.TimeWindowMinutes) * time.Minute,
	}
	for i, s := range doc.Steps {
		conditions, err := toConditions(s.Conditions)
		if err != nil {
			return core.CorrelationRule{}, fmt.Errorf("step %d: %w", i+1, err)
		}
		threshold := s.Threshold
		if threshold == 0 {
			threshold = 1
		}
		rule.Steps = append(rule.Steps, core.CorrelationStep{
			Logfile:    core.ParseLogfile(s.Logfile),
			Conditions: conditions,
			Threshold:  threshold,
		})
	}
	return rule, nil
}

// toConditions stringifies condition values; stored columns are text, so
// an event_id written as 4625 must match the stored "4625".
func toConditions(raw map[string]any) (core.Conditions, error) {
	conditions := make(core.Conditions, len(raw))
	for field, value := range raw {
		if !storage.ValidConditionField(field) {
			return nil, fmt.Errorf("unknown condition field %q", field)
		}
		switch v := value.(type) {
		case string:
			conditions[field] = v
		case float64:
			conditions[field] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			conditions[field] = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("condition %q has unsupported value type %T", field, value)
		}
	}
	return conditions, nil
}
