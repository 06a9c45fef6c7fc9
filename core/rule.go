package core

import (
	"sort"
	"time"
)

// Conditions are exact-match field/value pairs over stored log columns.
type Conditions map[string]string

// Fields returns the condition keys in a stable order.
func (c Conditions) Fields() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ThresholdRule fires when the number of records matching Conditions in
// Logfile within TimeWindow reaches Threshold.
type ThresholdRule struct {
	Name        string
	Description string
	Enabled     bool
	Logfile     Logfile
	Conditions  Conditions
	TimeWindow  time.Duration
	Threshold   int
}

// CorrelationStep is one stage of a correlation rule.
type CorrelationStep struct {
	Logfile    Logfile
	Conditions Conditions
	// Threshold defaults to 1
	Threshold int
}

// CorrelationRule fires when every step independently reaches its threshold
// inside one shared window. Steps are not ordered in time relative to each
// other; only co-occurrence in the window is required.
type CorrelationRule struct {
	Name        string
	Description string
	Enabled     bool
	TimeWindow  time.Duration
	Steps       []CorrelationStep
}

// RuleSet is the immutable rule configuration loaded at startup.
type RuleSet struct {
	Threshold   []ThresholdRule
	Correlation []CorrelationRule
}

// Len returns the total number of rules, enabled or not.
func (rs RuleSet) Len() int {
	return len(rs.Threshold) + len(rs.Correlation)
}

// Has reports whether a rule with the given name exists in the configuration.
func (rs RuleSet) Has(name string) bool {
	for _, r := range rs.Threshold {
		if r.Name == name {
			return true
		}
	}
	for _, r := range rs.Correlation {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Enabled returns the number of enabled rules of each kind.
func (rs RuleSet) Enabled() (threshold, correlation int) {
	for _, r := range rs.Threshold {
		if r.Enabled {
			threshold++
		}
	}
	for _, r := range rs.Correlation {
		if r.Enabled {
			correlation++
		}
	}
	return threshold, correlation
}
