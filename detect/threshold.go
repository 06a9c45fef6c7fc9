package detect

import (
	"context"
	"time"

	"seclog/core"

	"go.uber.org/zap"
)

// Counter is the store primitive both engines evaluate against.
type Counter interface {
	CountMatching(ctx context.Context, logfile core.Logfile, conditions core.Conditions, since time.Time) (int, error)
}

// RuleEngine evaluates threshold rules.
type RuleEngine struct {
	rules   []core.ThresholdRule
	counter Counter
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewRuleEngine creates a rule engine over the given rules. now defaults to
// time.Now.
func NewRuleEngine(rules []core.ThresholdRule, counter Counter, logger *zap.SugaredLogger, now func() time.Time) *RuleEngine {
	if now == nil {
		now = time.Now
	}
	return &RuleEngine{
		rules:   rules,
		counter: counter,
		logger:  logger,
		now:     now,
	}
}

// Rules returns the engine's rules.
func (re *RuleEngine) Rules() []core.ThresholdRule {
	return re.rules
}

// Check evaluates every enabled rule and returns the alerts that fired.
// A rule whose count query fails is skipped for this pass.
func (re *RuleEngine) Check(ctx context.Context) []core.Alert {
	now := re.now().UTC()
	var alerts []core.Alert

	for _, rule := range re.rules {
		if !rule.Enabled {
			continue
		}
		windowStart := now.Add(-rule.TimeWindow)
		count, err := re.counter.CountMatching(ctx, rule.Logfile, rule.Conditions, windowStart)
		if err != nil {
			re.logger.Warnw("Threshold rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		if count >= rule.Threshold {
			alerts = append(alerts, core.NewThresholdAlert(rule, count, now))
		}
	}
	return alerts
}
