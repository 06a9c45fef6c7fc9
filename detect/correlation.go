package detect

import (
	"context"
	"time"

	"seclog/core"

	"go.uber.org/zap"
)

// CorrelationEngine evaluates multi-step correlation rules.
//
// Every step of a rule is counted over the same window, [now-window, now].
// The engine checks co-occurrence only: it does not require step 1's events
// to precede step 2's, so a rule fires as soon as each step has reached its
// own threshold somewhere inside the window.
type CorrelationEngine struct {
	rules   []core.CorrelationRule
	counter Counter
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewCorrelationEngine creates a correlation engine. now defaults to
// time.Now.
func NewCorrelationEngine(rules []core.CorrelationRule, counter Counter, logger *zap.SugaredLogger, now func() time.Time) *CorrelationEngine {
	if now == nil {
		now = time.Now
	}
	return &CorrelationEngine{
		rules:   rules,
		counter: counter,
		logger:  logger,
		now:     now,
	}
}

// Rules returns the engine's rules.
func (ce *CorrelationEngine) Rules() []core.CorrelationRule {
	return ce.rules
}

// Check evaluates every enabled rule and returns one alert per rule whose
// steps all cleared their thresholds.
func (ce *CorrelationEngine) Check(ctx context.Context) []core.Alert {
	now := ce.now().UTC()
	var alerts []core.Alert

	for _, rule := range ce.rules {
		if !rule.Enabled || len(rule.Steps) == 0 {
			continue
		}
		fired, err := ce.matches(ctx, rule, now.Add(-rule.TimeWindow))
		if err != nil {
			ce.logger.Warnw("Correlation rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		if fired {
			alerts = append(alerts, core.NewCorrelationAlert(rule, now))
		}
	}
	return alerts
}

// matches stops at the first step below its threshold.
func (ce *CorrelationEngine) matches(ctx context.Context, rule core.CorrelationRule, windowStart time.Time) (bool, error) {
	for _, step := range rule.Steps {
		threshold := step.Threshold
		if threshold <= 0 {
			threshold = 1
		}
		count, err := ce.counter.CountMatching(ctx, step.Logfile, step.Conditions, windowStart)
		if err != nil {
			return false, err
		}
		if count < threshold {
			return false, nil
		}
	}
	return true, nil
}
