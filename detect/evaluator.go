package detect

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"seclog/core"
	"seclog/metrics"

	"go.uber.org/zap"
)

// ErrEvaluationInProgress is returned when a pass is requested while another
// one is still running.
var ErrEvaluationInProgress = errors.New("evaluation already in progress")

// Evaluator runs both engines and hands their alerts to the AlertManager.
// Passes never overlap.
type Evaluator struct {
	rules       core.RuleSet
	threshold   *RuleEngine
	correlation *CorrelationEngine
	alerts      *AlertManager
	logger      *zap.SugaredLogger
	running     atomic.Bool
}

// NewEvaluator wires both engines over counter.
func NewEvaluator(rules core.RuleSet, counter Counter, alerts *AlertManager, logger *zap.SugaredLogger, now func() time.Time) *Evaluator {
	return &Evaluator{
		rules:       rules,
		threshold:   NewRuleEngine(rules.Threshold, counter, logger, now),
		correlation: NewCorrelationEngine(rules.Correlation, counter, logger, now),
		alerts:      alerts,
		logger:      logger,
	}
}

// Rules returns the loaded rule configuration.
func (e *Evaluator) Rules() core.RuleSet {
	return e.rules
}

// Alerts returns the alert manager fed by this evaluator.
func (e *Evaluator) Alerts() *AlertManager {
	return e.alerts
}

// Evaluate runs one pass and returns the alerts that were newly added to
// the active list.
func (e *Evaluator) Evaluate(ctx context.Context) ([]core.Alert, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrEvaluationInProgress
	}
	defer e.running.Store(false)

	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	thresholdAlerts := e.threshold.Check(ctx)
	correlationAlerts := e.correlation.Check(ctx)
	metrics.AlertsTriggered.WithLabelValues("threshold").Add(float64(len(thresholdAlerts)))
	metrics.AlertsTriggered.WithLabelValues("correlation").Add(float64(len(correlationAlerts)))

	candidates := append(thresholdAlerts, correlationAlerts...)
	added := e.alerts.ProcessNewAlerts(candidates)
	for _, a := range added {
		e.logger.Infow("Alert triggered",
			"rule", a.RuleName,
			"count", a.CountString(),
			"threshold", a.ThresholdString(),
			"window_minutes", a.TimeWindowMinutes())
	}
	return added, nil
}
