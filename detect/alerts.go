package detect

import (
	"sync"

	"seclog/core"
)

// AlertManager holds the active alerts for the life of the process.
type AlertManager struct {
	mu     sync.RWMutex
	active []core.Alert
}

// NewAlertManager creates an empty alert manager.
func NewAlertManager() *AlertManager {
	return &AlertManager{}
}

// ProcessNewAlerts adds every alert not already active and returns the ones
// that were added. The active list stays ordered newest first.
func (am *AlertManager) ProcessNewAlerts(alerts []core.Alert) []core.Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	var added []core.Alert
	for _, a := range alerts {
		if am.indexOf(a) >= 0 {
			continue
		}
		am.active = append(am.active, a)
		added = append(added, a)
	}
	if len(added) > 0 {
		core.SortAlertsNewestFirst(am.active)
	}
	return added
}

// Active returns a snapshot of the active alerts, newest first.
func (am *AlertManager) Active() []core.Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()
	out := make([]core.Alert, len(am.active))
	copy(out, am.active)
	return out
}

// Contains reports whether an identical alert is active.
func (am *AlertManager) Contains(alert core.Alert) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.indexOf(alert) >= 0
}

// Remove drops the alert equal to alert. It reports whether one was found.
func (am *AlertManager) Remove(alert core.Alert) bool {
	am.mu.Lock()
	defer am.mu.Unlock()
	i := am.indexOf(alert)
	if i < 0 {
		return false
	}
	am.active = append(am.active[:i], am.active[i+1:]...)
	return true
}

// indexOf must be called with mu held.
func (am *AlertManager) indexOf(alert core.Alert) int {
	for i, a := range am.active {
		if alertsEqual(a, alert) {
			return i
		}
	}
	return -1
}

// alertsEqual compares trigger times with Equal so that alerts decoded from
// JSON match the ones produced in-process.
func alertsEqual(a, b core.Alert) bool {
	return a.RuleName == b.RuleName &&
		a.Description == b.Description &&
		a.TriggerTime.Equal(b.TriggerTime) &&
		a.Count == b.Count &&
		a.Threshold == b.Threshold &&
		a.TimeWindow == b.TimeWindow
}
