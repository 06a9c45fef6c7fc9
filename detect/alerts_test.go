package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"seclog/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleAlert(name string, at time.Time) core.Alert {
	return core.Alert{RuleName: name, Description: "d", TriggerTime: at, Count: 5, Threshold: 5, TimeWindow: 10 * time.Minute}
}

func TestAlertManager_Dedup(t *testing.T) {
	am := NewAlertManager()
	a := sampleAlert("Brute Force", evalNow)

	added := am.ProcessNewAlerts([]core.Alert{a})
	assert.Len(t, added, 1)
	added = am.ProcessNewAlerts([]core.Alert{a})
	assert.Empty(t, added)
	assert.Len(t, am.Active(), 1)

	// a later trigger of the same rule is a different alert
	am.ProcessNewAlerts([]core.Alert{sampleAlert("Brute Force", evalNow.Add(time.Minute))})
	assert.Len(t, am.Active(), 2)
}

func TestAlertManager_OrderAndRemove(t *testing.T) {
	am := NewAlertManager()
	older := sampleAlert("a", evalNow.Add(-time.Hour))
	newer := sampleAlert("b", evalNow)
	am.ProcessNewAlerts([]core.Alert{older})
	am.ProcessNewAlerts([]core.Alert{newer})

	active := am.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "b", active[0].RuleName)

	// snapshot is a copy
	active[0].RuleName = "mutated"
	assert.Equal(t, "b", am.Active()[0].RuleName)

	// equal by value, including a time in another zone
	assert.True(t, am.Remove(sampleAlert("b", evalNow.In(time.FixedZone("X", 3600)))))
	assert.False(t, am.Remove(newer))
	assert.Equal(t, []core.Alert{older}, am.Active())
	assert.True(t, am.Contains(older))
}

func TestAlertManager_Concurrent(t *testing.T) {
	am := NewAlertManager()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			am.ProcessNewAlerts([]core.Alert{sampleAlert("same", evalNow)})
			_ = am.Active()
		}()
	}
	wg.Wait()
	assert.Len(t, am.Active(), 1)
}

// blockingCounter parks the first CountMatching call until released.
type blockingCounter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingCounter) CountMatching(context.Context, core.Logfile, core.Conditions, time.Time) (int, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return 10, nil
}

func TestEvaluator_NoOverlappingPasses(t *testing.T) {
	counter := &blockingCounter{entered: make(chan struct{}), release: make(chan struct{})}
	rules := core.RuleSet{Threshold: []core.ThresholdRule{bruteForceRule(5)}}
	ev := NewEvaluator(rules, counter, NewAlertManager(), zap.NewNop().Sugar(), fixedNow)

	done := make(chan []core.Alert)
	go func() {
		added, _ := ev.Evaluate(context.Background())
		done <- added
	}()
	<-counter.entered

	_, err := ev.Evaluate(context.Background())
	assert.ErrorIs(t, err, ErrEvaluationInProgress)

	close(counter.release)
	added := <-done
	require.Len(t, added, 1)

	// a second pass re-finds the same alert; nothing new is added
	added, err = ev.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Len(t, ev.Alerts().Active(), 1)
}
