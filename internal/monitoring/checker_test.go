package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/adronaut/strategy-cli/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(testStore(t), nil)
	alerter := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
	})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Let the immediate first check complete, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Run returned.
	case <-time.After(5 * time.Second):
		t.Fatal("Run still blocked after cancel")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	collector := NewCollector(testStore(t), nil)
	alerter := NewAlerter(config.MonitoringConfig{})

	checker := NewChecker(collector, alerter, config.MonitoringConfig{})
	assert.Equal(t, 5*time.Minute, checker.interval)

	checker = NewChecker(collector, alerter, config.MonitoringConfig{CheckIntervalSecs: 30})
	assert.Equal(t, 30*time.Second, checker.interval)
}

func TestChecker_RunWithCancelledContext(t *testing.T) {
	collector := NewCollector(testStore(t), nil)
	alerter := NewAlerter(config.MonitoringConfig{})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{CheckIntervalSecs: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The pre-cancelled context skips the first check and exits at once.
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Checker.Run did not exit with a cancelled context")
	}
}
