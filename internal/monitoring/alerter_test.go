package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adronaut/strategy-cli/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
		ReviewBacklogLimit:   10,
		CostThresholdUSD:     50.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     10,
		RunsCompleted: 9,
		RunsFailed:    1,
		RunFailRate:   0.1,
		LLMCostUSD:    12.0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
		CostThresholdUSD:     50.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     10,
		RunsCompleted: 6,
		RunsFailed:    4,
		RunFailRate:   0.4, // 4/10 = 40%
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "4 failed / 10 finished")
	assert.Equal(t, 4, alerts[0].Details["failed"])
}

func TestAlerter_Evaluate_ReviewBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
		ReviewBacklogLimit:   10,
		CostThresholdUSD:     50.0,
	})

	snap := &MetricsSnapshot{
		PatchesProposed:    12,
		RunsAwaitingReview: 3,
		LookbackHours:      24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "12 patch(es)")
	assert.Equal(t, 3, alerts[0].Details["awaiting_runs"])
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
		CostThresholdUSD:     50.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     8,
		RunsCompleted: 8,
		LLMCostUSD:    62.40,
		LLMCalls:      410,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "$62.40")
	assert.Contains(t, alerts[0].Message, "$50.00")
	assert.Equal(t, 410, alerts[0].Details["llm_calls"])
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
		ReviewBacklogLimit:   10,
		CostThresholdUSD:     50.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:       8,
		RunsCompleted:   3,
		RunsFailed:      5,
		RunFailRate:     0.625,
		PatchesProposed: 15,
		LLMCostUSD:      80.0,
		LookbackHours:   24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, alert := range alerts {
		types[alert.Type] = true
	}
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertReviewBacklog])
	assert.True(t, types[AlertCostOverrun])
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
		CostThresholdUSD:     50.0,
	})

	// Only 2 finished runs, below the 5-run minimum for the rate alert.
	snap := &MetricsSnapshot{
		RunsTotal:     2,
		RunsFailed:    2,
		RunFailRate:   1.0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroBacklogLimit(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		ReviewBacklogLimit: 0, // disabled
	})

	snap := &MetricsSnapshot{
		PatchesProposed: 100,
		LookbackHours:   24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroCostThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		CostThresholdUSD: 0, // disabled
	})

	snap := &MetricsSnapshot{
		LLMCostUSD:    999.0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_BatchedEnvelope(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "strategy-pipeline", payload.Source)
		assert.False(t, payload.SentAt.IsZero())
		assert.Len(t, payload.Alerts, 2)
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertCostOverrun, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)

	// Both alerts ride in one request.
	assert.Equal(t, int32(1), requests.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_CooldownSuppressesRepeat(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	fired := []Alert{{Type: AlertCostOverrun, Severity: "high", Message: "cost up"}}

	assert.Equal(t, 1, a.SendAlerts(context.Background(), fired))

	// The same type inside the cooldown window never reaches the wire.
	assert.Equal(t, 0, a.SendAlerts(context.Background(), fired))
	assert.Equal(t, int32(1), requests.Load())
}

func TestAlerter_SendAlerts_CooldownFiltersWithinBatch(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		mu.Lock()
		batches = append(batches, payload.Alerts)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCostOverrun, Severity: "high", Message: "cost up"},
	})
	require.Equal(t, 1, sent)

	// Cost is cooling down, so only the backlog alert goes out.
	sent = a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCostOverrun, Severity: "high", Message: "cost up"},
		{Type: AlertReviewBacklog, Severity: "medium", Message: "backlog"},
	})
	assert.Equal(t, 1, sent)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	require.Len(t, batches[1], 1)
	assert.Equal(t, AlertReviewBacklog, batches[1][0].Type)
}

func TestAlerter_SendAlerts_FailedPostDoesNotStartCooldown(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	alerts := []Alert{{Type: AlertRunFailureRate, Severity: "high", Message: "failing"}}

	assert.Equal(t, 0, a.SendAlerts(context.Background(), alerts))

	// The failed delivery must not suppress the retry on the next check.
	fail.Store(false)
	assert.Equal(t, 1, a.SendAlerts(context.Background(), alerts))
}
