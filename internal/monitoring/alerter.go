package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/config"
)

// AlertType identifies the condition that raised an alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertReviewBacklog  AlertType = "review_backlog"
	AlertCostOverrun    AlertType = "cost_overrun"
)

// resendCooldown is how long a delivered alert type stays suppressed.
// A condition that persists across checks pages once per window, not
// once per tick.
const resendCooldown = time.Hour

// Alert is a single threshold breach.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// webhookPayload is the envelope posted to the webhook. Every alert from
// one evaluation cycle goes out in a single request.
type webhookPayload struct {
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
	Alerts []Alert   `json:"alerts"`
}

// Alerter turns metric snapshots into alerts and batches them out to the
// configured webhook. Delivery is best effort: a failed post is logged
// and the same alerts fire again on the next check.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client

	mu        sync.Mutex
	delivered map[AlertType]time.Time
}

// NewAlerter builds an Alerter from the monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:       cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		delivered: make(map[AlertType]time.Time),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// The failure-rate check waits for at least 5 finished runs so a single
// early failure does not page anyone.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsCompleted + snap.RunsFailed
	if finished >= 5 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ReviewBacklogLimit > 0 && snap.PatchesProposed >= a.cfg.ReviewBacklogLimit {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d patch(es) awaiting human review in last %dh (limit %d)",
				snap.PatchesProposed, snap.LookbackHours, a.cfg.ReviewBacklogLimit,
			),
			Details: map[string]any{
				"proposed":      snap.PatchesProposed,
				"backlog_limit": a.cfg.ReviewBacklogLimit,
				"awaiting_runs": snap.RunsAwaitingReview,
				"approved":      snap.PatchesApproved,
				"rejected":      snap.PatchesRejected,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.LLMCostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"API cost $%.2f exceeds threshold $%.2f",
				snap.LLMCostUSD, a.cfg.CostThresholdUSD,
			),
			Details: map[string]any{
				"cost_usd":      snap.LLMCostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"llm_calls":     snap.LLMCalls,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts the alerts to the webhook as one batched payload,
// dropping any type already delivered within the cooldown window.
// Returns the number of alerts in the delivered batch, 0 when nothing
// was due or the post failed.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	due := a.dueAlerts(alerts)
	if len(due) == 0 {
		return 0
	}

	if err := a.postWebhook(ctx, due); err != nil {
		zap.L().Error("monitoring: webhook delivery failed",
			zap.Int("alerts", len(due)),
			zap.Error(err),
		)
		return 0
	}
	a.markDelivered(due)
	return len(due)
}

// dueAlerts filters out alert types still inside the cooldown window.
func (a *Alerter) dueAlerts(alerts []Alert) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	due := make([]Alert, 0, len(alerts))
	var suppressed []string
	for _, alert := range alerts {
		if last, ok := a.delivered[alert.Type]; ok && time.Since(last) < resendCooldown {
			suppressed = append(suppressed, string(alert.Type))
			continue
		}
		due = append(due, alert)
	}
	if len(suppressed) > 0 {
		zap.L().Debug("monitoring: alerts suppressed by cooldown",
			zap.Strings("types", suppressed),
		)
	}
	return due
}

func (a *Alerter) markDelivered(alerts []Alert) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, alert := range alerts {
		a.delivered[alert.Type] = now
	}
}

// postWebhook sends one envelope carrying the whole batch.
func (a *Alerter) postWebhook(ctx context.Context, alerts []Alert) error {
	body, err := json.Marshal(webhookPayload{
		Source: "strategy-pipeline",
		SentAt: time.Now().UTC(),
		Alerts: alerts,
	})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
