package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUnresolvedRatio AlertType = "unresolved_ratio"
	AlertUnresolvedSpike AlertType = "unresolved_spike"
	AlertSpend           AlertType = "spend_near_cap"
	AlertBreakerTripped  AlertType = "breaker_tripped"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	City      string         `json:"city,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config. An
// unset spike factor defaults to 2.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	if cfg.UnresolvedSpikeFactor <= 0 {
		cfg.UnresolvedSpikeFactor = 2
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	cities := make([]string, 0, len(snap.Cities))
	for c := range snap.Cities {
		cities = append(cities, c)
	}
	sort.Strings(cities)

	for _, city := range cities {
		h := snap.Cities[city]
		if a.cfg.UnresolvedRatioThreshold > 0 && h.LatestUnresolvedRatio > a.cfg.UnresolvedRatioThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertUnresolvedRatio,
				Severity: "medium",
				City:     city,
				Message: fmt.Sprintf("%s: %.1f%% of research signals unresolved (threshold %.1f%%)",
					city, h.LatestUnresolvedRatio*100, a.cfg.UnresolvedRatioThreshold*100),
				Details: map[string]any{
					"ratio":     h.LatestUnresolvedRatio,
					"threshold": a.cfg.UnresolvedRatioThreshold,
				},
				Timestamp: now,
			})
		}
		// A spike needs history to compare against.
		if h.TrailingJobs > 0 && h.TrailingMeanRatio > 0 &&
			h.LatestUnresolvedRatio > a.cfg.UnresolvedSpikeFactor*h.TrailingMeanRatio {
			alerts = append(alerts, Alert{
				Type:     AlertUnresolvedSpike,
				Severity: "medium",
				City:     city,
				Message: fmt.Sprintf("%s: unresolved ratio %.1f%% is over %.0fx the trailing mean %.1f%%",
					city, h.LatestUnresolvedRatio*100, a.cfg.UnresolvedSpikeFactor, h.TrailingMeanRatio*100),
				Details: map[string]any{
					"ratio":         h.LatestUnresolvedRatio,
					"trailing_mean": h.TrailingMeanRatio,
					"trailing_jobs": h.TrailingJobs,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.SpendAlertFraction > 0 && snap.DailyCapUSD > 0 &&
		snap.DailySpendUSD >= a.cfg.SpendAlertFraction*snap.DailyCapUSD {
		alerts = append(alerts, Alert{
			Type:     AlertSpend,
			Severity: "high",
			Message: fmt.Sprintf("Daily spend $%.2f is %.0f%% of the $%.2f cap",
				snap.DailySpendUSD, snap.DailySpendUSD/snap.DailyCapUSD*100, snap.DailyCapUSD),
			Details: map[string]any{
				"spend_usd": snap.DailySpendUSD,
				"cap_usd":   snap.DailyCapUSD,
			},
			Timestamp: now,
		})
	}

	if snap.BreakerTripped {
		alerts = append(alerts, Alert{
			Type:     AlertBreakerTripped,
			Severity: "high",
			Message: fmt.Sprintf("Circuit breaker open after %d consecutive failed jobs; automatic triggers are refused",
				snap.ConsecutiveFailures),
			Details: map[string]any{
				"consecutive_failures": snap.ConsecutiveFailures,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("city", alert.City),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
