// internal/monitor/alerts.go
package monitor

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/manager"
)

// AlertType represents different types of alerts
type AlertType string

const (
	AlertTypeLiquidationRisk AlertType = "liquidation_risk"
	AlertTypeUtilization     AlertType = "high_utilization"
	AlertTypeIncomplete      AlertType = "incomplete_health"
)

// Alert represents a triggered alert
type Alert struct {
	ID        string             `json:"id"`
	Type      AlertType          `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	User      string             `json:"user,omitempty"`
	Protocol  lending.ProtocolID `json:"protocol,omitempty"`
	Asset     string             `json:"asset,omitempty"`
	Message   string             `json:"message"`
	Severity  string             `json:"severity"` // "info", "warning", "critical"
	Risk      lending.RiskLevel  `json:"risk,omitempty"`
	Value     string             `json:"value,omitempty"`
}

// AlertConfig holds alert configuration
type AlertConfig struct {
	// Lowest risk tier that raises a liquidation alert.
	MinRisk lending.RiskLevel `json:"min_risk"`

	// Market utilisation (WAD) above which an alert is raised; nil disables.
	UtilizationThreshold *big.Int `json:"utilization_threshold"`

	// Alert cooldown to prevent spam
	CooldownDuration time.Duration `json:"cooldown_duration"`
}

// DefaultAlertConfig returns default alert configuration
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		MinRisk:              lending.RiskHigh,
		UtilizationThreshold: fixedpoint.MustWad("0.95"),
		CooldownDuration:     15 * time.Minute,
	}
}

var riskRank = map[lending.RiskLevel]int{
	lending.RiskLow:      0,
	lending.RiskMedium:   1,
	lending.RiskHigh:     2,
	lending.RiskCritical: 3,
}

// AlertManager manages health and market alerts
type AlertManager struct {
	mu     sync.RWMutex
	config AlertConfig
	logger *zap.Logger
	now    func() time.Time

	// Track alerts
	alerts       []Alert
	maxAlerts    int
	alertHistory map[string]time.Time // key -> last alert time

	// Alert handlers
	handlers []AlertHandler
}

// AlertHandler is called when an alert is triggered
type AlertHandler func(alert Alert)

// NewAlertManager creates a new alert manager
func NewAlertManager(config AlertConfig, logger *zap.Logger) *AlertManager {
	if _, ok := riskRank[config.MinRisk]; !ok {
		config.MinRisk = lending.RiskHigh
	}
	return &AlertManager{
		config:       config,
		logger:       logger.Named("alerts"),
		now:          time.Now,
		alerts:       make([]Alert, 0, 100),
		maxAlerts:    1000,
		alertHistory: make(map[string]time.Time),
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.handlers = append(am.handlers, handler)
}

// CheckHealth raises one alert per protocol at or above MinRisk, and an
// info alert when some protocol could not be read.
func (am *AlertManager) CheckHealth(h *manager.AccountHealth) []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	var triggered []Alert
	now := am.now()
	user := h.User.Hex()

	for _, p := range h.Protocols {
		if riskRank[p.Risk] < riskRank[am.config.MinRisk] {
			continue
		}
		key := "risk:" + user + ":" + string(p.Protocol)
		if am.coolingDown(key, now) {
			continue
		}
		severity := "warning"
		if p.Risk == lending.RiskCritical {
			severity = "critical"
		}
		alert := Alert{
			ID:        uuid.NewString(),
			Type:      AlertTypeLiquidationRisk,
			Timestamp: now,
			User:      user,
			Protocol:  p.Protocol,
			Message: fmt.Sprintf("Health factor %s on %s (%s risk)",
				fixedpoint.FormatHealthFactor(p.HealthFactor), p.Protocol, p.Risk),
			Severity: severity,
			Risk:     p.Risk,
			Value:    fixedpoint.FormatHealthFactor(p.HealthFactor),
		}
		am.alertHistory[key] = now
		triggered = append(triggered, alert)
		am.triggerAlert(alert)
	}

	for id, err := range h.Failures {
		key := "incomplete:" + user + ":" + string(id)
		if am.coolingDown(key, now) {
			continue
		}
		alert := Alert{
			ID:        uuid.NewString(),
			Type:      AlertTypeIncomplete,
			Timestamp: now,
			User:      user,
			Protocol:  id,
			Message:   fmt.Sprintf("Could not read %s: %v", id, err),
			Severity:  "info",
		}
		am.alertHistory[key] = now
		triggered = append(triggered, alert)
		am.triggerAlert(alert)
	}

	return triggered
}

// CheckRates raises an alert for every market above the utilisation threshold.
func (am *AlertManager) CheckRates(cmp *manager.ProtocolComparison) []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	if am.config.UtilizationThreshold == nil {
		return nil
	}

	var triggered []Alert
	now := am.now()
	for _, r := range cmp.Rates {
		if r.Utilization == nil || r.Utilization.Cmp(am.config.UtilizationThreshold) <= 0 {
			continue
		}
		key := "util:" + cmp.Asset + ":" + string(r.Protocol)
		if am.coolingDown(key, now) {
			continue
		}
		util := fixedpoint.WadToDecimal(r.Utilization).Shift(2).StringFixed(1) + "%"
		alert := Alert{
			ID:        uuid.NewString(),
			Type:      AlertTypeUtilization,
			Timestamp: now,
			Protocol:  r.Protocol,
			Asset:     cmp.Asset,
			Message:   fmt.Sprintf("%s utilization on %s is %s", cmp.Asset, r.Protocol, util),
			Severity:  "warning",
			Value:     util,
		}
		am.alertHistory[key] = now
		triggered = append(triggered, alert)
		am.triggerAlert(alert)
	}
	return triggered
}

func (am *AlertManager) coolingDown(key string, now time.Time) bool {
	last, ok := am.alertHistory[key]
	return ok && now.Sub(last) < am.config.CooldownDuration
}

// triggerAlert handles alert triggering
func (am *AlertManager) triggerAlert(alert Alert) {
	if len(am.alerts) >= am.maxAlerts {
		am.alerts = am.alerts[1:]
	}
	am.alerts = append(am.alerts, alert)

	fields := []zap.Field{
		zap.String("type", string(alert.Type)),
		zap.String("protocol", string(alert.Protocol)),
		zap.String("message", alert.Message),
	}
	switch alert.Severity {
	case "critical":
		am.logger.Error("Alert triggered", fields...)
	case "warning":
		am.logger.Warn("Alert triggered", fields...)
	default:
		am.logger.Info("Alert triggered", fields...)
	}

	for _, handler := range am.handlers {
		go handler(alert)
	}
}

// GetRecentAlerts returns recent alerts, oldest first
func (am *AlertManager) GetRecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if limit <= 0 || limit > len(am.alerts) {
		limit = len(am.alerts)
	}

	result := make([]Alert, limit)
	copy(result, am.alerts[len(am.alerts)-limit:])
	return result
}

// GetAlertsByUser returns alerts for a specific account
func (am *AlertManager) GetAlertsByUser(user string) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var result []Alert
	for _, alert := range am.alerts {
		if alert.User == user {
			result = append(result, alert)
		}
	}
	return result
}

// ClearHistory clears the alert cooldown history
func (am *AlertManager) ClearHistory() {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.alertHistory = make(map[string]time.Time)
}
