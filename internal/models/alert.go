package models

import "time"

// AlertLevel grades the severity of an emitted alert event.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// AlertCategory identifies the subsystem that raised an alert.
type AlertCategory string

const (
	AlertCategoryRisk        AlertCategory = "risk"
	AlertCategoryLiquidation AlertCategory = "liquidation"
	AlertCategoryExecution   AlertCategory = "execution"
	AlertCategoryCheckpoint  AlertCategory = "checkpoint"
)

// Alert is a structured event raised on risk governor transitions and
// liquidation monitor trigger bands, consumed by an external notification
// layer.
type Alert struct {
	ID        string
	Level     AlertLevel
	Message   string
	Category  AlertCategory
	Timestamp time.Time
}
