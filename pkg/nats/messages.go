package nats

import (
	"time"

	"github.com/quantcore/tradingcore/pkg/types"
)

// OrderEventMessage is the wire payload published on an orders.{event}.
// {symbol} subject by the Order Manager (spec §4.F).
type OrderEventMessage struct {
	Event     string      `json:"event"`
	Order     types.Order `json:"order"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RiskAlertMessage is the payload PublishRiskAlert sends for a blocking
// risk violation (spec §4.G). The Risk Manager does not publish it itself.
type RiskAlertMessage struct {
	RuleType     string          `json:"rule_type"`
	RuleName     string          `json:"rule_name"`
	Symbol       string          `json:"symbol"`
	Message      string          `json:"message"`
	CurrentValue string          `json:"current_value"`
	LimitValue   string          `json:"limit_value"`
	Severity     string          `json:"severity"`
	Timestamp    time.Time       `json:"timestamp"`
}

// SystemMessage carries component-level informational/warning/error
// events not tied to a specific order.
type SystemMessage struct {
	Type      string                 `json:"type"` // info, warning, error
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
