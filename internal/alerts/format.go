package alerts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/polymercado/engine/internal/domain"
)

// FormatMessage renders a signal into the channel-agnostic alert body:
// severity, type, the principal numbers, and a deep link to the signal
// detail page when a base URL is configured.
func FormatMessage(ev domain.SignalEvent, detailBaseURL string) (title, body string) {
	prefix := fmt.Sprintf("[SEV%d]", ev.Severity)

	var payload map[string]any
	_ = json.Unmarshal(ev.Payload, &payload)

	switch ev.SignalType {
	case domain.SignalArbBuyBoth:
		edge := payloadNumber(payload, "edge_at_q_max")
		qMax := payloadNumber(payload, "q_max")
		title = fmt.Sprintf("%s Arb buy-both", prefix)
		if edge != nil {
			body = fmt.Sprintf("%.2f%% edge @ %s shares", *edge*100, formatShares(qMax))
		} else {
			body = fmt.Sprintf("edge @ %s shares", formatShares(qMax))
		}
	case domain.SignalLargeTakerTrade, domain.SignalLargeNewWalletTrade, domain.SignalDormantReactivation:
		notional := payloadNumber(payload, "notional_usd")
		name := payloadString(payload, "market_title")
		if name == "" {
			name = payloadString(payload, "market_slug")
		}
		title = fmt.Sprintf("%s %s", prefix, tradeLabel(ev.SignalType))
		if notional != nil {
			body = fmt.Sprintf("$%.0f %s", *notional, name)
		} else {
			body = name
		}
	case domain.SignalNewMarket:
		title = fmt.Sprintf("%s New market", prefix)
		body = payloadString(payload, "title")
	default:
		title = fmt.Sprintf("%s %s", prefix, ev.SignalType)
	}

	if detailBaseURL != "" {
		link := fmt.Sprintf("%s/signals/%d", strings.TrimRight(detailBaseURL, "/"), ev.ID)
		if body != "" {
			body += "\n" + link
		} else {
			body = link
		}
	}
	return title, body
}

func tradeLabel(st domain.SignalType) string {
	switch st {
	case domain.SignalLargeNewWalletTrade:
		return "Large new-wallet trade"
	case domain.SignalDormantReactivation:
		return "Dormant wallet reactivation"
	default:
		return "Large taker trade"
	}
}

func formatShares(v *float64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%.0f", *v)
}

func payloadNumber(payload map[string]any, key string) *float64 {
	if payload == nil {
		return nil
	}
	switch v := payload[key].(type) {
	case float64:
		return &v
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return &f
		}
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
