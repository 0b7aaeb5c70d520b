package metrics

import (
	"strings"

	"quoteflow/logger"
)

// DetectLimit inspects a provider error message and reports whether it
// signals throttling or an IP ban. Wording differs per provider.
func DetectLimit(provider, msg string) (rateLimit bool, ipBan bool) {
	lower := strings.ToLower(msg)
	switch strings.ToLower(provider) {
	case "binance":
		rateLimit = strings.Contains(lower, "too many requests") || strings.Contains(lower, "rate limit") ||
			strings.Contains(lower, "code=-1003")
		ipBan = strings.Contains(lower, "ip") && strings.Contains(lower, "ban")
	case "bybit":
		ipBan = strings.Contains(lower, "ip rate limit") || (strings.Contains(lower, "ip") && strings.Contains(lower, "ban"))
		rateLimit = !ipBan && (strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") ||
			strings.Contains(lower, "too many visits") || strings.Contains(lower, "10006"))
	default:
		rateLimit = strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") ||
			strings.Contains(lower, "status 429")
		ipBan = strings.Contains(lower, "ip") && strings.Contains(lower, "ban")
	}
	return
}

// ReportLimitFromMessage records a throttling or ban event when msg matches
// the provider's wording. It reports whether anything matched.
func ReportLimitFromMessage(log *logger.Log, provider, operation, msg string) bool {
	rateLimit, ipBan := DetectLimit(provider, msg)
	if !rateLimit && !ipBan {
		return false
	}
	fields := logger.Fields{"provider": strings.ToLower(provider), "operation": operation}
	l := log.WithComponent("provider_limits").WithFields(fields)
	if rateLimit {
		incLimitEvent(provider, "rate_limit")
		l.LogMetric("provider_limits", "rate_limit_exceeded", int64(1), "counter", fields)
		l.Warn("provider rate limit exceeded")
	}
	if ipBan {
		incLimitEvent(provider, "ip_ban")
		l.LogMetric("provider_limits", "ip_ban", int64(1), "counter", fields)
		l.Error("provider banned this ip")
	}
	return true
}
