package pricing

import (
	"fmt"
	"strings"
)

// TokenUsage is the token breakdown of one call.
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// CostAccuracy indicates reliability of cost value.
type CostAccuracy string

const (
	CostMeasured    CostAccuracy = "measured"
	CostUnavailable CostAccuracy = "unavailable"
)

// CostInfo contains cost details with accuracy tracking.
type CostInfo struct {
	Amount   float64
	Currency string
	Accuracy CostAccuracy
}

// CalculateCost computes the cost of usage at the given price. A nil
// pricing yields an unavailable zero cost.
func CalculateCost(pricing *ModelPricing, usage TokenUsage) *CostInfo {
	if pricing == nil {
		return &CostInfo{Currency: "USD", Accuracy: CostUnavailable}
	}
	if pricing.IsSubscription {
		return &CostInfo{Currency: "USD", Accuracy: CostMeasured}
	}

	total := perMillion(usage.InputTokens, pricing.InputPricePerMillion) +
		perMillion(usage.OutputTokens, pricing.OutputPricePerMillion) +
		perMillion(usage.CacheCreationTokens, pricing.CacheCreationPricePerMillion) +
		perMillion(usage.CacheReadTokens, pricing.CacheReadPricePerMillion)

	return &CostInfo{
		Amount:   total,
		Currency: "USD",
		Accuracy: CostMeasured,
	}
}

func perMillion(tokens int64, price float64) float64 {
	if tokens <= 0 || price <= 0 {
		return 0
	}
	return float64(tokens) / 1_000_000.0 * price
}

// FormatCost formats a cost for display, or "--" when unavailable.
func FormatCost(cost *CostInfo) string {
	if cost == nil || cost.Accuracy == CostUnavailable {
		return "--"
	}
	return fmt.Sprintf("$%.4f", cost.Amount)
}

// ParseModel splits "provider:model". A bare model name yields an empty
// provider.
func ParseModel(s string) (provider, model string) {
	s = strings.TrimSpace(s)
	if p, m, ok := strings.Cut(s, ":"); ok && p != "" && m != "" {
		return p, m
	}
	return "", s
}
