package engine

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bybit"
)

// RetryPolicy governs resubmission of rejected orders. Margin-insufficiency
// rejections grow the quantity by GrowthFactor each attempt (the exchange
// refuses sub-minimum margin orders at low quantities) up to MaxQuantity;
// any other rejection is final.
type RetryPolicy struct {
	MaxAttempts  int
	GrowthFactor float64
	MaxQuantity  float64
	Retryable    func(*bybit.OrderResult) bool
	Logger       zerolog.Logger
}

func DefaultRetryPolicy(logger zerolog.Logger) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		GrowthFactor: 2.0,
		MaxQuantity:  1000,
		Retryable:    IsMarginInsufficient,
		Logger:       logger.With().Str("component", "order_retry").Logger(),
	}
}

// IsMarginInsufficient matches the exchange's margin rejection by code, with
// a message fallback for gateways that rewrite codes.
func IsMarginInsufficient(result *bybit.OrderResult) bool {
	if result == nil {
		return false
	}
	if result.RetCode == bybit.RetCodeInsufficientMargin {
		return true
	}
	return strings.Contains(strings.ToLower(result.RetMsg), "ab not enough for new order")
}

// Execute submits via submit, retrying with grown quantities on retryable
// rejections. It returns the last result, the quantity that produced it,
// and an error only for transport failures or attempt exhaustion.
func (p RetryPolicy) Execute(qty float64, submit func(qty float64) (*bybit.OrderResult, error)) (*bybit.OrderResult, float64, error) {
	var last *bybit.OrderResult

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := submit(qty)
		if err != nil {
			return nil, qty, fmt.Errorf("order submit attempt %d: %w", attempt, err)
		}
		last = result

		if result.OK() || p.Retryable == nil || !p.Retryable(result) {
			return result, qty, nil
		}

		next := qty * p.GrowthFactor
		if p.MaxQuantity > 0 && next > p.MaxQuantity {
			next = p.MaxQuantity
		}
		p.Logger.Warn().
			Int("attempt", attempt).
			Float64("qty", qty).
			Float64("nextQty", next).
			Str("reason", result.RetMsg).
			Msg("order rejected, retrying with larger quantity")

		if next == qty {
			break
		}
		qty = next
	}

	return last, qty, fmt.Errorf("order rejected after %d attempts: %s", p.MaxAttempts, last.RetMsg)
}
