package engine

import (
	"errors"
	"fmt"
	"math"

	"bybit-trading-bot/internal/bybit"
)

// ErrBandViolation marks an order whose final notional drifted too far from
// the configured target after exchange-constraint adjustments.
var ErrBandViolation = errors.New("order notional outside acceptance band")

// LotConstraints are the exchange rules a quantity must satisfy.
type LotConstraints struct {
	QtyStep     float64
	MinOrderQty float64
	MaxOrderQty float64
	MinNotional float64
}

// LotFromInstrument converts exchange instrument info into sizing
// constraints, defaulting the minimum notional to 5 USDT when the exchange
// does not report one.
func LotFromInstrument(info *bybit.InstrumentInfo) LotConstraints {
	lot := LotConstraints{
		QtyStep:     info.QtyStep,
		MinOrderQty: info.MinOrderQty,
		MaxOrderQty: info.MaxOrderQty,
		MinNotional: info.MinNotional,
	}
	if lot.MinNotional == 0 {
		lot.MinNotional = 5
	}
	return lot
}

// SizeOrder derives the order quantity for a leveraged target notional:
// quantity = notional / (price * leverage), aligned to the lot step
// (round half up), floored at the exchange minimum and bumped until the
// order value clears the minimum notional.
func SizeOrder(targetNotional, price, leverage float64, lot LotConstraints) (float64, error) {
	if targetNotional <= 0 || price <= 0 || leverage <= 0 {
		return 0, fmt.Errorf("invalid sizing input: notional=%.4f price=%.4f leverage=%.2f",
			targetNotional, price, leverage)
	}
	if lot.QtyStep <= 0 {
		return 0, fmt.Errorf("invalid lot step %.8f", lot.QtyStep)
	}

	raw := targetNotional / (price * leverage)
	qty := roundToStep(raw, lot.QtyStep)

	if qty < lot.MinOrderQty {
		qty = roundUpToStep(lot.MinOrderQty, lot.QtyStep)
	}
	if qty*price < lot.MinNotional {
		qty = roundUpToStep(lot.MinNotional/price, lot.QtyStep)
	}
	if lot.MaxOrderQty > 0 && qty > lot.MaxOrderQty {
		qty = roundToStep(lot.MaxOrderQty, lot.QtyStep)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("sized quantity collapsed to zero for price %.4f", price)
	}
	return qty, nil
}

// CheckNotionalBand verifies the leveraged exposure of the final quantity
// stays within band (e.g. 0.20 for 20 percent) of the target.
func CheckNotionalBand(qty, price, leverage, targetNotional, band float64) error {
	actual := qty * price * leverage
	if targetNotional <= 0 {
		return fmt.Errorf("invalid target notional %.4f", targetNotional)
	}
	deviation := math.Abs(actual-targetNotional) / targetNotional
	if deviation > band {
		return fmt.Errorf("%w: actual %.2f vs target %.2f (%.1f%% off)",
			ErrBandViolation, actual, targetNotional, deviation*100)
	}
	return nil
}

// roundToStep aligns value to the nearest step multiple, half away from zero.
// The final rounding cleans up binary float noise from the division.
func roundToStep(value, step float64) float64 {
	steps := math.Floor(value/step + 0.5)
	return roundFloat(steps*step, 10)
}

func roundUpToStep(value, step float64) float64 {
	steps := math.Ceil(value/step - 1e-9)
	return roundFloat(steps*step, 10)
}

func roundFloat(value float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(value*factor) / factor
}
