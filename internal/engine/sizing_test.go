package engine

import (
	"errors"
	"math"
	"testing"

	"bybit-trading-bot/internal/bybit"
)

func defaultLot() LotConstraints {
	return LotConstraints{
		QtyStep:     0.001,
		MinOrderQty: 0.001,
		MaxOrderQty: 1000,
		MinNotional: 5,
	}
}

func TestSizeOrder(t *testing.T) {
	tests := []struct {
		name     string
		notional float64
		price    float64
		leverage float64
		lot      LotConstraints
		want     float64
	}{
		{
			name:     "leveraged target",
			notional: 1000, price: 50000, leverage: 10,
			lot:  defaultLot(),
			want: 0.002,
		},
		{
			name:     "rounds half up to step",
			notional: 1000, price: 40000, leverage: 10,
			// raw = 0.0025, half up to 0.003
			lot:  defaultLot(),
			want: 0.003,
		},
		{
			name:     "floored at minimum quantity",
			notional: 10, price: 50000, leverage: 1,
			lot:  LotConstraints{QtyStep: 0.001, MinOrderQty: 0.01, MinNotional: 5},
			want: 0.01,
		},
		{
			name:     "bumped to minimum notional",
			notional: 10, price: 1, leverage: 10,
			// raw = 1, but 1 * 1 = 1 USDT is under the 5 USDT floor
			lot:  LotConstraints{QtyStep: 0.1, MinOrderQty: 0.1, MinNotional: 5},
			want: 5,
		},
		{
			name:     "capped at maximum quantity",
			notional: 1e9, price: 1, leverage: 1,
			lot:  defaultLot(),
			want: 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SizeOrder(tt.notional, tt.price, tt.leverage, tt.lot)
			if err != nil {
				t.Fatalf("SizeOrder: %v", err)
			}
			if got != tt.want {
				t.Errorf("SizeOrder = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSizeOrderInvalidInput(t *testing.T) {
	lot := defaultLot()
	if _, err := SizeOrder(0, 100, 10, lot); err == nil {
		t.Error("zero notional should fail")
	}
	if _, err := SizeOrder(1000, 0, 10, lot); err == nil {
		t.Error("zero price should fail")
	}
	if _, err := SizeOrder(1000, 100, 0, lot); err == nil {
		t.Error("zero leverage should fail")
	}
	if _, err := SizeOrder(1000, 100, 10, LotConstraints{}); err == nil {
		t.Error("zero lot step should fail")
	}
}

func TestSizeOrderStepAlignment(t *testing.T) {
	lot := LotConstraints{QtyStep: 0.001, MinOrderQty: 0.001, MinNotional: 5}
	for _, price := range []float64{3, 7, 113, 999.5, 43210.987} {
		qty, err := SizeOrder(1000, price, 10, lot)
		if err != nil {
			t.Fatalf("SizeOrder at price %v: %v", price, err)
		}
		steps := qty / lot.QtyStep
		if math.Abs(steps-math.Round(steps)) > 1e-6 {
			t.Errorf("qty %v at price %v is not a step multiple", qty, price)
		}
	}
}

func TestCheckNotionalBand(t *testing.T) {
	// 0.002 * 50000 * 10 = 1000, exactly on target.
	if err := CheckNotionalBand(0.002, 50000, 10, 1000, 0.2); err != nil {
		t.Errorf("on-target notional rejected: %v", err)
	}
	// 19% off passes a 20% band.
	if err := CheckNotionalBand(0.00238, 50000, 10, 1000, 0.2); err != nil {
		t.Errorf("within-band notional rejected: %v", err)
	}
	// 50% off fails.
	err := CheckNotionalBand(0.003, 50000, 10, 1000, 0.2)
	if !errors.Is(err, ErrBandViolation) {
		t.Errorf("err = %v, want ErrBandViolation", err)
	}
	if err := CheckNotionalBand(0.002, 50000, 10, 0, 0.2); err == nil {
		t.Error("zero target should fail")
	}
}

func TestLotFromInstrument(t *testing.T) {
	lot := LotFromInstrument(&bybit.InstrumentInfo{
		QtyStep:     0.01,
		MinOrderQty: 0.01,
		MaxOrderQty: 500,
	})
	if lot.MinNotional != 5 {
		t.Errorf("missing min notional defaulted to %v, want 5", lot.MinNotional)
	}

	lot = LotFromInstrument(&bybit.InstrumentInfo{QtyStep: 0.01, MinNotional: 10})
	if lot.MinNotional != 10 {
		t.Errorf("reported min notional = %v, want 10", lot.MinNotional)
	}
}

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		value, step, want float64
	}{
		{2.5, 1, 3}, // half rounds up
		{2.4, 1, 2},
		{0.0024, 0.001, 0.002},
		{0.1, 0.1, 0.1},
	}
	for _, tt := range tests {
		if got := roundToStep(tt.value, tt.step); got != tt.want {
			t.Errorf("roundToStep(%v, %v) = %v, want %v", tt.value, tt.step, got, tt.want)
		}
	}
}
