package config

import (
	"fmt"
	"strings"
	"time"
)

// TradingMode selects one of the fixed strategy presets.
type TradingMode string

const (
	ModeAggressive   TradingMode = "aggressive"
	ModeMedium       TradingMode = "medium"
	ModeConservative TradingMode = "conservative"
)

// Range is an inclusive numeric interval.
type Range struct {
	Min float64
	Max float64
}

// ModeConfig is the tuning of one trading mode. Intervals use the exchange's
// notation: minutes as bare numbers ("5", "15").
type ModeConfig struct {
	Mode            TradingMode
	Name            string
	Interval        string
	HigherInterval  string // reversal confirmation timeframe
	LeverageRange   Range
	TakeProfitRange Range // percent
	StopLossRange   Range // percent
	MinConfirmation int   // indicator votes required for consensus
	Pairs           []string
	CycleInterval   time.Duration
	RiskLevel       string
}

var modeConfigs = map[TradingMode]ModeConfig{
	ModeAggressive: {
		Mode:            ModeAggressive,
		Name:            "Aggressive",
		Interval:        "5",
		HigherInterval:  "15",
		LeverageRange:   Range{Min: 20, Max: 50},
		TakeProfitRange: Range{Min: 1.5, Max: 2.5},
		StopLossRange:   Range{Min: 1.0, Max: 1.5},
		MinConfirmation: 3,
		Pairs:           []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOGEUSDT", "XRPUSDT", "ADAUSDT"},
		CycleInterval:   15 * time.Second,
		RiskLevel:       "HIGH",
	},
	ModeMedium: {
		Mode:            ModeMedium,
		Name:            "Medium",
		Interval:        "15",
		HigherInterval:  "60",
		LeverageRange:   Range{Min: 10, Max: 25},
		TakeProfitRange: Range{Min: 2.5, Max: 3.5},
		StopLossRange:   Range{Min: 1.5, Max: 2.5},
		MinConfirmation: 4,
		Pairs:           []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"},
		CycleInterval:   30 * time.Second,
		RiskLevel:       "MEDIUM",
	},
	ModeConservative: {
		Mode:            ModeConservative,
		Name:            "Conservative",
		Interval:        "15",
		HigherInterval:  "240",
		LeverageRange:   Range{Min: 10, Max: 20},
		TakeProfitRange: Range{Min: 4.0, Max: 4.0},
		StopLossRange:   Range{Min: 3.0, Max: 3.0},
		MinConfirmation: 6,
		Pairs:           []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOGEUSDT", "XRPUSDT"},
		CycleInterval:   30 * time.Second,
		RiskLevel:       "LOW",
	},
}

// ModeByName resolves a mode preset by its case-insensitive name.
func ModeByName(name string) (ModeConfig, error) {
	mode, ok := modeConfigs[TradingMode(strings.ToLower(name))]
	if !ok {
		return ModeConfig{}, fmt.Errorf("unsupported trading mode %q", name)
	}
	return mode, nil
}

// AvailableModes lists all presets for the API surface.
func AvailableModes() []ModeConfig {
	out := make([]ModeConfig, 0, len(modeConfigs))
	for _, mode := range []TradingMode{ModeAggressive, ModeMedium, ModeConservative} {
		out = append(out, modeConfigs[mode])
	}
	return out
}
