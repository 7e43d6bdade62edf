package config

import "testing"

func TestModeByName(t *testing.T) {
	tests := []struct {
		name string
		want TradingMode
	}{
		{"aggressive", ModeAggressive},
		{"medium", ModeMedium},
		{"conservative", ModeConservative},
		{"MEDIUM", ModeMedium},
		{"Conservative", ModeConservative},
	}
	for _, tt := range tests {
		mode, err := ModeByName(tt.name)
		if err != nil {
			t.Errorf("ModeByName(%q): %v", tt.name, err)
			continue
		}
		if mode.Mode != tt.want {
			t.Errorf("ModeByName(%q) = %v, want %v", tt.name, mode.Mode, tt.want)
		}
	}

	if _, err := ModeByName("yolo"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}

func TestModePresets(t *testing.T) {
	aggressive, _ := ModeByName("aggressive")
	medium, _ := ModeByName("medium")
	conservative, _ := ModeByName("conservative")

	if aggressive.MinConfirmation != 3 || medium.MinConfirmation != 4 || conservative.MinConfirmation != 6 {
		t.Errorf("confirmation thresholds = %d/%d/%d, want 3/4/6",
			aggressive.MinConfirmation, medium.MinConfirmation, conservative.MinConfirmation)
	}
	if aggressive.Interval != "5" {
		t.Errorf("aggressive interval = %s, want 5", aggressive.Interval)
	}
	if conservative.LeverageRange.Max >= aggressive.LeverageRange.Max {
		t.Error("conservative leverage should be below aggressive")
	}

	for _, mode := range AvailableModes() {
		if mode.LeverageRange.Min > mode.LeverageRange.Max {
			t.Errorf("%s leverage range inverted", mode.Name)
		}
		if mode.TakeProfitRange.Min > mode.TakeProfitRange.Max {
			t.Errorf("%s take-profit range inverted", mode.Name)
		}
		if mode.StopLossRange.Min > mode.StopLossRange.Max {
			t.Errorf("%s stop-loss range inverted", mode.Name)
		}
		if len(mode.Pairs) == 0 {
			t.Errorf("%s has no trading pairs", mode.Name)
		}
		if mode.CycleInterval <= 0 {
			t.Errorf("%s has no cycle interval", mode.Name)
		}
		if mode.HigherInterval == "" {
			t.Errorf("%s has no confirmation timeframe", mode.Name)
		}
	}
}

func TestAvailableModesOrder(t *testing.T) {
	modes := AvailableModes()
	if len(modes) != 3 {
		t.Fatalf("modes = %d, want 3", len(modes))
	}
	want := []TradingMode{ModeAggressive, ModeMedium, ModeConservative}
	for i, mode := range modes {
		if mode.Mode != want[i] {
			t.Errorf("modes[%d] = %v, want %v", i, mode.Mode, want[i])
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.Mode != "medium" {
		t.Errorf("default mode = %s, want medium", cfg.Trading.Mode)
	}
	if cfg.Trading.TargetNotional != 1000 {
		t.Errorf("default target notional = %v, want 1000", cfg.Trading.TargetNotional)
	}
	if cfg.Trading.NotionalBand != 0.20 {
		t.Errorf("default notional band = %v, want 0.20", cfg.Trading.NotionalBand)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if !cfg.Bybit.Testnet {
		t.Error("testnet should default to on")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TRADING_MODE", "aggressive")
	t.Setenv("TARGET_NOTIONAL", "2500")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.Mode != "aggressive" {
		t.Errorf("mode = %s, want aggressive", cfg.Trading.Mode)
	}
	if cfg.Trading.TargetNotional != 2500 {
		t.Errorf("target notional = %v, want 2500", cfg.Trading.TargetNotional)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("TRADING_MODE", "reckless")
	if _, err := Load(); err == nil {
		t.Error("expected an error for an unknown trading mode")
	}
}
