package signals

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bybit"
)

func testKlines(closes []float64) []bybit.Kline {
	klines := make([]bybit.Kline, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		klines[i] = bybit.Kline{
			StartTime: int64(i),
			Open:      open,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
		}
	}
	return klines
}

func risingCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name            string
		consensus       Consensus
		minConfirmation int
		want            Action
	}{
		{"buy with money flow", Consensus{Buy: 3, CMF: VoteBuy}, 3, ActionBuy},
		{"buy blocked by neutral money flow", Consensus{Buy: 5, CMF: VoteHold}, 3, ActionHold},
		{"buy blocked by opposing money flow", Consensus{Buy: 5, CMF: VoteSell}, 3, ActionHold},
		{"not enough confirmations", Consensus{Buy: 2, CMF: VoteBuy}, 3, ActionHold},
		{"sell with money flow", Consensus{Sell: 4, CMF: VoteSell}, 4, ActionSell},
		{"sell one short", Consensus{Sell: 3, CMF: VoteSell}, 4, ActionHold},
		{"conservative needs six", Consensus{Buy: 5, CMF: VoteBuy}, 6, ActionHold},
		{"conservative buy", Consensus{Buy: 6, CMF: VoteBuy}, 6, ActionBuy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.consensus, tt.minConfirmation); got != tt.want {
				t.Errorf("Decide(%+v, %d) = %v, want %v", tt.consensus, tt.minConfirmation, got, tt.want)
			}
		})
	}
}

func TestEvaluateCountsEveryIndicator(t *testing.T) {
	p := NewProcessor(bybit.NewMockClient(), zerolog.Nop())
	set := p.Evaluate("BTCUSDT", "15", testKlines(risingCloses(100)))

	if len(set.Readings) != 13 {
		t.Fatalf("readings = %d, want 13", len(set.Readings))
	}
	total := set.Consensus.Buy + set.Consensus.Sell + set.Consensus.Hold + set.Consensus.None
	if total != 13 {
		t.Errorf("vote total = %d, want 13", total)
	}
	// ATR never votes.
	if set.Consensus.None < 1 {
		t.Errorf("none count = %d, want at least 1", set.Consensus.None)
	}
}

func TestEvaluateRisingMarketLeansBuy(t *testing.T) {
	p := NewProcessor(bybit.NewMockClient(), zerolog.Nop())
	set := p.Evaluate("BTCUSDT", "15", testKlines(risingCloses(100)))

	if set.Consensus.Buy <= set.Consensus.Sell {
		t.Errorf("steady rise consensus buy=%d sell=%d, want buy dominant", set.Consensus.Buy, set.Consensus.Sell)
	}
	votes := set.Votes()
	if votes["SMA"] != VoteBuy {
		t.Errorf("SMA vote = %v, want BUY with fast above slow", votes["SMA"])
	}
	if votes["EMA"] != VoteBuy {
		t.Errorf("EMA vote = %v, want BUY with fast above slow", votes["EMA"])
	}
	if votes["ATR"] != VoteNone {
		t.Errorf("ATR vote = %v, want NONE", votes["ATR"])
	}
	if votes["SUPERTREND"] != VoteBuy {
		t.Errorf("SUPERTREND vote = %v, want BUY riding an uptrend", votes["SUPERTREND"])
	}
}

func TestEvaluateTiedAveragesHold(t *testing.T) {
	p := NewProcessor(bybit.NewMockClient(), zerolog.Nop())
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 100
	}
	set := p.Evaluate("BTCUSDT", "15", testKlines(closes))

	votes := set.Votes()
	if votes["SMA"] != VoteHold {
		t.Errorf("SMA vote on equal averages = %v, want HOLD", votes["SMA"])
	}
	if votes["EMA"] != VoteHold {
		t.Errorf("EMA vote on equal averages = %v, want HOLD", votes["EMA"])
	}
	if votes["OBV"] != VoteHold {
		t.Errorf("OBV vote on a flat slope = %v, want HOLD", votes["OBV"])
	}
}

func TestEvaluateInvalidReadingsCountAsHold(t *testing.T) {
	p := NewProcessor(bybit.NewMockClient(), zerolog.Nop())
	// Ten candles break every indicator that needs a longer window.
	set := p.Evaluate("BTCUSDT", "15", testKlines(risingCloses(10)))

	invalidCount := 0
	for _, r := range set.Readings {
		if !r.Valid {
			invalidCount++
			if r.Vote != VoteHold {
				t.Errorf("invalid %s vote = %v, want HOLD", r.Name, r.Vote)
			}
		}
	}
	if invalidCount == 0 {
		t.Error("expected some indicators to be invalid on ten candles")
	}
}

func TestGetSignalsCachesResult(t *testing.T) {
	client := bybit.NewMockClient()
	client.Klines["BTCUSDT_15"] = testKlines(risingCloses(100))
	p := NewProcessor(client, zerolog.Nop())

	first, err := p.GetSignals("BTCUSDT", "15")
	if err != nil {
		t.Fatalf("GetSignals: %v", err)
	}
	second, err := p.GetSignals("BTCUSDT", "15")
	if err != nil {
		t.Fatalf("GetSignals: %v", err)
	}
	if first != second {
		t.Error("expected the cached set pointer on the second call")
	}
}

func TestGetSignalsInsufficientData(t *testing.T) {
	client := bybit.NewMockClient()
	client.Klines["BTCUSDT_15"] = testKlines(risingCloses(20))
	p := NewProcessor(client, zerolog.Nop())

	_, err := p.GetSignals("BTCUSDT", "15")
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}
