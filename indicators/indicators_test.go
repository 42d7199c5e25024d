package indicators

import (
	"math"
	"testing"

	"confluence-trader/market"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// flatCandles builds n identical bars at the given price.
func flatCandles(n int, price float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			OpenTime: int64(i) * 3600000,
			Open:     price, High: price, Low: price, Close: price,
			Volume: 100,
		}
	}
	return out
}

// trendCandles builds n bars stepping by delta per bar from start, with a
// small range around each close.
func trendCandles(n int, start, delta float64) []market.Candle {
	out := make([]market.Candle, n)
	price := start
	for i := range out {
		out[i] = market.Candle{
			OpenTime: int64(i) * 3600000,
			Open:     price,
			High:     price + math.Abs(delta),
			Low:      price - math.Abs(delta),
			Close:    price + delta,
			Volume:   100,
		}
		price += delta
	}
	return out
}

func TestSMA(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		period int
		want   float64
	}{
		{"simple window", []float64{1, 2, 3, 4, 5}, 5, 3},
		{"uses last period values", []float64{10, 10, 1, 2, 3}, 3, 2},
		{"short slice falls back", []float64{4, 6}, 5, 5},
		{"empty", nil, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SMA(tt.values, tt.period)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("SMA() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestEMA_SeededWithSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	// Seed = SMA(1..5) = 3, then one step with multiplier 2/6.
	want := (6.0-3.0)*(2.0/6.0) + 3.0
	got := EMA(values, 5)
	if !almostEqual(got, want, 1e-9) {
		t.Errorf("EMA() = %f, want %f", got, want)
	}
}

func TestEMASeries_MatchesEMA(t *testing.T) {
	values := []float64{5, 7, 6, 8, 9, 11, 10, 12, 13, 12, 14, 15}
	series := EMASeries(values, 5)
	if len(series) != len(values) {
		t.Fatalf("series length = %d, want %d", len(series), len(values))
	}
	if !almostEqual(series[len(series)-1], EMA(values, 5), 1e-9) {
		t.Errorf("series last = %f, EMA = %f", series[len(series)-1], EMA(values, 5))
	}
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		check  func(t *testing.T, rsi float64)
	}{
		{
			name:   "all gains saturates high",
			values: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
			check: func(t *testing.T, rsi float64) {
				if rsi != 100 {
					t.Errorf("RSI = %f, want 100", rsi)
				}
			},
		},
		{
			name:   "all losses saturates low",
			values: []float64{16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1},
			check: func(t *testing.T, rsi float64) {
				if rsi > 1 {
					t.Errorf("RSI = %f, want near 0", rsi)
				}
			},
		},
		{
			name:   "too short is neutral",
			values: []float64{1, 2, 3},
			check: func(t *testing.T, rsi float64) {
				if rsi != 50 {
					t.Errorf("RSI = %f, want 50", rsi)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, RSI(tt.values, 14))
		})
	}
}

func TestMACDSeries_SignalIsEMAOfMACD(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + 5*math.Sin(float64(i)/5)
	}

	macdLine, signalLine, hist := MACDSeries(values)
	if len(macdLine) != 60 || len(signalLine) != 60 || len(hist) != 60 {
		t.Fatalf("series lengths = %d/%d/%d, want 60", len(macdLine), len(signalLine), len(hist))
	}
	wantSignal := EMASeries(macdLine, 9)
	for i := range signalLine {
		if !almostEqual(signalLine[i], wantSignal[i], 1e-9) {
			t.Fatalf("signal[%d] = %f, want %f", i, signalLine[i], wantSignal[i])
		}
		if !almostEqual(hist[i], macdLine[i]-signalLine[i], 1e-9) {
			t.Fatalf("hist[%d] = %f, want %f", i, hist[i], macdLine[i]-signalLine[i])
		}
	}
}

func TestATR(t *testing.T) {
	t.Run("flat market has zero range", func(t *testing.T) {
		got := ATR(flatCandles(30, 100), 14)
		if got != 0 {
			t.Errorf("ATR = %f, want 0", got)
		}
	})

	t.Run("constant range converges to range", func(t *testing.T) {
		candles := make([]market.Candle, 40)
		for i := range candles {
			candles[i] = market.Candle{Open: 100, High: 102, Low: 98, Close: 100, Volume: 10}
		}
		got := ATR(candles, 14)
		if !almostEqual(got, 4, 1e-9) {
			t.Errorf("ATR = %f, want 4", got)
		}
	})

	t.Run("too short returns zero", func(t *testing.T) {
		if got := ATR(flatCandles(5, 100), 14); got != 0 {
			t.Errorf("ATR = %f, want 0", got)
		}
	})
}

func TestADX_TrendingVsFlat(t *testing.T) {
	trending := ADX(trendCandles(80, 100, 1.0), 14)
	flat := ADX(flatCandles(80, 100), 14)

	if trending < 20 {
		t.Errorf("trending ADX = %f, want >= 20", trending)
	}
	if flat != 0 {
		t.Errorf("flat ADX = %f, want 0", flat)
	}
}

func TestBollinger(t *testing.T) {
	t.Run("flat series collapses bands", func(t *testing.T) {
		upper, middle, lower := Bollinger([]float64{5, 5, 5, 5, 5}, 5, 2)
		if upper != 5 || middle != 5 || lower != 5 {
			t.Errorf("bands = %f/%f/%f, want 5/5/5", upper, middle, lower)
		}
	})

	t.Run("bands are symmetric around mean", func(t *testing.T) {
		upper, middle, lower := Bollinger([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 10, 2)
		if !almostEqual(upper-middle, middle-lower, 1e-9) {
			t.Errorf("asymmetric bands: %f vs %f", upper-middle, middle-lower)
		}
		if !almostEqual(middle, 5.5, 1e-9) {
			t.Errorf("middle = %f, want 5.5", middle)
		}
	})
}

func TestStochastic(t *testing.T) {
	t.Run("close at window high", func(t *testing.T) {
		candles := trendCandles(30, 100, 1.0)
		k, _ := Stochastic(candles, 14, 3)
		if k < 80 {
			t.Errorf("%%K = %f, want >= 80 in an uptrend closing near highs", k)
		}
	})

	t.Run("flat window is neutral", func(t *testing.T) {
		k, d := Stochastic(flatCandles(30, 100), 14, 3)
		if k != 50 || d != 50 {
			t.Errorf("%%K/%%D = %f/%f, want 50/50", k, d)
		}
	})
}

func TestOBVSeries(t *testing.T) {
	candles := []market.Candle{
		{Close: 10, Volume: 100},
		{Close: 11, Volume: 200}, // +200
		{Close: 10, Volume: 150}, // -150
		{Close: 10, Volume: 300}, // flat
		{Close: 12, Volume: 50},  // +50
	}
	want := []float64{0, 200, 50, 50, 100}

	got := OBVSeries(candles)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OBV[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestVWAP(t *testing.T) {
	candles := []market.Candle{
		{High: 12, Low: 8, Close: 10, Volume: 100},  // typical 10
		{High: 22, Low: 18, Close: 20, Volume: 300}, // typical 20
	}
	// (10*100 + 20*300) / 400 = 17.5
	got := VWAP(candles)
	if !almostEqual(got, 17.5, 1e-9) {
		t.Errorf("VWAP = %f, want 17.5", got)
	}
}

func TestDeterminism(t *testing.T) {
	candles := trendCandles(100, 50, 0.7)
	closes := Closes(candles)

	for i := 0; i < 3; i++ {
		if RSI(closes, 14) != RSI(closes, 14) {
			t.Fatal("RSI not deterministic")
		}
		if ATR(candles, 14) != ATR(candles, 14) {
			t.Fatal("ATR not deterministic")
		}
		m1, s1, h1 := MACD(closes)
		m2, s2, h2 := MACD(closes)
		if m1 != m2 || s1 != s2 || h1 != h2 {
			t.Fatal("MACD not deterministic")
		}
	}
}
