package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"testing"

	"confluence-trader/manage"
	"confluence-trader/risk"
	"confluence-trader/signal"
	"confluence-trader/sim"
)

func TestQuantityForFloorsToStep(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		notional float64
		price    float64
		want     string
	}{
		{
			name:     "BTC step 0.001",
			symbol:   "BTCUSDT",
			notional: 6172.5,
			price:    50000,
			want:     "0.123",
		},
		{
			name:     "SOL whole units",
			symbol:   "SOLUSDT",
			notional: 1567.8,
			price:    10,
			want:     "156",
		},
		{
			name:     "XRP one decimal",
			symbol:   "XRPUSDT",
			notional: 45.67,
			price:    1,
			want:     "45.6",
		},
		{
			name:     "unknown symbol default step",
			symbol:   "PEPEUSDT",
			notional: 1.23456,
			price:    1,
			want:     "1.234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := quantityFor(tt.symbol, tt.notional, tt.price)
			if got.String() != tt.want {
				t.Errorf("quantityFor(%s, %v, %v) = %s, want %s",
					tt.symbol, tt.notional, tt.price, got.String(), tt.want)
			}
		})
	}

	if !quantityFor("BTCUSDT", 100, 0).IsZero() {
		t.Error("zero price should produce zero quantity")
	}
	if !quantityFor("BTCUSDT", 10, 50000).IsZero() {
		t.Error("notional below one step should floor to zero")
	}
}

func TestPriceForRounds(t *testing.T) {
	tests := []struct {
		symbol string
		price  float64
		want   string
	}{
		{"BTCUSDT", 50123.456, "50123.5"},
		{"ETHUSDT", 3200.456, "3200.46"},
		{"DOGEUSDT", 0.123456, "0.12346"},
		{"PEPEUSDT", 1.2345, "1.23"},
	}
	for _, tt := range tests {
		if got := priceFor(tt.symbol, tt.price); got.String() != tt.want {
			t.Errorf("priceFor(%s, %v) = %s, want %s", tt.symbol, tt.price, got.String(), tt.want)
		}
	}
}

func TestSignCoversTimestampedParams(t *testing.T) {
	c := NewBinanceFutures("key", "secret", true, true, 0.0005)

	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	sig := c.sign(params)

	if params.Get("timestamp") == "" {
		t.Fatal("sign should stamp the request")
	}
	if params.Get("recvWindow") != "10000" {
		t.Errorf("recvWindow = %q, want 10000", params.Get("recvWindow"))
	}

	h := hmac.New(sha256.New, []byte("secret"))
	h.Write([]byte(params.Encode()))
	if want := hex.EncodeToString(h.Sum(nil)); sig != want {
		t.Errorf("signature = %s, want %s", sig, want)
	}
}

func TestDryRunFillsAreSynthetic(t *testing.T) {
	c := NewBinanceFutures("", "", true, true, 0.0005)
	ctx := context.Background()

	intent := &risk.OrderIntent{
		Symbol:    "ETHUSDT",
		Direction: signal.SideLong,
		OrderType: risk.OrderMarket,
		Size:      1000,
		Entry:     3200,
		Leverage:  2,
	}
	fill, err := c.PlaceOrder(ctx, intent, sim.Snapshot{Price: 3200})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if fill == nil || fill.Price != 3200 || fill.Notional != 1000 {
		t.Fatalf("dry run fill = %+v, want price 3200 notional 1000", fill)
	}
	if fill.Fees != 1000*0.0005 {
		t.Errorf("Fees = %v, want %v", fill.Fees, 1000*0.0005)
	}

	tr := &manage.Trade{Symbol: "ETHUSDT", Direction: signal.SideLong, PositionSize: 1000}
	fill, err = c.ClosePosition(ctx, tr, 500, 3300, false, sim.Snapshot{Price: 3300})
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if fill == nil || fill.Price != 3300 || fill.Notional != 500 {
		t.Fatalf("dry run close = %+v, want price 3300 notional 500", fill)
	}

	// Dry run never reaches the network.
	if err := c.UpdateStopLoss(ctx, tr, 3100); err != nil {
		t.Errorf("UpdateStopLoss: %v", err)
	}
	if err := c.CloseAllPositions(ctx); err != nil {
		t.Errorf("CloseAllPositions: %v", err)
	}
}

func TestCloseSideIsOppositeOfDirection(t *testing.T) {
	tests := []struct {
		direction signal.Side
		wantSide  string
	}{
		{signal.SideLong, "SELL"},
		{signal.SideShort, "BUY"},
	}
	for _, tt := range tests {
		side := "SELL"
		if tt.direction == signal.SideShort {
			side = "BUY"
		}
		if side != tt.wantSide {
			t.Errorf("close side for %s = %s, want %s", tt.direction, side, tt.wantSide)
		}
	}
}

func TestPaperExecutorRoundTrip(t *testing.T) {
	cfg := sim.Config{
		MinSlipBps: 5,
		ATRCoeff:   2.0,
		SizeRefUSD: 100000,
		SizeMult:   1.0,
		MakerFee:   0.0002,
		TakerFee:   0.0005,
		Spread:     0.0005,
		PathPolicy: sim.PathMidpoint,
	}
	p := NewPaperExecutor(cfg)
	ctx := context.Background()

	intent := &risk.OrderIntent{
		CoinID:    "ethereum",
		Symbol:    "ETHUSDT",
		Direction: signal.SideLong,
		OrderType: risk.OrderMarket,
		Size:      1000,
		Entry:     3200,
		Leverage:  2,
	}
	snap := sim.Snapshot{Price: 3200, High: 3200, Low: 3200, Open: 3200}

	fill, err := p.PlaceOrder(ctx, intent, snap)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if fill == nil {
		t.Fatal("market order should fill")
	}
	if fill.Price <= 3200 {
		t.Errorf("long entry should pay slippage above reference, got %v", fill.Price)
	}
	if fill.Fees != 1000*cfg.TakerFee {
		t.Errorf("entry fees = %v, want %v", fill.Fees, 1000*cfg.TakerFee)
	}

	tr := &manage.Trade{Symbol: "ETHUSDT", Direction: signal.SideLong, PositionSize: 1000}
	exit, err := p.ClosePosition(ctx, tr, 1000, 3300, false, sim.Snapshot{Price: 3300})
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if exit == nil {
		t.Fatal("close should fill")
	}
	if exit.Price >= 3300 {
		t.Errorf("long exit should slip below trigger, got %v", exit.Price)
	}

	// Maker exits fill at the trigger with the maker fee.
	tp, err := p.ClosePosition(ctx, tr, 400, 3300, true, sim.Snapshot{Price: 3300})
	if err != nil {
		t.Fatalf("ClosePosition maker: %v", err)
	}
	if tp.Price != 3300 {
		t.Errorf("maker exit price = %v, want trigger 3300", tp.Price)
	}
	if tp.Fees != 400*cfg.MakerFee {
		t.Errorf("maker fees = %v, want %v", tp.Fees, 400*cfg.MakerFee)
	}

	if err := p.UpdateStopLoss(ctx, tr, 3100); err != nil {
		t.Errorf("UpdateStopLoss: %v", err)
	}
	if err := p.CloseAllPositions(ctx); err != nil {
		t.Errorf("CloseAllPositions: %v", err)
	}
}
