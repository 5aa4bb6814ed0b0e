package strategy

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"dcapilot/config"
	"dcapilot/internal/models"
	"dcapilot/internal/oracle"
	"dcapilot/internal/portfolio"
)

func testStrategy() config.Strategy {
	return config.DefaultConfig().Strategy
}

func snapAt(price float64) models.MarketSnapshot {
	return models.MarketSnapshot{
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Price:     price,
		Close:     price,
		ATR14:     models.NewIndicator(1000),
		RSI14:     models.NewIndicator(50),
		SMA20:     models.NewIndicator(price),
	}
}

func TestDCADropAgainstSMA20BeforeFirstBuy(t *testing.T) {
	s := testStrategy() // 3% trigger
	led := portfolio.NewLedger(s.Budget)

	snap := snapAt(48000)
	snap.SMA20 = models.NewIndicator(50000) // 4% below

	if trig := DCADrop(snap, led, s); !trig.Fired {
		t.Fatalf("4%% drop below sma20 did not fire: %s", trig.Reason)
	}

	snap.SMA20 = models.NewIndicator(49000) // ~2% below
	if trig := DCADrop(snap, led, s); trig.Fired {
		t.Fatalf("2%% drop fired: %s", trig.Reason)
	}
}

func TestDCADropAgainstLastBuy(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	if _, err := led.ApplyBuy(time.Now(), 1000, 50000, s.MinLotBTC, 0, s.ATRMultiplier, "entry"); err != nil {
		t.Fatalf("buy: %v", err)
	}

	snap := snapAt(48000)
	snap.SMA20 = models.NewIndicator(48000) // would not fire; last buy must win
	trig := DCADrop(snap, led, s)
	if !trig.Fired {
		t.Fatalf("4%% drop below last buy did not fire: %s", trig.Reason)
	}
	if !strings.Contains(trig.Reason, "last buy") {
		t.Errorf("reason should name the last-buy reference: %s", trig.Reason)
	}
}

func TestDCADropCannotFireWithoutReference(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)

	snap := snapAt(48000)
	snap.SMA20 = models.Indicator{} // invalid, no prior buy
	if trig := DCADrop(snap, led, s); trig.Fired {
		t.Fatalf("fired without any reference price: %s", trig.Reason)
	}
}

func TestRSIOversoldNeedsValidIndicator(t *testing.T) {
	s := testStrategy()
	snap := snapAt(50000)

	snap.RSI14 = models.NewIndicator(25)
	if trig := RSIOversold(snap, s); !trig.Fired {
		t.Fatalf("rsi 25 did not fire: %s", trig.Reason)
	}

	snap.RSI14 = models.Indicator{}
	if trig := RSIOversold(snap, s); trig.Fired {
		t.Fatalf("invalid rsi fired: %s", trig.Reason)
	}
}

func TestDrawdownSafeguardThreshold(t *testing.T) {
	s := testStrategy() // 20% max drawdown on 10000 budget, floor 8000
	led := portfolio.NewLedger(s.Budget)
	if _, err := led.ApplyBuy(time.Now(), 5000, 50000, s.MinLotBTC, 0, s.ATRMultiplier, "entry"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// cash 5000 + 0.1 BTC.

	if trig := DrawdownSafeguard(snapAt(35000), led, s); trig.Fired {
		t.Fatalf("value 8500 fired below floor 8000: %s", trig.Reason)
	}
	if trig := DrawdownSafeguard(snapAt(25000), led, s); !trig.Fired {
		t.Fatalf("value 7500 did not fire: %s", trig.Reason)
	}
}

func TestEngineDCATriggerBuysPositionSize(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	eng := NewEngine(s, nil, nil) // no oracle: fallback HOLD, triggers decide

	snap := snapAt(48000)
	snap.SMA20 = models.NewIndicator(50000)

	dec := eng.Decide(context.Background(), snap, led)
	if dec.Action != models.ActionBuy {
		t.Fatalf("action = %s, want BUY (%s)", dec.Action, dec.Rationale)
	}
	want := s.Budget * s.PositionSizePct / 100
	if math.Abs(dec.BuyAmount-want) > 1e-9 {
		t.Fatalf("buy amount = %v, want %v", dec.BuyAmount, want)
	}
}

func TestEngineStopLossOutranksOracleHold(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	if _, err := led.ApplyBuy(time.Now(), 1000, 50000, s.MinLotBTC, 2000, 1.5, "entry"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// Stop armed at 47000.

	orc := oracle.NewReplayOracle([]models.OracleResult{
		{Action: models.ActionHold, Confidence: 95, Rationale: "stay calm"},
	})
	eng := NewEngine(s, orc, nil)

	dec := eng.Decide(context.Background(), snapAt(46000), led)
	if dec.Action != models.ActionSell {
		t.Fatalf("action = %s, want SELL (%s)", dec.Action, dec.Rationale)
	}
	if math.Abs(dec.Quantity-led.BTC()) > 1e-12 {
		t.Fatalf("stop sell quantity = %v, want full lot %v", dec.Quantity, led.BTC())
	}
	if dec.Confidence != 100 {
		t.Errorf("stop sell confidence = %d, want 100", dec.Confidence)
	}
}

func TestEngineRatchetNeverFiresSameCycle(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	if _, err := led.ApplyBuy(time.Now(), 1000, 50000, s.MinLotBTC, 1000, 1.5, "entry"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	eng := NewEngine(s, nil, nil)

	// Price well above entry: the stop trails up to 58500 but must not
	// trigger a sell at 60000.
	dec := eng.Decide(context.Background(), snapAt(60000), led)
	if dec.Action == models.ActionSell {
		t.Fatalf("ratchet fired a sell on the bar that raised it: %s", dec.Rationale)
	}
	if stop := led.OpenPositions()[0].StopPrice; stop != 58500 {
		t.Fatalf("stop after ratchet = %v, want 58500", stop)
	}
}

func TestEngineSafeguardSuppressesBuy(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	if _, err := led.ApplyBuy(time.Now(), 5000, 50000, s.MinLotBTC, 0, s.ATRMultiplier, "entry"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	eng := NewEngine(s, nil, nil)

	// Value 7500 < floor 8000 while the DCA drop trigger would also fire.
	snap := snapAt(25000)
	snap.SMA20 = models.NewIndicator(50000)

	dec := eng.Decide(context.Background(), snap, led)
	if dec.Action != models.ActionHold {
		t.Fatalf("action = %s, want HOLD under safeguard (%s)", dec.Action, dec.Rationale)
	}
	if !strings.Contains(dec.Rationale, "safeguard") {
		t.Errorf("rationale should name the safeguard: %s", dec.Rationale)
	}
}

func TestEngineSafeguardLiquidates(t *testing.T) {
	s := testStrategy()
	s.SafeguardLiquidate = true
	led := portfolio.NewLedger(s.Budget)
	if _, err := led.ApplyBuy(time.Now(), 5000, 50000, s.MinLotBTC, 0, s.ATRMultiplier, "entry"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	eng := NewEngine(s, nil, nil)

	dec := eng.Decide(context.Background(), snapAt(25000), led)
	if dec.Action != models.ActionSell {
		t.Fatalf("action = %s, want protective SELL (%s)", dec.Action, dec.Rationale)
	}
	if math.Abs(dec.Quantity-led.BTC()) > 1e-12 {
		t.Fatalf("liquidation quantity = %v, want all %v", dec.Quantity, led.BTC())
	}
}

func TestEngineAdoptsConfidentOracle(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	orc := oracle.NewReplayOracle([]models.OracleResult{
		{Action: models.ActionBuy, BuyAmount: 2000, Confidence: 80, Rationale: "accumulation zone"},
	})
	eng := NewEngine(s, orc, nil)

	dec := eng.Decide(context.Background(), snapAt(50000), led)
	if dec.Action != models.ActionBuy {
		t.Fatalf("action = %s, want BUY (%s)", dec.Action, dec.Rationale)
	}
	if dec.BuyAmount != 2000 {
		t.Fatalf("buy amount = %v, want the oracle's 2000", dec.BuyAmount)
	}
}

func TestEngineIgnoresLowConfidenceOracle(t *testing.T) {
	s := testStrategy() // min confidence 60
	led := portfolio.NewLedger(s.Budget)
	orc := oracle.NewReplayOracle([]models.OracleResult{
		{Action: models.ActionBuy, BuyAmount: 2000, Confidence: 40, Rationale: "maybe"},
	})
	eng := NewEngine(s, orc, nil)

	dec := eng.Decide(context.Background(), snapAt(50000), led)
	if dec.Action != models.ActionHold {
		t.Fatalf("action = %s, want HOLD when oracle is unsure (%s)", dec.Action, dec.Rationale)
	}
}

func TestEngineBuyCapsAndReserve(t *testing.T) {
	s := testStrategy() // 95% cash cap, 30% budget reserve = 3000
	led := portfolio.NewLedger(s.Budget)
	orc := oracle.NewReplayOracle([]models.OracleResult{
		{Action: models.ActionBuy, BuyAmount: 20000, Confidence: 90, Rationale: "all in"},
	})
	eng := NewEngine(s, orc, nil)

	dec := eng.Decide(context.Background(), snapAt(50000), led)
	if dec.Action != models.ActionBuy {
		t.Fatalf("action = %s, want BUY (%s)", dec.Action, dec.Rationale)
	}
	// 20000 -> 9500 (95% of cash) -> 7000 (keep the 3000 reserve).
	if math.Abs(dec.BuyAmount-7000) > 1e-9 {
		t.Fatalf("buy amount = %v, want 7000 after caps", dec.BuyAmount)
	}
}

func TestEngineBuyBelowMinLotHolds(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	orc := oracle.NewReplayOracle([]models.OracleResult{
		{Action: models.ActionBuy, BuyAmount: 2, Confidence: 90, Rationale: "tiny"},
	})
	eng := NewEngine(s, orc, nil)

	dec := eng.Decide(context.Background(), snapAt(50000), led)
	if dec.Action != models.ActionHold {
		t.Fatalf("action = %s, want HOLD for dust order (%s)", dec.Action, dec.Rationale)
	}
	if !strings.Contains(dec.Rationale, "below exchange minimum") {
		t.Errorf("rationale should name the minimum: %s", dec.Rationale)
	}
}

func TestEngineProfitCappedToShareOfExcess(t *testing.T) {
	s := testStrategy() // 50% of excess securable per cycle
	led := portfolio.NewLedger(s.Budget)
	if _, err := led.ApplyBuy(time.Now(), 1000, 50000, s.MinLotBTC, 0, s.ATRMultiplier, "entry"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// cash 9000 + 0.02 BTC; at 100000 the tradable value is 11000, excess 1000.

	orc := oracle.NewReplayOracle([]models.OracleResult{
		{Action: models.ActionProfit, ProfitAmount: 900, Confidence: 90, Rationale: "lock gains"},
	})
	eng := NewEngine(s, orc, nil)

	snap := snapAt(100000)
	snap.RSI14 = models.NewIndicator(50)

	dec := eng.Decide(context.Background(), snap, led)
	if dec.Action != models.ActionProfit {
		t.Fatalf("action = %s, want PROFIT (%s)", dec.Action, dec.Rationale)
	}
	if math.Abs(dec.ProfitAmount-500) > 1e-9 {
		t.Fatalf("profit amount = %v, want 500 (50%% of excess 1000)", dec.ProfitAmount)
	}
}

func TestEngineProfitKeepsCashReserve(t *testing.T) {
	s := testStrategy() // 30% of budget = 3000 must stay in cash
	led := portfolio.NewLedger(s.Budget)
	if _, err := led.ApplyBuy(time.Now(), 7000, 50000, s.MinLotBTC, 0, s.ATRMultiplier, "entry"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// cash 3000 sits exactly at the reserve floor; nothing can be secured.

	orc := oracle.NewReplayOracle([]models.OracleResult{
		{Action: models.ActionProfit, ProfitAmount: 2000, Confidence: 90, Rationale: "lock gains"},
	})
	eng := NewEngine(s, orc, nil)

	dec := eng.Decide(context.Background(), snapAt(100000), led)
	if dec.Action != models.ActionHold {
		t.Fatalf("action = %s, want HOLD at the reserve floor (%s)", dec.Action, dec.Rationale)
	}
}

func TestEngineProfitWithoutExcessHolds(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	orc := oracle.NewReplayOracle([]models.OracleResult{
		{Action: models.ActionProfit, ProfitAmount: 500, Confidence: 90, Rationale: "premature"},
	})
	eng := NewEngine(s, orc, nil)

	dec := eng.Decide(context.Background(), snapAt(50000), led)
	if dec.Action != models.ActionHold {
		t.Fatalf("action = %s, want HOLD with no excess (%s)", dec.Action, dec.Rationale)
	}
}

func TestApplyDowngradesRejectionToHold(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	eng := NewEngine(s, nil, nil)

	snap := snapAt(50000)
	rec := eng.Apply(led, snap, models.TradeDecision{
		Action:    models.ActionBuy,
		BuyAmount: 50000, // more than the cash on hand
		Rationale: "oversized",
	})
	if rec.Type != models.ActionHold {
		t.Fatalf("record type = %s, want HOLD after rejection", rec.Type)
	}
	if led.Cash() != s.Budget {
		t.Fatalf("rejected buy moved cash to %v", led.Cash())
	}
	if len(led.Trades()) != 1 {
		t.Fatalf("rejection must still leave an audit record")
	}
}

func TestApplyBuyArmsStopFromSnapshotATR(t *testing.T) {
	s := testStrategy()
	led := portfolio.NewLedger(s.Budget)
	eng := NewEngine(s, nil, nil)

	snap := snapAt(50000) // ATR 1000, multiplier 1.5
	rec := eng.Apply(led, snap, models.TradeDecision{
		Action:    models.ActionBuy,
		BuyAmount: 1000,
		Rationale: "entry",
	})
	if rec.Type != models.ActionBuy {
		t.Fatalf("record type = %s, want BUY", rec.Type)
	}
	if stop := led.OpenPositions()[0].StopPrice; stop != 48500 {
		t.Fatalf("stop = %v, want 48500", stop)
	}
}
