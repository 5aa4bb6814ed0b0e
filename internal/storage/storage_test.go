package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dcapilot/internal/models"
	"dcapilot/internal/portfolio"
)

func testTrade(day int, typ models.Action) models.TradeRecord {
	return models.TradeRecord{
		Timestamp:    time.Date(2024, 3, day, 12, 0, 0, 0, time.UTC),
		Type:         typ,
		Price:        50000,
		Quantity:     0.02,
		USDAmount:    1000,
		CashAfter:    9000,
		BTCAfter:     0.02,
		SecuredAfter: 0,
		RealizedPnL:  0,
		DailyPnL:     12.5,
		Reason:       "test entry",
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("empty db path accepted")
	}
}

func TestRunAndTradeRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	started := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	runID, err := store.CreateRun(ctx, RunKindBacktest, "BTCUSDT", started, 10000)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	want := []models.TradeRecord{
		testTrade(1, models.ActionBuy),
		testTrade(2, models.ActionHold),
		testTrade(3, models.ActionSell),
	}
	if err := store.InsertTrades(ctx, runID, want); err != nil {
		t.Fatalf("InsertTrades: %v", err)
	}

	got, err := store.ListTrades(ctx, runID)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("listed %d trades, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Timestamp.Equal(want[i].Timestamp) || got[i].Type != want[i].Type ||
			got[i].DailyPnL != want[i].DailyPnL || got[i].Reason != want[i].Reason {
			t.Errorf("trade %d round trip mismatch:\n got %+v\nwant %+v", i, got[i], want[i])
		}
	}

	if err := store.FinishRun(ctx, runID, started.Add(time.Hour), 10200, 200); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	run, err := store.LatestRun(ctx, RunKindBacktest)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.ID != runID || !run.FinishedAt.Valid || run.NetProfit.Float64 != 200 {
		t.Fatalf("unexpected run record: %+v", run)
	}
}

func TestInsertTradeSingle(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	runID, err := store.CreateRun(ctx, RunKindLive, "BTCUSDT", time.Now().UTC(), 10000)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := store.InsertTrade(ctx, runID, testTrade(1, models.ActionBuy)); err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}

	got, err := store.ListTrades(ctx, runID)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("listed %d trades, want 1", len(got))
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.json")

	led := portfolio.NewLedger(10000)
	if _, err := led.ApplyBuy(time.Now().UTC(), 1000, 50000, 0.0001, 800, 1.5, "entry"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	want := led.State()

	if err := SaveState(path, want); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	if got.Cash != want.Cash || got.BTC != want.BTC || got.ProfitThreshold != want.ProfitThreshold {
		t.Fatalf("state mismatch:\n got %+v\nwant %+v", got, want)
	}
	if len(got.Positions) != 1 || len(got.Trades) != 1 {
		t.Fatalf("positions/trades lost: %d/%d", len(got.Positions), len(got.Trades))
	}
}

func TestSaveStateReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	first := portfolio.NewLedger(10000).State()
	if err := SaveState(path, first); err != nil {
		t.Fatalf("first save: %v", err)
	}
	second := portfolio.NewLedger(20000).State()
	if err := SaveState(path, second); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.InitialBudget != 20000 {
		t.Fatalf("budget = %v, want the second write to win", got.InitialBudget)
	}

	// No temp files may survive a successful save.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("leftover files after save: %d entries", len(entries))
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	_, err := LoadState(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestLoadStateCorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadState(path); err == nil {
		t.Fatal("corrupt state accepted")
	}
}
