package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"signalexec/internal/exchange"
	"signalexec/internal/models"
)

func TestScenario_TwoLinksLossCapPausesOnlyFirst(t *testing.T) {
	sink := &recordingSink{}
	store := newMemStore()
	a, b := newMockAdapter("mock"), newMockAdapter("mock")
	e := newTestEngine(adapterMap{"acc-1": a, "acc-2": b}, store, sink)
	ctx := context.Background()

	sub := subscribe(t, e, linkReq("acc-1", 200, 10), linkReq("acc-2", 200, 10))
	link1, link2 := sub.Links[0].ID, sub.Links[1].ID

	for i := 0; i < 3; i++ {
		res, err := e.Dispatch(ctx, buySignal(sub.ID, "BTCUSDT"))
		if err != nil || res.Count(OutcomeFilled) != 2 {
			t.Fatalf("dispatch %d: %v %+v", i, err, res)
		}
	}

	// Три убыточные сделки на link 1: 100 + 80 + 70 = 250
	for _, pnl := range []float64{-100, -80, -70} {
		if _, err := e.RecordClose(ctx, CloseEvent{LinkID: link1, Symbol: "BTCUSDT", RealizedPnL: pnl}); err != nil {
			t.Fatalf("RecordClose() error = %v", err)
		}
	}

	s1, _ := e.guard.Snapshot(liveLink(t, e, link1))
	if s1.Status != models.LinkPaused || s1.StatusReason != models.ReasonDailyLossCap || s1.TodayLossUSD != 250 {
		t.Fatalf("link 1 state = %+v", s1)
	}
	s2, _ := e.guard.Snapshot(liveLink(t, e, link2))
	if s2.Status != models.LinkActive || s2.TodayLossUSD != 0 {
		t.Fatalf("link 2 state = %+v", s2)
	}

	snap, _ := e.Subscription(sub.ID)
	if snap.Status != models.SubscriptionActive {
		t.Errorf("subscription must stay active with one active link, got %s", snap.Status)
	}

	// Link 2 продолжает принимать сигналы, link 1 пропускается
	res, _ := e.Dispatch(ctx, buySignal(sub.ID, "BTCUSDT"))
	if o := res.Outcomes[link1]; o.Status != OutcomeSkipped {
		t.Errorf("link 1 outcome = %+v", o)
	}
	if o := res.Outcomes[link2]; o.Status != OutcomeFilled {
		t.Errorf("link 2 outcome = %+v", o)
	}

	if len(sink.ofType(EventLinkPaused)) != 1 {
		t.Errorf("link_paused events = %d", len(sink.ofType(EventLinkPaused)))
	}
	if saved := store.link(link1); saved == nil || saved.State.Status != models.LinkPaused {
		t.Errorf("paused state not persisted: %+v", saved)
	}
	if len(store.trades) != 3 {
		t.Errorf("saved trades = %d", len(store.trades))
	}
}

func TestTracker_RecordCloseStats(t *testing.T) {
	e := newTestEngine(adapterMap{"acc-1": newMockAdapter("mock")}, nil)
	sub := subscribe(t, e, linkReq("acc-1", 0, 0))
	linkID := sub.Links[0].ID
	ctx := context.Background()

	for _, pnl := range []float64{10.1, -3.3, 0, 0.2} {
		if _, err := e.RecordClose(ctx, CloseEvent{LinkID: linkID, Symbol: "BTCUSDT", RealizedPnL: pnl}); err != nil {
			t.Fatal(err)
		}
	}

	snap, _ := e.Subscription(sub.ID)
	st := snap.Stats
	if st.TotalTrades != 4 || st.Wins != 2 || st.Losses != 1 || st.BreakEvens != 1 {
		t.Errorf("subscription stats = %+v", st)
	}
	// decimal: без дрейфа float
	if st.RealizedPnL != 7 {
		t.Errorf("realized pnl = %v, want 7", st.RealizedPnL)
	}
	ls := snap.Links[0].Stats
	if ls.TotalTrades != 4 || ls.RealizedPnL != 7 {
		t.Errorf("link stats = %+v", ls)
	}
	if snap.Links[0].State.TodayLossUSD != 3.3 {
		t.Errorf("today loss = %v", snap.Links[0].State.TodayLossUSD)
	}

	if _, err := e.RecordClose(ctx, CloseEvent{LinkID: "ghost"}); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestTracker_Report(t *testing.T) {
	e := newTestEngine(adapterMap{"acc-1": newMockAdapter("mock"), "acc-2": newMockAdapter("mock")}, nil)
	sub := subscribe(t, e, linkReq("acc-1", 500, 0), linkReq("acc-2", 500, 0))
	l1, l2 := sub.Links[0].ID, sub.Links[1].ID
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2024, 1, d, 10, 0, 0, 0, time.UTC) }
	closes := []CloseEvent{
		{LinkID: l1, RealizedPnL: 10, ClosedAt: day(1)},
		{LinkID: l2, RealizedPnL: -3, ClosedAt: day(1)},
		{LinkID: l1, RealizedPnL: 5, ClosedAt: day(2)},
		{LinkID: l2, RealizedPnL: 8, ClosedAt: day(3)},
	}
	for _, c := range closes {
		c.Symbol = "BTCUSDT"
		if _, err := e.RecordClose(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	e.Dispatch(ctx, buySignal(sub.ID, "BTCUSDT"))

	report, err := e.Report(sub.ID, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	wantHistory := []models.PnLPoint{
		{Date: "2024-01-01", DailyPnL: 7, CumulativePnL: 7, Trades: 2},
		{Date: "2024-01-02", DailyPnL: 5, CumulativePnL: 12, Trades: 1},
		{Date: "2024-01-03", DailyPnL: 8, CumulativePnL: 20, Trades: 1},
	}
	if len(report.PnLHistory) != len(wantHistory) {
		t.Fatalf("history = %+v", report.PnLHistory)
	}
	for i, p := range wantHistory {
		if report.PnLHistory[i] != p {
			t.Errorf("history[%d] = %+v, want %+v", i, report.PnLHistory[i], p)
		}
	}

	all := report.AllTimeSummary
	if all.TotalTrades != 4 || all.Wins != 3 || all.Losses != 1 || all.RealizedPnL != 20 || all.WinRate != 75 {
		t.Errorf("all-time summary = %+v", all)
	}
	if all.TotalSignals != 1 || all.OrdersExecuted != 2 {
		t.Errorf("signals/orders = %d/%d", all.TotalSignals, all.OrdersExecuted)
	}
	if report.CurrentState.OpenPositions != 2 || report.CurrentState.TodayLossUSD != 3 || len(report.CurrentState.Links) != 2 {
		t.Errorf("current state = %+v", report.CurrentState)
	}
	if len(report.PerExchange) != 2 || report.PerExchange[0].Summary.RealizedPnL != 15 {
		t.Errorf("per exchange = %+v", report.PerExchange)
	}

	// Фильтр по датам: включающий диапазон, накопленный итог сохраняется
	filtered, err := e.Report(sub.ID, day(2), day(3))
	if err != nil {
		t.Fatal(err)
	}
	f := filtered.FilteredSummary
	if f.TotalTrades != 2 || f.RealizedPnL != 13 || f.From != "2024-01-02" || f.To != "2024-01-03" {
		t.Errorf("filtered summary = %+v", f)
	}
	if len(filtered.PnLHistory) != 2 || filtered.PnLHistory[0].CumulativePnL != 12 {
		t.Errorf("filtered history = %+v", filtered.PnLHistory)
	}
	if filtered.AllTimeSummary.TotalTrades != 4 {
		t.Errorf("all-time summary must ignore filter: %+v", filtered.AllTimeSummary)
	}

	if _, err := e.Report("ghost", time.Time{}, time.Time{}); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestTracker_HistoryUsesTrackerTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	cfg := fastConfig()
	cfg.Location = loc
	e := New(cfg, NewStaticCatalog(testBot()), adapterMap{"acc-1": newMockAdapter("mock")}, nil, nil)
	sub := subscribe(t, e, linkReq("acc-1", 0, 0))

	// 22:30 UTC 1 января = 01:30 2 января в UTC+3
	closedAt := time.Date(2024, 1, 1, 22, 30, 0, 0, time.UTC)
	e.RecordClose(context.Background(), CloseEvent{LinkID: sub.Links[0].ID, RealizedPnL: 1, ClosedAt: closedAt})

	h := e.tracker.LinkHistory(sub.Links[0].ID)
	if len(h) != 1 || h[0].Date != "2024-01-02" {
		t.Errorf("history = %+v", h)
	}
}

func TestTracker_Reconcile(t *testing.T) {
	e := newTestEngine(adapterMap{"acc-1": newMockAdapter("mock")}, nil)
	sub := subscribe(t, e, linkReq("acc-1", 0, 0))
	linkID := sub.Links[0].ID

	positions := []*exchange.Position{
		{Symbol: "BTCUSDT", Size: 1},
		{Symbol: "ETHUSDT", Size: 0},
		nil,
		{Symbol: "SOLUSDT", Size: -2},
	}
	if err := e.tracker.Reconcile(linkID, positions); err != nil {
		t.Fatal(err)
	}
	if s, _ := e.guard.Snapshot(liveLink(t, e, linkID)); s.CurrentPositions != 2 {
		t.Errorf("positions = %d, want 2", s.CurrentPositions)
	}
	if err := e.tracker.Reconcile("ghost", nil); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestTracker_LoadHistory(t *testing.T) {
	e := newTestEngine(adapterMap{}, nil)
	at := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	e.tracker.LoadHistory([]*models.TradeRecord{
		{LinkID: "l1", RealizedPnL: 4, Outcome: models.OutcomeWin, ClosedAt: at},
		{LinkID: "l1", RealizedPnL: -1, Outcome: models.OutcomeLoss, ClosedAt: at},
	})
	h := e.tracker.LinkHistory("l1")
	if len(h) != 1 || h[0].DailyPnL != 3 || h[0].Trades != 2 {
		t.Errorf("history = %+v", h)
	}
}
