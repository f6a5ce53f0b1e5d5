package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"signalexec/internal/exchange"
	"signalexec/internal/models"
)

func TestDispatch_SignalValidation(t *testing.T) {
	e := newTestEngine(adapterMap{"acc-1": newMockAdapter("mock")}, nil)
	sub := subscribe(t, e, linkReq("acc-1", 0, 0))

	tests := []struct {
		name   string
		signal *models.Signal
		want   error
	}{
		{"nil", nil, ErrInvalidSignal},
		{"no subscription", &models.Signal{Symbol: "BTCUSDT", Side: models.SideBuy}, ErrInvalidSignal},
		{"bad side", &models.Signal{SubscriptionID: sub.ID, Symbol: "BTCUSDT", Side: "hold"}, ErrInvalidSignal},
		{"bad symbol", &models.Signal{SubscriptionID: sub.ID, Symbol: "!", Side: models.SideBuy}, ErrInvalidSignal},
		{"negative price", &models.Signal{SubscriptionID: sub.ID, Symbol: "BTCUSDT", Side: models.SideBuy, PriceHint: -1}, ErrInvalidSignal},
		{"unknown subscription", &models.Signal{SubscriptionID: "ghost", Symbol: "BTCUSDT", Side: models.SideBuy}, ErrSubscriptionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Dispatch(context.Background(), tt.signal); !errors.Is(err, tt.want) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.want)
			}
		})
	}

	// Символ нормализуется до диспетчеризации
	sig := buySignal(sub.ID, "btc/usdt")
	res, err := e.Dispatch(context.Background(), sig)
	if err != nil || res.Symbol != "BTCUSDT" || sig.ReceivedAt.IsZero() {
		t.Errorf("normalized dispatch = %+v, %v", res, err)
	}
}

func TestEngine_LoadRestoresState(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	first := newTestEngine(adapterMap{"acc-1": newMockAdapter("mock")}, store)
	sub := subscribe(t, first, linkReq("acc-1", 100, 0))
	linkID := sub.Links[0].ID
	first.Dispatch(ctx, buySignal(sub.ID, "BTCUSDT"))
	first.RecordClose(ctx, CloseEvent{LinkID: linkID, Symbol: "BTCUSDT", RealizedPnL: -40, ClosedAt: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)})

	second := newTestEngine(adapterMap{"acc-1": newMockAdapter("mock")}, store)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	snap, err := second.Subscription(sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Links[0].State.TodayLossUSD != 40 {
		t.Errorf("restored today loss = %v", snap.Links[0].State.TodayLossUSD)
	}
	h := second.tracker.LinkHistory(linkID)
	if len(h) != 1 || h[0].Date != "2024-02-01" || h[0].DailyPnL != -40 {
		t.Errorf("restored history = %+v", h)
	}

	// Восстановленный link обрабатывает сигналы
	res, err := second.Dispatch(ctx, buySignal(sub.ID, "BTCUSDT"))
	if err != nil || res.Outcomes[linkID].Status != OutcomeFilled {
		t.Errorf("dispatch after load = %+v, %v", res, err)
	}
}

func TestEngine_ResetDaily(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(adapterMap{}, store)
	ctx := context.Background()
	sub := subscribe(t, e, linkReq("acc-1", 0, 0))
	linkID := sub.Links[0].ID

	e.RecordClose(ctx, CloseEvent{LinkID: linkID, RealizedPnL: -12})
	e.ResetDaily(ctx)

	snap, _ := e.Subscription(sub.ID)
	if snap.Links[0].State.TodayLossUSD != 0 {
		t.Errorf("today loss = %v", snap.Links[0].State.TodayLossUSD)
	}
	if saved := store.link(linkID); saved.State.TodayLossUSD != 0 {
		t.Errorf("reset not persisted: %+v", saved.State)
	}
	// Статистика сделок сохраняется
	if snap.Links[0].Stats.Losses != 1 {
		t.Errorf("stats lost on reset: %+v", snap.Links[0].Stats)
	}
}

func TestReconciler_SkipsSharedAccounts(t *testing.T) {
	own := newMockAdapter("mock")
	own.positions = []*exchange.Position{{Symbol: "BTCUSDT", Size: 1}, {Symbol: "ETHUSDT", Size: 2}}
	shared := newMockAdapter("mock")
	shared.positions = []*exchange.Position{{Symbol: "BTCUSDT", Size: 1}}

	e := newTestEngine(adapterMap{"own": own, "shared": shared}, nil)
	s1 := subscribe(t, e, linkReq("own", 0, 0), linkReq("shared", 0, 0))
	s2 := subscribe(t, e, linkReq("shared", 0, 0))

	rec := NewReconciler(e, time.Minute)
	if n := rec.ReconcileAll(context.Background()); n != 1 {
		t.Errorf("reconciled = %d, want 1", n)
	}
	if s, _ := e.guard.Snapshot(liveLink(t, e, s1.Links[0].ID)); s.CurrentPositions != 2 {
		t.Errorf("own link positions = %d", s.CurrentPositions)
	}
	if s, _ := e.guard.Snapshot(liveLink(t, e, s2.Links[0].ID)); s.CurrentPositions != 0 {
		t.Errorf("shared link positions = %d", s.CurrentPositions)
	}
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	cfg := fastConfig()
	cfg.ReconcileInterval = 10 * time.Millisecond
	e := New(cfg, NewStaticCatalog(testBot()), adapterMap{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestEngine_BreakerTransitionEvents(t *testing.T) {
	sink := &recordingSink{}
	mock := newMockAdapter("mock")
	mock.setPlace(func(exchange.OrderRequest) (*exchange.Order, error) {
		return nil, exchange.NewTransientError("mock", exchange.KindRateLimit, "429")
	})
	e := newTestEngine(adapterMap{"acc-1": mock}, nil, sink)
	sub := subscribe(t, e, linkReq("acc-1", 0, 0))

	e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))
	e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))

	trs := sink.ofType(EventCircuitTransition)
	if len(trs) != 1 || trs[0].AccountID != "acc-1" || trs[0].Fields["to"] != string(BreakerOpen) {
		t.Errorf("circuit events = %+v", trs)
	}
	if len(sink.ofType(EventRetry)) == 0 {
		t.Error("retry events missing")
	}
	if len(sink.ofType(EventDispatch)) != 2 {
		t.Errorf("dispatch events = %d", len(sink.ofType(EventDispatch)))
	}
}
