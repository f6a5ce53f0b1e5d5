package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"signalexec/internal/exchange"
	"signalexec/internal/models"
)

func subscribe(t *testing.T, e *Engine, links ...LinkRequest) *models.BotSubscription {
	t.Helper()
	sub, err := e.Subscribe(context.Background(), SubscribeRequest{BotID: "bot-1", ClientID: "client-1", Links: links})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return sub
}

func liveLink(t *testing.T, e *Engine, linkID string) *models.ExchangeLink {
	t.Helper()
	_, link, ok := e.subs.link(linkID)
	if !ok {
		t.Fatalf("link %s not found", linkID)
	}
	return link
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDispatch_PartialFailureIsolation(t *testing.T) {
	a, b, c := newMockAdapter("mock"), newMockAdapter("mock"), newMockAdapter("mock")
	a.setPlace(func(exchange.OrderRequest) (*exchange.Order, error) {
		return nil, exchange.NewPermanentError("mock", exchange.CodeInvalidSymbol, "unknown instrument")
	})
	e := newTestEngine(adapterMap{"acc-a": a, "acc-b": b, "acc-c": c}, nil)

	sub := subscribe(t, e, linkReq("acc-a", 0, 5), linkReq("acc-b", 0, 1), linkReq("acc-c", 0, 5))
	linkA, linkB, linkC := sub.Links[0].ID, sub.Links[1].ID, sub.Links[2].ID
	e.guard.SetPositions(liveLink(t, e, linkB), 1)

	res, err := e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(res.Outcomes))
	}

	if o := res.Outcomes[linkA]; o.Status != OutcomeFailed || o.Failure != FailurePermanent {
		t.Errorf("link A outcome = %+v", o)
	}
	if o := res.Outcomes[linkB]; o.Status != OutcomeDenied || o.Reason != string(PositionCapExceeded) {
		t.Errorf("link B outcome = %+v", o)
	}
	o := res.Outcomes[linkC]
	if o.Status != OutcomeFilled || o.Order == nil {
		t.Fatalf("link C outcome = %+v", o)
	}

	// Размер и SL/TP: margin 100 * leverage 5 / price 100
	if !approx(o.Intent.Size, 5) || !approx(o.Intent.StopLossPrice, 98) || !approx(o.Intent.TakeProfitPrice, 104) {
		t.Errorf("intent = %+v", o.Intent)
	}
	req := c.lastRequests()[0]
	if req.Leverage != 5 || req.ClientOrderID == "" || req.ClientOrderID != o.Intent.ClientOrderID {
		t.Errorf("order request = %+v", req)
	}
	if b.placed() != 0 {
		t.Errorf("denied link must not reach the adapter")
	}

	// Только C открыл позицию, резерв A возвращён
	if s, _ := e.guard.Snapshot(liveLink(t, e, linkC)); s.CurrentPositions != 1 {
		t.Errorf("link C positions = %d", s.CurrentPositions)
	}
	if s, _ := e.guard.Snapshot(liveLink(t, e, linkA)); s.CurrentPositions != 0 || e.guard.Pending(linkA) != 0 {
		t.Errorf("link A positions = %d, pending = %d", s.CurrentPositions, e.guard.Pending(linkA))
	}
	if res.Count(OutcomeFilled) != 1 || res.Count(OutcomeDenied) != 1 || res.Count(OutcomeFailed) != 1 {
		t.Errorf("counts filled/denied/failed = %d/%d/%d",
			res.Count(OutcomeFilled), res.Count(OutcomeDenied), res.Count(OutcomeFailed))
	}
}

func TestDispatch_SkipsInactive(t *testing.T) {
	a, b := newMockAdapter("mock"), newMockAdapter("mock")
	e := newTestEngine(adapterMap{"acc-a": a, "acc-b": b}, nil)
	sub := subscribe(t, e, linkReq("acc-a", 0, 5), linkReq("acc-b", 0, 5))

	if _, err := e.PauseLink(context.Background(), sub.ID, sub.Links[0].ID); err != nil {
		t.Fatal(err)
	}
	res, _ := e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))
	if o := res.Outcomes[sub.Links[0].ID]; o.Status != OutcomeSkipped || o.Reason != ReasonInactive {
		t.Errorf("paused link outcome = %+v", o)
	}
	if o := res.Outcomes[sub.Links[1].ID]; o.Status != OutcomeFilled {
		t.Errorf("active link outcome = %+v", o)
	}

	if _, err := e.Pause(context.Background(), sub.ID); err != nil {
		t.Fatal(err)
	}
	res, _ = e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))
	if res.Count(OutcomeSkipped) != 2 {
		t.Errorf("paused subscription must skip every link: %+v", res.Outcomes)
	}
	if a.placed()+b.placed() != 1 {
		t.Errorf("unexpected adapter calls: %d", a.placed()+b.placed())
	}
}

func TestDispatch_CallerCancelDoesNotAbortSubmittedOrder(t *testing.T) {
	mock := newMockAdapter("mock")
	accepted := make(chan struct{})
	mock.setPlace(func(req exchange.OrderRequest) (*exchange.Order, error) {
		// биржа приняла ордер, ответ приходит позже отмены вызывающего
		close(accepted)
		time.Sleep(100 * time.Millisecond)
		return &exchange.Order{
			ID:            "ord-1",
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Quantity:      req.Size,
			FilledQty:     req.Size,
			Status:        exchange.OrderStatusFilled,
		}, nil
	})
	e := newTestEngine(adapterMap{"acc-a": mock}, nil)
	sub := subscribe(t, e, linkReq("acc-a", 0, 1))
	linkID := sub.Links[0].ID

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-accepted
		cancel()
	}()

	res, err := e.Dispatch(ctx, buySignal(sub.ID, "BTCUSDT"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if o := res.Outcomes[linkID]; o.Status != OutcomeFilled {
		t.Fatalf("outcome = %+v, want filled", o)
	}
	if s, _ := e.guard.Snapshot(liveLink(t, e, linkID)); s.CurrentPositions != 1 || e.guard.Pending(linkID) != 0 {
		t.Errorf("positions = %d, pending = %d", s.CurrentPositions, e.guard.Pending(linkID))
	}

	// позиция учтена: следующий сигнал упирается в лимит
	mock.setPlace(nil)
	res, _ = e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))
	if o := res.Outcomes[linkID]; o.Status != OutcomeDenied || o.Reason != string(PositionCapExceeded) {
		t.Errorf("second outcome = %+v, want position cap denial", o)
	}
	if mock.placed() != 1 {
		t.Errorf("placed = %d, want 1", mock.placed())
	}
}

func TestDispatch_CanceledBeforeAuthorization(t *testing.T) {
	mock := newMockAdapter("mock")
	e := newTestEngine(adapterMap{"acc-a": mock}, nil)
	sub := subscribe(t, e, linkReq("acc-a", 0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Dispatch(ctx, buySignal(sub.ID, "BTCUSDT"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	o := res.Outcomes[sub.Links[0].ID]
	if o.Status != OutcomeFailed || o.Failure != FailureTransient || !errors.Is(o.Err, context.Canceled) {
		t.Errorf("outcome = %+v", o)
	}
	if mock.placed() != 0 || e.guard.Pending(sub.Links[0].ID) != 0 {
		t.Errorf("canceled signal must not reach the adapter or hold a reservation")
	}
}

func TestDispatch_TickerPriceBySide(t *testing.T) {
	mock := newMockAdapter("mock")
	e := newTestEngine(adapterMap{"acc-a": mock}, nil)
	sub := subscribe(t, e, linkReq("acc-a", 0, 0))

	tests := []struct {
		side  string
		price float64
	}{
		{models.SideBuy, 101},
		{models.SideSell, 99},
	}
	for _, tt := range tests {
		sig := buySignal(sub.ID, "BTCUSDT")
		sig.Side = tt.side
		sig.PriceHint = 0
		res, err := e.Dispatch(context.Background(), sig)
		if err != nil {
			t.Fatal(err)
		}
		o := res.Outcomes[sub.Links[0].ID]
		if o.Status != OutcomeFilled || o.Intent.Price != tt.price {
			t.Errorf("%s: outcome = %+v, intent = %+v", tt.side, o, o.Intent)
		}
	}
}

func TestDispatch_ConfigAndAdapterFailures(t *testing.T) {
	mock := newMockAdapter("mock")
	e := newTestEngine(adapterMap{"acc-a": mock}, nil)

	fixed := testBot()
	fixed.ID = "fixed"
	fixed.Symbol = "BTCUSDT"
	e.catalog.(*StaticCatalog).Put(fixed)

	sub, err := e.Subscribe(context.Background(), SubscribeRequest{
		BotID: "fixed",
		Links: []LinkRequest{linkReq("acc-a", 0, 0), linkReq("acc-missing", 0, 0)},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, _ := e.Dispatch(context.Background(), buySignal(sub.ID, "ETHUSDT"))
	o := res.Outcomes[sub.Links[0].ID]
	if o.Status != OutcomeFailed || o.Failure != FailureConfig || !errors.Is(o.Err, ErrSymbolNotAllowed) {
		t.Errorf("wrong symbol outcome = %+v", o)
	}

	res, _ = e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))
	if o := res.Outcomes[sub.Links[1].ID]; o.Status != OutcomeFailed || o.Failure != FailureConfig {
		t.Errorf("missing adapter outcome = %+v", o)
	}
	if o := res.Outcomes[sub.Links[0].ID]; o.Status != OutcomeFilled {
		t.Errorf("healthy link outcome = %+v", o)
	}
}

func TestDispatch_RejectedOrderIsPermanent(t *testing.T) {
	mock := newMockAdapter("mock")
	mock.setPlace(func(req exchange.OrderRequest) (*exchange.Order, error) {
		return &exchange.Order{ID: "x", Status: exchange.OrderStatusRejected}, nil
	})
	e := newTestEngine(adapterMap{"acc-a": mock}, nil)
	sub := subscribe(t, e, linkReq("acc-a", 0, 1))

	res, _ := e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))
	if o := res.Outcomes[sub.Links[0].ID]; o.Status != OutcomeFailed || o.Failure != FailurePermanent {
		t.Errorf("outcome = %+v", o)
	}
	if e.guard.Pending(sub.Links[0].ID) != 0 {
		t.Error("reservation leaked")
	}
}

func TestDispatch_CircuitOpenOutcome(t *testing.T) {
	mock := newMockAdapter("mock")
	mock.setPlace(func(exchange.OrderRequest) (*exchange.Order, error) {
		return nil, exchange.NewTransientError("mock", exchange.KindServer, "503")
	})
	e := newTestEngine(adapterMap{"acc-a": mock}, nil)
	sub := subscribe(t, e, linkReq("acc-a", 0, 0))

	// 4 попытки на сигнал: после второго сигнала breaker открыт
	for i := 0; i < 2; i++ {
		e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))
	}
	calls := mock.placed()

	res, _ := e.Dispatch(context.Background(), buySignal(sub.ID, "BTCUSDT"))
	if o := res.Outcomes[sub.Links[0].ID]; o.Status != OutcomeFailed || o.Failure != FailureCircuitOpen {
		t.Errorf("outcome = %+v", o)
	}
	if mock.placed() != calls {
		t.Errorf("adapter called with open circuit")
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"circuit", ErrCircuitOpen, FailureCircuitOpen},
		{"exchange permanent", exchange.NewPermanentError("x", "c", "m"), FailurePermanent},
		{"exchange transient", exchange.NewTransientError("x", exchange.KindServer, "m"), FailureTransient},
		{"plain", errors.New("boom"), FailureTransient},
		{"cancelled", context.Canceled, FailureTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyFailure(tt.err); got != tt.want {
				t.Errorf("classifyFailure() = %s, want %s", got, tt.want)
			}
		})
	}
}
