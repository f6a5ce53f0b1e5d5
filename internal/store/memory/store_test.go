package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"signalexec/internal/engine"
	"signalexec/internal/models"
)

var _ engine.Store = (*Store)(nil)

func testSubscription(id string, created time.Time) *models.BotSubscription {
	return &models.BotSubscription{
		ID:        id,
		BotID:     "bot-1",
		ClientID:  "client-1",
		Status:    models.SubscriptionActive,
		CreatedAt: created,
		Links: []*models.ExchangeLink{
			{
				ID:              id + "-link-1",
				SubscriptionID:  id,
				Exchange:        "paper",
				SymbolOverrides: map[string]models.ConfigOverride{"BTCUSDT": {Leverage: models.IntPtr(3)}},
				State:           models.LinkState{Status: models.LinkActive},
			},
		},
	}
}

func TestSaveAndLoadSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SaveSubscription(ctx, testSubscription("sub-b", base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSubscription(ctx, testSubscription("sub-a", base)); err != nil {
		t.Fatal(err)
	}

	subs, err := s.LoadSubscriptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 || subs[0].ID != "sub-a" || subs[1].ID != "sub-b" {
		t.Fatalf("expected creation order [sub-a sub-b], got %v", ids(subs))
	}
}

func TestLinkStateNewerThanSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub := testSubscription("sub-1", time.Now())
	_ = s.SaveSubscription(ctx, sub)

	pausedAt := time.Now()
	link := *sub.Links[0]
	link.State = models.LinkState{
		Status:       models.LinkPaused,
		StatusReason: models.ReasonDailyLossCap,
		TodayLossUSD: 260,
		PausedAt:     &pausedAt,
	}
	_ = s.SaveLinkState(ctx, &link)

	subs, _ := s.LoadSubscriptions(ctx)
	got := subs[0].Links[0].State
	if got.Status != models.LinkPaused || got.TodayLossUSD != 260 {
		t.Errorf("expected latest link state, got %+v", got)
	}
}

func TestLoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.SaveSubscription(ctx, testSubscription("sub-1", time.Now()))

	first, _ := s.LoadSubscriptions(ctx)
	first[0].Status = models.SubscriptionPaused
	first[0].Links[0].State.CurrentPositions = 9
	first[0].Links[0].SymbolOverrides["ETHUSDT"] = models.ConfigOverride{}

	second, _ := s.LoadSubscriptions(ctx)
	if second[0].Status != models.SubscriptionActive {
		t.Error("subscription status leaked through returned copy")
	}
	if second[0].Links[0].State.CurrentPositions != 0 {
		t.Error("link state leaked through returned copy")
	}
	if len(second[0].Links[0].SymbolOverrides) != 1 {
		t.Error("symbol overrides map shared with caller")
	}
}

func TestTradesAssignIDs(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.SaveTrade(ctx, &models.TradeRecord{LinkID: "link-1", RealizedPnL: 1})
		}()
	}
	wg.Wait()

	trades, _ := s.LoadTrades(ctx)
	if len(trades) != 50 {
		t.Fatalf("expected 50 trades, got %d", len(trades))
	}
	seen := make(map[int64]bool)
	for _, tr := range trades {
		if tr.ID == 0 || seen[tr.ID] {
			t.Fatalf("duplicate or zero trade id %d", tr.ID)
		}
		seen[tr.ID] = true
	}
}

func ids(subs []*models.BotSubscription) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.ID
	}
	return out
}
