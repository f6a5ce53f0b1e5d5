package engine

import (
	"context"
	"sync"
	"time"

	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

// Reconciler периодически сверяет число открытых позиций link
// с данными биржи (GetPositions через GuardedAdapter).
type Reconciler struct {
	engine   *Engine
	interval time.Duration
	log      *utils.Logger
}

// NewReconciler создаёт воркер сверки
func NewReconciler(e *Engine, interval time.Duration) *Reconciler {
	return &Reconciler{engine: e, interval: interval, log: e.log.WithComponent("reconciler")}
}

// Run выполняет сверку каждые interval до отмены ctx
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileAll(ctx)
		}
	}
}

// ReconcileAll сверяет все link активных и приостановленных подписок.
// Аккаунты опрашиваются параллельно, ошибка одного не мешает остальным.
//
// Позиции биржи не помечены подпиской, поэтому аккаунт, подключённый
// к нескольким подпискам, пропускается - атрибуция позиций неоднозначна.
func (r *Reconciler) ReconcileAll(ctx context.Context) int {
	var candidates []*models.ExchangeLink
	perAccount := make(map[string]int)
	for _, entry := range r.engine.subs.all() {
		entry.mu.Lock()
		if entry.sub.Status != models.SubscriptionUnsubscribed {
			for _, l := range entry.sub.Links {
				candidates = append(candidates, l)
				perAccount[l.ExchangeAccountID]++
			}
		}
		entry.mu.Unlock()
	}

	links := candidates[:0]
	for _, l := range candidates {
		if perAccount[l.ExchangeAccountID] == 1 {
			links = append(links, l)
		} else {
			r.log.Debug("shared exchange account skipped", utils.LinkID(l.ID))
		}
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, link := range links {
		wg.Add(1)
		go func(link *models.ExchangeLink) {
			defer wg.Done()
			if err := r.reconcileLink(ctx, link); err != nil {
				r.log.Warn("reconciliation failed", utils.LinkID(link.ID), utils.Exchange(link.Exchange), utils.Err(err))
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		}(link)
	}
	wg.Wait()
	return ok
}

func (r *Reconciler) reconcileLink(ctx context.Context, link *models.ExchangeLink) error {
	adapter, err := r.engine.adapters.Get(link.ExchangeAccountID, link.Exchange)
	if err != nil {
		return err
	}
	positions, err := r.engine.gateway.Wrap(link.ExchangeAccountID, adapter).GetPositions(ctx)
	if err != nil {
		return err
	}
	if err := r.engine.tracker.Reconcile(link.ID, positions); err != nil {
		return err
	}
	r.engine.persistLink(ctx, link)
	return nil
}
