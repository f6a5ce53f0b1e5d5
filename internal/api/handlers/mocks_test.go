package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/internal/service"
)

// ErrMockDatabase - ошибка хранилища в моках
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Subscription Manager ============

// MockSubscriptionManager хранит подписки в map и проверяет переходы статуса
type MockSubscriptionManager struct {
	mu   sync.Mutex
	subs map[string]*models.BotSubscription
	loc  *time.Location

	subscribeErr error
	configErr    error

	lastRequest  engine.SubscribeRequest
	lastOverride models.ConfigOverride
	lastSymbol   string
	lastLimits   models.RiskLimits
	lastFrom     time.Time
	lastTo       time.Time
	nextID       int
}

func NewMockSubscriptionManager() *MockSubscriptionManager {
	return &MockSubscriptionManager{
		subs: make(map[string]*models.BotSubscription),
		loc:  time.UTC,
	}
}

// AddSubscription добавляет подписку с одним link "link-1"
func (m *MockSubscriptionManager) AddSubscription(id, clientID, status string) *models.BotSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &models.BotSubscription{
		ID:       id,
		BotID:    "bot-1",
		ClientID: clientID,
		Status:   status,
		Links: []*models.ExchangeLink{{
			ID:                "link-1",
			SubscriptionID:    id,
			ExchangeAccountID: "acc-1",
			Exchange:          "paper",
			State:             models.LinkState{Status: models.LinkActive},
		}},
	}
	m.subs[id] = sub
	return sub
}

func (m *MockSubscriptionManager) Subscribe(ctx context.Context, req engine.SubscribeRequest) (*models.BotSubscription, error) {
	m.mu.Lock()
	m.lastRequest = req
	err := m.subscribeErr
	m.nextID++
	id := fmt.Sprintf("sub-%d", m.nextID)
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.AddSubscription(id, req.ClientID, models.SubscriptionActive), nil
}

func (m *MockSubscriptionManager) Subscription(id string) (*models.BotSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrSubscriptionNotFound, id)
	}
	return sub, nil
}

func (m *MockSubscriptionManager) Subscriptions(clientID string) []*models.BotSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BotSubscription
	for _, s := range m.subs {
		if s.ClientID == clientID {
			out = append(out, s)
		}
	}
	return out
}

func (m *MockSubscriptionManager) setStatus(id, from, to string) (*models.BotSubscription, error) {
	sub, err := m.Subscription(id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", engine.ErrInvalidTransition, sub.Status, to)
	}
	sub.Status = to
	return sub, nil
}

func (m *MockSubscriptionManager) Pause(ctx context.Context, subID string) (*models.BotSubscription, error) {
	return m.setStatus(subID, models.SubscriptionActive, models.SubscriptionPaused)
}

func (m *MockSubscriptionManager) Resume(ctx context.Context, subID string) (*models.BotSubscription, error) {
	return m.setStatus(subID, models.SubscriptionPaused, models.SubscriptionActive)
}

func (m *MockSubscriptionManager) Unsubscribe(ctx context.Context, subID string) (*models.BotSubscription, error) {
	sub, err := m.Subscription(subID)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionUnsubscribed {
		return nil, engine.ErrInvalidTransition
	}
	sub.Status = models.SubscriptionUnsubscribed
	return sub, nil
}

func (m *MockSubscriptionManager) link(subID, linkID string) (*models.BotSubscription, *models.ExchangeLink, error) {
	sub, err := m.Subscription(subID)
	if err != nil {
		return nil, nil, err
	}
	link := sub.Link(linkID)
	if link == nil {
		return nil, nil, fmt.Errorf("%w: %s", engine.ErrLinkNotFound, linkID)
	}
	return sub, link, nil
}

func (m *MockSubscriptionManager) PauseLink(ctx context.Context, subID, linkID string) (*models.BotSubscription, error) {
	sub, link, err := m.link(subID, linkID)
	if err != nil {
		return nil, err
	}
	link.State.Status = models.LinkPaused
	return sub, nil
}

func (m *MockSubscriptionManager) ResumeLink(ctx context.Context, subID, linkID string) (*models.BotSubscription, error) {
	sub, link, err := m.link(subID, linkID)
	if err != nil {
		return nil, err
	}
	link.State.Status = models.LinkActive
	return sub, nil
}

func (m *MockSubscriptionManager) UpdateSymbolOverride(ctx context.Context, subID, linkID, symbol string, o models.ConfigOverride) (*models.BotSubscription, error) {
	sub, _, err := m.link(subID, linkID)
	if err != nil {
		return nil, err
	}
	m.lastSymbol = symbol
	m.lastOverride = o
	return sub, nil
}

func (m *MockSubscriptionManager) UpdateLinkOverride(ctx context.Context, subID, linkID string, o models.ConfigOverride) (*models.BotSubscription, error) {
	sub, link, err := m.link(subID, linkID)
	if err != nil {
		return nil, err
	}
	link.Override = o
	m.lastOverride = o
	return sub, nil
}

func (m *MockSubscriptionManager) UpdateLimits(ctx context.Context, subID, linkID string, limits models.RiskLimits) (*models.BotSubscription, error) {
	sub, link, err := m.link(subID, linkID)
	if err != nil {
		return nil, err
	}
	link.Limits = limits
	m.lastLimits = limits
	return sub, nil
}

func (m *MockSubscriptionManager) EffectiveConfig(subID, linkID, symbol string) (models.EffectiveConfig, error) {
	if _, _, err := m.link(subID, linkID); err != nil {
		return models.EffectiveConfig{}, err
	}
	if m.configErr != nil {
		return models.EffectiveConfig{}, m.configErr
	}
	m.lastSymbol = symbol
	return models.EffectiveConfig{
		Leverage:      5,
		MarginUSD:     100,
		StopLossPct:   2,
		TakeProfitPct: 4,
		Sources:       map[string]string{"leverage": "symbol_override"},
	}, nil
}

func (m *MockSubscriptionManager) Report(subID string, from, to time.Time) (*models.PerformanceReport, error) {
	if _, err := m.Subscription(subID); err != nil {
		return nil, err
	}
	m.lastFrom, m.lastTo = from, to
	return &models.PerformanceReport{SubscriptionID: subID, PnLHistory: []models.PnLPoint{}}, nil
}

func (m *MockSubscriptionManager) Location() *time.Location { return m.loc }

// ============ Mock Broadcaster ============

type MockBroadcaster struct {
	mu      sync.Mutex
	updates []*models.BotSubscription
}

func (b *MockBroadcaster) BroadcastSubscriptionUpdate(sub *models.BotSubscription) {
	b.mu.Lock()
	b.updates = append(b.updates, sub)
	b.mu.Unlock()
}

func (b *MockBroadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.updates)
}

// ============ Mock Signal Service ============

type MockSignalService struct {
	signals []*models.Signal
	sources []string
	err     error
}

func (m *MockSignalService) Submit(ctx context.Context, signal *models.Signal, source string) (*engine.DispatchResult, error) {
	m.signals = append(m.signals, signal)
	m.sources = append(m.sources, source)
	if m.err != nil {
		return nil, m.err
	}
	return &engine.DispatchResult{
		SignalID:       signal.ID,
		SubscriptionID: signal.SubscriptionID,
		Symbol:         signal.Symbol,
		Side:           signal.Side,
		Outcomes: map[string]*engine.Outcome{
			"link-1": {LinkID: "link-1", Status: engine.OutcomeFilled},
		},
	}, nil
}

// ============ Mock Position Recorder ============

type MockPositionRecorder struct {
	events []engine.CloseEvent
	err    error
}

func (m *MockPositionRecorder) RecordClose(ctx context.Context, ev engine.CloseEvent) (*models.TradeRecord, error) {
	m.events = append(m.events, ev)
	if m.err != nil {
		return nil, m.err
	}
	return &models.TradeRecord{
		ID:          1,
		LinkID:      ev.LinkID,
		Symbol:      ev.Symbol,
		RealizedPnL: ev.RealizedPnL,
		Outcome:     models.ClassifyPnL(ev.RealizedPnL),
		ClosedAt:    ev.ClosedAt,
	}, nil
}

// ============ Mock Notification Service ============

type MockNotificationService struct {
	mu            sync.Mutex
	notifications []*models.Notification
	lastTypes     []string
	lastLimit     int
	getErr        error
	clearErr      error
	nextID        int64
}

func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{}
}

func (m *MockNotificationService) AddNotification(notifType, severity, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.notifications = append(m.notifications, &models.Notification{
		ID:        m.nextID,
		Timestamp: time.Now(),
		Type:      notifType,
		Severity:  severity,
		Message:   message,
	})
}

func (m *MockNotificationService) GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTypes, m.lastLimit = types, limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	if limit <= 0 {
		limit = 100
	}

	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	var out []*models.Notification
	for _, n := range m.notifications {
		if len(allowed) > 0 && !allowed[n.Type] {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockNotificationService) ClearNotifications(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	m.notifications = nil
	return nil
}

func (m *MockNotificationService) BroadcastNotification(notif *models.Notification) {
	m.mu.Lock()
	m.notifications = append(m.notifications, notif)
	m.mu.Unlock()
}

func (m *MockNotificationService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

var (
	_ SubscriptionManager                  = (*MockSubscriptionManager)(nil)
	_ SubscriptionBroadcaster              = (*MockBroadcaster)(nil)
	_ service.SignalServiceInterface       = (*MockSignalService)(nil)
	_ PositionRecorder                     = (*MockPositionRecorder)(nil)
	_ service.NotificationServiceInterface = (*MockNotificationService)(nil)
)
