package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"signalexec/internal/engine"
	"signalexec/internal/models"
)

var errMock = errors.New("mock error")

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu            sync.Mutex
	notifications []*models.Notification
	nextID        int64
	createErr     error
	getErr        error
	deleteErr     error

	lastTypes     []string
	lastLimit     int
	lastThreshold time.Time
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{nextID: 1}
}

func (m *MockNotificationRepository) Create(ctx context.Context, notif *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	notif.ID = m.nextID
	m.nextID++
	m.notifications = append(m.notifications, notif)
	return nil
}

func (m *MockNotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.notifications, nil
}

func (m *MockNotificationRepository) GetByTypes(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTypes = types
	m.lastLimit = limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.notifications, nil
}

func (m *MockNotificationRepository) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.notifications = nil
	return nil
}

func (m *MockNotificationRepository) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastThreshold = threshold
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return 3, nil
}

func (m *MockNotificationRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

// ============ Mock WebSocketBroadcaster ============

type MockBroadcaster struct {
	mu       sync.Mutex
	received []*models.Notification
	ch       chan *models.Notification
}

func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{ch: make(chan *models.Notification, 100)}
}

func (m *MockBroadcaster) BroadcastNotification(notif *models.Notification) {
	m.mu.Lock()
	m.received = append(m.received, notif)
	m.mu.Unlock()
	m.ch <- notif
}

// ============ Mock SignalDispatcher ============

type MockDispatcher struct {
	mu      sync.Mutex
	calls   []*models.Signal
	err     error
	outcome engine.OutcomeStatus
}

func (m *MockDispatcher) Dispatch(ctx context.Context, signal *models.Signal) (*engine.DispatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, signal)
	if m.err != nil {
		return nil, m.err
	}
	status := m.outcome
	if status == "" {
		status = engine.OutcomeFilled
	}
	return &engine.DispatchResult{
		SignalID:       signal.ID,
		SubscriptionID: signal.SubscriptionID,
		Symbol:         signal.Symbol,
		Side:           signal.Side,
		Outcomes: map[string]*engine.Outcome{
			"link-1": {LinkID: "link-1", Exchange: "paper", Status: status},
		},
	}, nil
}

func (m *MockDispatcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ============ Mock Deduplicator ============

type MockDeduplicator struct {
	mu      sync.Mutex
	seen    map[string]bool
	err     error
	forgets []string
}

func NewMockDeduplicator() *MockDeduplicator {
	return &MockDeduplicator{seen: make(map[string]bool)}
}

func (m *MockDeduplicator) Seen(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.seen[key] {
		return true, nil
	}
	m.seen[key] = true
	return false, nil
}

func (m *MockDeduplicator) Forget(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	m.forgets = append(m.forgets, key)
	return nil
}

// ============ Mock ResultPublisher ============

type MockPublisher struct {
	mu        sync.Mutex
	published []*engine.DispatchResult
	err       error
}

func (m *MockPublisher) PublishResult(ctx context.Context, result *engine.DispatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, result)
	return nil
}
