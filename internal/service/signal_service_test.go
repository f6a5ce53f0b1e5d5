package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

func testSignal(id string) *models.Signal {
	return &models.Signal{
		ID:             id,
		SubscriptionID: "sub-1",
		Symbol:         "BTCUSDT",
		Side:           models.SideBuy,
	}
}

func TestSignalService_Submit(t *testing.T) {
	dispatcher := &MockDispatcher{}
	publisher := &MockPublisher{}
	svc := NewSignalService(dispatcher, NewMockDeduplicator(), publisher, utils.NewNop())

	result, err := svc.Submit(context.Background(), testSignal("sig-1"), SourceHTTP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SignalID != "sig-1" || result.Count(engine.OutcomeFilled) != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(publisher.published) != 1 || publisher.published[0] != result {
		t.Error("result must be published")
	}
	if dispatcher.calls[0].ReceivedAt.IsZero() {
		t.Error("received_at must be stamped")
	}
}

func TestSignalService_AssignsID(t *testing.T) {
	dedup := NewMockDeduplicator()
	svc := NewSignalService(&MockDispatcher{}, dedup, nil, utils.NewNop())

	sig := testSignal("")
	if _, err := svc.Submit(context.Background(), sig, SourceKafka); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.ID == "" {
		t.Error("signal without id must get a generated one")
	}
	if len(dedup.seen) != 0 {
		t.Error("generated ids must not be deduplicated")
	}
}

func TestSignalService_Duplicate(t *testing.T) {
	dispatcher := &MockDispatcher{}
	svc := NewSignalService(dispatcher, NewMockDeduplicator(), nil, utils.NewNop())
	ctx := context.Background()

	if _, err := svc.Submit(ctx, testSignal("sig-1"), SourceHTTP); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Submit(ctx, testSignal("sig-1"), SourceKafka); !errors.Is(err, ErrDuplicateSignal) {
		t.Fatalf("expected ErrDuplicateSignal, got %v", err)
	}

	// Тот же ID в другой подписке - другой сигнал
	other := testSignal("sig-1")
	other.SubscriptionID = "sub-2"
	if _, err := svc.Submit(ctx, other, SourceHTTP); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dispatcher.callCount() != 2 {
		t.Errorf("expected 2 dispatches, got %d", dispatcher.callCount())
	}
}

func TestSignalService_RejectedSignalReleasesKey(t *testing.T) {
	dispatcher := &MockDispatcher{err: fmt.Errorf("%w: sub-1", engine.ErrSubscriptionNotFound)}
	dedup := NewMockDeduplicator()
	svc := NewSignalService(dispatcher, dedup, nil, utils.NewNop())
	ctx := context.Background()

	if _, err := svc.Submit(ctx, testSignal("sig-1"), SourceHTTP); !errors.Is(err, engine.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if len(dedup.forgets) != 1 || dedup.forgets[0] != "sub-1:sig-1" {
		t.Errorf("expected dedup key release, got %v", dedup.forgets)
	}

	dispatcher.err = nil
	if _, err := svc.Submit(ctx, testSignal("sig-1"), SourceHTTP); err != nil {
		t.Errorf("redelivery after rejection must pass, got %v", err)
	}
}

func TestSignalService_DedupUnavailable(t *testing.T) {
	dispatcher := &MockDispatcher{}
	dedup := NewMockDeduplicator()
	dedup.err = errMock
	svc := NewSignalService(dispatcher, dedup, nil, utils.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := svc.Submit(context.Background(), testSignal("sig-1"), SourceHTTP); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if dispatcher.callCount() != 2 {
		t.Errorf("dedup outage must not block signals, got %d dispatches", dispatcher.callCount())
	}
}

func TestSignalService_PublishErrorIgnored(t *testing.T) {
	svc := NewSignalService(&MockDispatcher{outcome: engine.OutcomeDenied}, nil, &MockPublisher{err: errMock}, utils.NewNop())

	result, err := svc.Submit(context.Background(), testSignal("sig-1"), SourceHTTP)
	if err != nil {
		t.Fatalf("publish failure must not fail the signal: %v", err)
	}
	if result.Count(engine.OutcomeDenied) != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestSignalService_NilSignal(t *testing.T) {
	svc := NewSignalService(&MockDispatcher{}, nil, nil, utils.NewNop())
	if _, err := svc.Submit(context.Background(), nil, SourceHTTP); !errors.Is(err, engine.ErrInvalidSignal) {
		t.Errorf("expected ErrInvalidSignal, got %v", err)
	}
}
