package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"artbid/adapters/sse"
	"artbid/ledger"
)

var (
	discard   = slog.New(slog.NewTextHandler(io.Discard, nil))
	fixedTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	errReader = errors.New("reader failed")
)

func fixedClock() time.Time {
	return fixedTime
}

// fakeReader 由記憶體回傳餘額，failing 中的使用者會回傳錯誤
type fakeReader struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]ledger.Snapshot
	failing   map[uuid.UUID]bool
	calls     int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		snapshots: make(map[uuid.UUID]ledger.Snapshot),
		failing:   make(map[uuid.UUID]bool),
	}
}

func (r *fakeReader) set(userID uuid.UUID, total, held int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[userID] = ledger.Snapshot{UserID: userID, Total: total, EscrowHeld: held, Available: total - held}
}

func (r *fakeReader) fail(userID uuid.UUID, failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[userID] = failing
}

func (r *fakeReader) GetSnapshot(_ context.Context, userID uuid.UUID) (ledger.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failing[userID] {
		return ledger.Snapshot{}, errReader
	}
	snapshot, ok := r.snapshots[userID]
	if !ok {
		return ledger.Snapshot{UserID: userID}, nil
	}
	return snapshot, nil
}

// recordingProducer 記錄所有發佈的訊息
type recordingProducer struct {
	mu       sync.Mutex
	requests []sse.PublishRequest[BalanceEvent]
}

func (p *recordingProducer) Start() {}

func (p *recordingProducer) Close() {}

func (p *recordingProducer) Publish(request sse.PublishRequest[BalanceEvent]) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)
	return nil
}

func (p *recordingProducer) Requests() []sse.PublishRequest[BalanceEvent] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sse.PublishRequest[BalanceEvent](nil), p.requests...)
}
