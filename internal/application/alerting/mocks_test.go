package alerting

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/notification"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/database/memory"
)

// --- snapshot provider ---

type mockSnapshots struct {
	*memory.SnapshotProvider
	getErr error
}

func (m *mockSnapshots) GetAnalysisSnapshot(ctx context.Context, id string) (*risk.AnalysisSnapshot, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.SnapshotProvider.GetAnalysisSnapshot(ctx, id)
}

// --- alert store ---

// mockStore wraps the in-memory store with injectable failures.
type mockStore struct {
	*memory.AlertStore

	mu          sync.Mutex
	existsErr   error
	createErr   error
	listErr     error
	summaryErr  error
	ackErr      error
	summaryHits int
	// afterSummary runs once, after the next summary read.
	afterSummary func()
	// existsAlwaysFalse forces the pre-check to miss so the insert decides.
	existsAlwaysFalse bool
}

func newMockStore() *mockStore {
	return &mockStore{AlertStore: memory.NewAlertStore(nil)}
}

func (m *mockStore) Exists(ctx context.Context, id string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	if m.existsAlwaysFalse {
		return false, nil
	}
	return m.AlertStore.Exists(ctx, id)
}

func (m *mockStore) Create(ctx context.Context, a *alert.Alert) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	return m.AlertStore.Create(ctx, a)
}

func (m *mockStore) ListForClinic(ctx context.Context, id string, f alert.Filter) ([]alert.View, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.AlertStore.ListForClinic(ctx, id, f)
}

func (m *mockStore) ListForDoctor(ctx context.Context, id string, f alert.Filter) ([]alert.View, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.AlertStore.ListForDoctor(ctx, id, f)
}

func (m *mockStore) Summary(ctx context.Context, id string, recent int) (*alert.ClinicSummary, error) {
	m.mu.Lock()
	m.summaryHits++
	m.mu.Unlock()
	if m.summaryErr != nil {
		return nil, m.summaryErr
	}
	sum, err := m.AlertStore.Summary(ctx, id, recent)
	m.mu.Lock()
	hook := m.afterSummary
	m.afterSummary = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return sum, err
}

func (m *mockStore) Acknowledge(ctx context.Context, id, by string, at time.Time) (bool, error) {
	if m.ackErr != nil {
		return false, m.ackErr
	}
	return m.AlertStore.Acknowledge(ctx, id, by, at)
}

func (m *mockStore) LatestPerPatient(ctx context.Context, id string, level *risk.RiskLevel) ([]alert.HighRiskPatient, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.AlertStore.LatestPerPatient(ctx, id, level)
}

func (m *mockStore) summaryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaryHits
}

// --- notification sink ---

type mockSink struct {
	mu      sync.Mutex
	sent    []notification.Notification
	failFor map[notification.Audience]error
	block   map[notification.Audience]chan struct{}
}

func newMockSink() *mockSink {
	return &mockSink{
		failFor: make(map[notification.Audience]error),
		block:   make(map[notification.Audience]chan struct{}),
	}
}

func (m *mockSink) Notify(ctx context.Context, n notification.Notification) error {
	m.mu.Lock()
	ch := m.block[n.Target.Audience]
	err := m.failFor[n.Target.Audience]
	m.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, n)
	m.mu.Unlock()
	return nil
}

func (m *mockSink) targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, n := range m.sent {
		out[i] = n.Target.String()
	}
	return out
}

// --- summary cache ---

// mockCache mimics the Redis cache's JSON round trip.
type mockCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	deleted []string
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (m *mockCache) GetOrSet(ctx context.Context, key string, dest interface{}, _ time.Duration, loader func(context.Context) (interface{}, error)) error {
	m.mu.Lock()
	if m.getErr != nil {
		m.mu.Unlock()
		return m.getErr
	}
	raw, ok := m.data[key]
	m.mu.Unlock()
	if ok {
		return json.Unmarshal(raw, dest)
	}

	v, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err = json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return json.Unmarshal(raw, dest)
}

func (m *mockCache) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, prefix)
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *mockCache) keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
