package execution

import (
	"context"
	"sync"

	"scalpbot/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu        sync.Mutex
	errorMsgs []string
	warnMsgs  []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockPositionRepo implements ports.PositionRepository in memory
type mockPositionRepo struct {
	mu      sync.Mutex
	saved   map[string]*domain.Position
	loadErr error
	saveErr error
}

func newMockPositionRepo() *mockPositionRepo {
	return &mockPositionRepo{saved: make(map[string]*domain.Position)}
}

func (m *mockPositionRepo) SavePosition(ctx context.Context, pos *domain.Position) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := *pos
	m.saved[pos.Symbol] = &snapshot
	return nil
}

func (m *mockPositionRepo) DeletePosition(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, symbol)
	return nil
}

func (m *mockPositionRepo) LoadPositions(ctx context.Context) ([]*domain.Position, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.saved))
	for _, pos := range m.saved {
		snapshot := *pos
		out = append(out, &snapshot)
	}
	return out, nil
}

// mockCooldownRepo implements ports.CooldownRepository in memory
type mockCooldownRepo struct {
	mu    sync.Mutex
	saved map[string]*domain.CooldownEntry
}

func newMockCooldownRepo() *mockCooldownRepo {
	return &mockCooldownRepo{saved: make(map[string]*domain.CooldownEntry)}
}

func (m *mockCooldownRepo) SaveCooldown(ctx context.Context, entry *domain.CooldownEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := *entry
	m.saved[entry.Symbol] = &snapshot
	return nil
}

func (m *mockCooldownRepo) DeleteCooldown(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, symbol)
	return nil
}

func (m *mockCooldownRepo) LoadCooldowns(ctx context.Context) ([]*domain.CooldownEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.CooldownEntry, 0, len(m.saved))
	for _, entry := range m.saved {
		snapshot := *entry
		out = append(out, &snapshot)
	}
	return out, nil
}
