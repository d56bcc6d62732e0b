package dealers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealerdesk/dealerdesk/internal/authz"
	"github.com/dealerdesk/dealerdesk/internal/shared"
)

type mockRepository struct {
	dealers map[int64]Dealer
	modules map[int64]map[authz.Module]bool
	roles   map[int64][]int64

	setErr     error
	roleIDsErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		dealers: make(map[int64]Dealer),
		modules: make(map[int64]map[authz.Module]bool),
		roles:   make(map[int64][]int64),
	}
}

func (m *mockRepository) GetDealer(ctx context.Context, dealerID int64) (Dealer, error) {
	d, ok := m.dealers[dealerID]
	if !ok {
		return Dealer{}, shared.ErrNotFound
	}
	return d, nil
}

func (m *mockRepository) ModuleEnablement(ctx context.Context, dealerID int64) (map[authz.Module]bool, error) {
	return m.modules[dealerID], nil
}

func (m *mockRepository) SetModuleEnabled(ctx context.Context, dealerID int64, module authz.Module, enabled bool) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.modules[dealerID] == nil {
		m.modules[dealerID] = make(map[authz.Module]bool)
	}
	m.modules[dealerID][module] = enabled
	return nil
}

func (m *mockRepository) RoleIDs(ctx context.Context, dealerID int64) ([]int64, error) {
	if m.roleIDsErr != nil {
		return nil, m.roleIDsErr
	}
	return m.roles[dealerID], nil
}

type mockBus struct {
	events     []authz.Event
	publishErr error
}

func (m *mockBus) Publish(ctx context.Context, event authz.Event) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.events = append(m.events, event)
	return nil
}

type mockWarmup struct {
	dealerIDs []int64
	err       error
}

func (m *mockWarmup) EnqueueDealerWarmup(ctx context.Context, dealerID int64) error {
	if m.err != nil {
		return m.err
	}
	m.dealerIDs = append(m.dealerIDs, dealerID)
	return nil
}

func TestSetModuleEnabledFansOutPerRole(t *testing.T) {
	repo := newMockRepository()
	repo.dealers[3] = Dealer{ID: 3, Name: "Hilltop Motors"}
	repo.roles[3] = []int64{41, 52}
	bus := &mockBus{}
	warmup := &mockWarmup{}
	svc := NewService(repo, bus, warmup, nil)

	err := svc.SetModuleEnabled(context.Background(), 3, authz.ModuleInventory, false)
	require.NoError(t, err)
	assert.False(t, repo.modules[3][authz.ModuleInventory])

	require.Len(t, bus.events, 2)
	assert.ElementsMatch(t, []int64{41, 52}, []int64{bus.events[0].RoleID, bus.events[1].RoleID})
	assert.Equal(t, []int64{3}, warmup.dealerIDs)
}

func TestSetModuleEnabledUnknownDealer(t *testing.T) {
	repo := newMockRepository()
	bus := &mockBus{}
	svc := NewService(repo, bus, nil, nil)

	err := svc.SetModuleEnabled(context.Background(), 9, authz.ModuleInventory, true)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, bus.events)
}

func TestSetModuleEnabledFailsWhenInvalidationFails(t *testing.T) {
	repo := newMockRepository()
	repo.dealers[3] = Dealer{ID: 3}
	repo.roles[3] = []int64{41}
	bus := &mockBus{publishErr: errors.New("broker down")}
	svc := NewService(repo, bus, nil, nil)

	err := svc.SetModuleEnabled(context.Background(), 3, authz.ModuleInventory, true)
	require.Error(t, err)
}

func TestWarmupFailureDoesNotFailToggle(t *testing.T) {
	repo := newMockRepository()
	repo.dealers[3] = Dealer{ID: 3}
	repo.roles[3] = []int64{41}
	bus := &mockBus{}
	warmup := &mockWarmup{err: errors.New("queue full")}
	svc := NewService(repo, bus, warmup, nil)

	err := svc.SetModuleEnabled(context.Background(), 3, authz.ModuleInventory, true)
	require.NoError(t, err)
	require.Len(t, bus.events, 1)
}
