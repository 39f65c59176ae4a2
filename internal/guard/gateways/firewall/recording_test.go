package firewall

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/egress-guard/internal/guard/common/clock"
	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Record(rec domain.BlockRecord) error {
	return m.Called(rec).Error(0)
}

func (m *mockRegistry) Remove(addr netip.Addr, at time.Time) (bool, error) {
	args := m.Called(addr, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockRegistry) List() ([]domain.BlockRecord, error) {
	args := m.Called()
	recs, _ := args.Get(0).([]domain.BlockRecord)
	return recs, args.Error(1)
}

var fixed = time.Date(2025, 8, 13, 12, 0, 0, 0, time.UTC)

func TestRecording_BlockRecordsOnlyNewRules(t *testing.T) {
	reg := &mockRegistry{}
	addr := netip.MustParseAddr("203.0.113.9")
	reg.On("Record", domain.BlockRecord{Addr: addr, Hostname: "tracker.example.net", BlockedAt: fixed}).Return(nil).Once()

	r := NewRecording(NewMemory(), reg, &clock.MockClock{CurrentTime: fixed}, log.NewNoopLogger())
	ctx := ContextWithHostname(context.Background(), "tracker.example.net")

	st, err := r.Block(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleBlocked, st)

	st, err = r.Block(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleAlreadyBlocked, st)

	reg.AssertExpectations(t)
}

func TestRecording_BlockFailureNotRecorded(t *testing.T) {
	reg := &mockRegistry{}
	r := NewRecording(NewMemory(), reg, nil, log.NewNoopLogger())

	_, err := r.Block(context.Background(), "10.1.2.3")
	assert.ErrorIs(t, err, domain.ErrLocalAddress)
	reg.AssertNotCalled(t, "Record", mock.Anything)
}

func TestRecording_RegistryErrorIsNotFatal(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("Record", mock.Anything).Return(errors.New("disk full"))

	r := NewRecording(NewMemory(), reg, nil, log.NewNoopLogger())
	st, err := r.Block(context.Background(), "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleBlocked, st)
}

func TestRecording_UnblockRemoves(t *testing.T) {
	mem := NewMemory()
	_, err := mem.Block(context.Background(), "93.184.216.34")
	require.NoError(t, err)

	reg := &mockRegistry{}
	addr := netip.MustParseAddr("93.184.216.34")
	reg.On("Remove", addr, fixed).Return(true, nil).Twice()

	r := NewRecording(mem, reg, &clock.MockClock{CurrentTime: fixed}, log.NewNoopLogger())
	st, err := r.Unblock(context.Background(), "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleUnblocked, st)

	// absent rule still clears a stale registry entry
	_, err = r.Unblock(context.Background(), "93.184.216.34")
	assert.ErrorIs(t, err, domain.ErrRuleAbsent)

	reg.AssertExpectations(t)
}

func TestRecording_UnblockInvalidTarget(t *testing.T) {
	reg := &mockRegistry{}
	r := NewRecording(NewMemory(), reg, nil, log.NewNoopLogger())

	_, err := r.Unblock(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	reg.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}

func TestRestore(t *testing.T) {
	mem := NewMemory()
	_, err := mem.Block(context.Background(), "198.51.100.1")
	require.NoError(t, err)

	reg := &mockRegistry{}
	reg.On("List").Return([]domain.BlockRecord{
		{Addr: netip.MustParseAddr("198.51.100.1")},
		{Addr: netip.MustParseAddr("203.0.113.9")},
		{Addr: netip.MustParseAddr("10.0.0.9")},
	}, nil)

	n, err := Restore(context.Background(), mem, reg, log.NewNoopLogger())
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLocalAddress)
	assert.Len(t, mem.Rules(), 2)
}

func TestRestore_ListError(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("List").Return(nil, errors.New("bolt closed"))

	n, err := Restore(context.Background(), NewMemory(), reg, log.NewNoopLogger())
	assert.Zero(t, n)
	assert.EqualError(t, err, "bolt closed")
}
