package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastzet/metastream/internal/providers"
)

type plainProvider struct{ name string }

func (p plainProvider) Name() string { return p.name }

func (p plainProvider) Search(context.Context, string, int, *providers.Scratch) ([]providers.Record, error) {
	return nil, nil
}

type checkedProvider struct {
	plainProvider
	err    error
	checks *atomic.Int32
}

func (p checkedProvider) HealthCheck(context.Context) error {
	if p.checks != nil {
		p.checks.Add(1)
	}
	return p.err
}

func newRegistry(t *testing.T, ps ...providers.Provider) *providers.Registry {
	t.Helper()
	reg, err := providers.NewRegistry(ps...)
	require.NoError(t, err)
	return reg
}

func TestCheckAll_RecordsStatuses(t *testing.T) {
	reg := newRegistry(t,
		checkedProvider{plainProvider: plainProvider{"up"}},
		checkedProvider{plainProvider: plainProvider{"down"}, err: errors.New("403 quota exceeded")},
		plainProvider{"unchecked"},
	)
	m := New(reg, 0, time.Second)

	m.CheckAll(context.Background())
	st := m.Statuses()

	require.Len(t, st, 3)
	assert.Equal(t, "up", st[0].Name)
	assert.True(t, st[0].Checked)
	assert.True(t, st[0].Healthy)
	assert.False(t, st[0].LastChecked.IsZero())

	assert.Equal(t, "down", st[1].Name)
	assert.False(t, st[1].Healthy)
	assert.Equal(t, "403 quota exceeded", st[1].Error)

	assert.Equal(t, "unchecked", st[2].Name)
	assert.False(t, st[2].Checked)
	assert.True(t, st[2].Healthy)
}

func TestStatuses_BeforeFirstCheck(t *testing.T) {
	m := New(newRegistry(t, checkedProvider{plainProvider: plainProvider{"p"}}), 0, time.Second)
	st := m.Statuses()
	require.Len(t, st, 1)
	assert.False(t, st[0].Checked)
}

func TestStart_RunsChecksOnSchedule(t *testing.T) {
	var checks atomic.Int32
	reg := newRegistry(t, checkedProvider{plainProvider: plainProvider{"p"}, checks: &checks})
	m := New(reg, 20*time.Millisecond, time.Second)

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown() })

	assert.Eventually(t, func() bool { return checks.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStart_ZeroIntervalDisablesSchedule(t *testing.T) {
	var checks atomic.Int32
	reg := newRegistry(t, checkedProvider{plainProvider: plainProvider{"p"}, checks: &checks})
	m := New(reg, 0, time.Second)

	require.NoError(t, m.Start())
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, checks.Load())
	assert.NoError(t, m.Shutdown())
}
