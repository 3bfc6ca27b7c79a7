package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

func TestParser_Validate(t *testing.T) {
	p := NewParser()

	for _, expr := range []string{"45 19 * * 1", "*/15 * * * *", "0 0 1 1 *", "0 12 * * MON-FRI"} {
		assert.NoError(t, p.Validate(expr), expr)
	}
	for _, expr := range []string{"", "61 * * * *", "* * * *", "0 0 0 * * *", "@daily", "not cron"} {
		assert.Error(t, p.Validate(expr), expr)
	}
}

func TestParser_Next(t *testing.T) {
	p := NewParser()

	// 2026-10-19 is a Monday
	from := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	next, err := p.Next("45 19 * * 1", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 19, 45, 0, 0, time.UTC), next)

	next, err = p.Next("45 19 * * 1", next)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 26, 19, 45, 0, 0, time.UTC), next)

	// Evaluated in UTC regardless of the caller's zone
	tokyo := time.FixedZone("JST", 9*60*60)
	next, err = p.Next("45 19 * * 1", time.Date(2026, 10, 20, 3, 0, 0, 0, tokyo))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 19, 45, 0, 0, time.UTC), next)

	_, err = p.Next("bad", from)
	assert.Error(t, err)
}

type recorder struct {
	mu     sync.Mutex
	ticks  []entities.TriggerEvent
	byName []string
}

func (r *recorder) dispatch(_ context.Context, workflow string, event entities.TriggerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = append(r.byName, workflow)
	r.ticks = append(r.ticks, event)
}

func TestScheduler_RegisterAndFire(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler("matplotlib/matplotlib", rec.dispatch, nil)

	require.NoError(t, s.Register("codeql", []string{"45 19 * * 1"}))
	require.NoError(t, s.Register("codeql", []string{"45 19 * * 1"}))
	require.NoError(t, s.Register("nightly", []string{"0 3 * * *"}))

	before := time.Now()
	entries := s.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.False(t, e.Next.IsZero())
		assert.Equal(t, time.UTC, e.Next.Location())
		want, err := NewParser().Next(e.Cron, before)
		require.NoError(t, err)
		assert.False(t, e.Next.Before(want))
	}

	s.Fire("codeql", "45 19 * * 1")
	require.Len(t, rec.ticks, 1)
	assert.Equal(t, "codeql", rec.byName[0])
	assert.Equal(t, entities.EventSchedule, rec.ticks[0].Kind)
	assert.Equal(t, "45 19 * * 1", rec.ticks[0].Cron)
	assert.Equal(t, "matplotlib/matplotlib", rec.ticks[0].Repository)
}

func TestScheduler_RegisterInvalid(t *testing.T) {
	s := NewScheduler("matplotlib/matplotlib", func(context.Context, string, entities.TriggerEvent) {}, nil)
	assert.Error(t, s.Register("codeql", []string{"61 * * * *"}))
	assert.Empty(t, s.Entries())
}

func TestScheduler_StopCancelsDispatchContext(t *testing.T) {
	var got context.Context
	s := NewScheduler("matplotlib/matplotlib", func(ctx context.Context, _ string, _ entities.TriggerEvent) {
		got = ctx
	}, nil)

	s.Start()
	s.Fire("codeql", "45 19 * * 1")
	s.Stop()

	require.NotNil(t, got)
	assert.ErrorIs(t, got.Err(), context.Canceled)
}
