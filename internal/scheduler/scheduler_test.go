package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextHalfHour(t *testing.T) {
	s, err := New(HalfHourly, clockwork.NewFakeClock(), func(context.Context) {})
	require.NoError(t, err)

	cases := []struct {
		now, want string
	}{
		{"2024-03-01T10:00:00Z", "2024-03-01T10:30:00Z"},
		{"2024-03-01T10:00:01Z", "2024-03-01T10:30:00Z"},
		{"2024-03-01T10:29:59Z", "2024-03-01T10:30:00Z"},
		{"2024-03-01T10:30:00Z", "2024-03-01T11:00:00Z"},
		{"2024-03-01T23:45:00Z", "2024-03-02T00:00:00Z"},
	}
	for _, c := range cases {
		now, _ := time.Parse(time.RFC3339, c.now)
		want, _ := time.Parse(time.RFC3339, c.want)
		assert.Equal(t, want, s.Next(now), "next after %s", c.now)
	}
}

func TestNewRejectsBadExpression(t *testing.T) {
	_, err := New("every half hour", clockwork.NewFakeClock(), func(context.Context) {})
	assert.Error(t, err)
}

func TestRunFiresAtEachSlot(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 10, 29, 0, 0, time.UTC))
	fired := make(chan time.Time, 4)
	s, err := New(HalfHourly, clock, func(context.Context) { fired <- clock.Now() })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	select {
	case at := <-fired:
		assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), at)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not fire at 10:30")
	}

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Minute)
	select {
	case at := <-fired:
		assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), at)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not fire at 11:00")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestFireOncePerSlot(t *testing.T) {
	slot := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(slot)
	var n atomic.Int32
	s, err := New(HalfHourly, clock, func(context.Context) { n.Add(1) })
	require.NoError(t, err)

	s.fire(context.Background(), slot)
	s.fire(context.Background(), slot)
	assert.Equal(t, int32(1), n.Load())

	clock.Advance(30 * time.Minute)
	s.fire(context.Background(), slot.Add(30*time.Minute))
	assert.Equal(t, int32(2), n.Load())
}

func TestMissedSlotIsNotBackfilled(t *testing.T) {
	slot := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(slot.Add(20 * time.Minute))
	var n atomic.Int32
	s, err := New(HalfHourly, clock, func(context.Context) { n.Add(1) })
	require.NoError(t, err)

	s.fire(context.Background(), slot)
	assert.Equal(t, int32(0), n.Load())

	// Within the same minute is still on time.
	clock.Advance(10*time.Minute + 30*time.Second)
	s.fire(context.Background(), slot.Add(30*time.Minute))
	assert.Equal(t, int32(1), n.Load())
}
