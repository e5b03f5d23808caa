package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduleFiresOnce(t *testing.T) {
	s := New(zap.NewNop())
	fired := make(chan struct{}, 2)

	token := s.Schedule("alice", 10*time.Millisecond, func() {
		fired <- struct{}{}
	})
	require.NotEmpty(t, token)
	require.True(t, s.Pending("alice"))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("launch did not fire")
	}
	require.False(t, s.Pending("alice"))

	select {
	case <-fired:
		t.Fatal("launch fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelPreventsLaunch(t *testing.T) {
	s := New(zap.NewNop())
	var fired atomic.Bool

	s.Schedule("alice", 20*time.Millisecond, func() { fired.Store(true) })
	require.True(t, s.Cancel("alice"))
	require.False(t, s.Pending("alice"))

	time.Sleep(60 * time.Millisecond)
	require.False(t, fired.Load(), "cancelled launch must not fire")
}

func TestCancelWithoutScheduleReportsFalse(t *testing.T) {
	s := New(zap.NewNop())
	require.False(t, s.Cancel("nobody"))
}

func TestRescheduleReplacesPreviousTimer(t *testing.T) {
	s := New(zap.NewNop())
	var first, second atomic.Bool
	done := make(chan struct{})

	t1 := s.Schedule("alice", 20*time.Millisecond, func() { first.Store(true) })
	t2 := s.Schedule("alice", 30*time.Millisecond, func() {
		second.Store(true)
		close(done)
	})
	require.NotEqual(t, t1, t2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("replacement launch did not fire")
	}
	require.False(t, first.Load(), "replaced launch must not fire")
	require.True(t, second.Load())
}

func TestConcurrentCancelAndFire(t *testing.T) {
	s := New(zap.NewNop())

	// A launch that runs after Cancel returned true would break the
	// exclusivity promise. Hammer the window.
	for i := 0; i < 200; i++ {
		var fired atomic.Bool
		s.Schedule("alice", time.Millisecond, func() { fired.Store(true) })
		time.Sleep(time.Millisecond)
		if s.Cancel("alice") {
			require.False(t, fired.Load())
		}
	}
}

func TestShutdownCancelsEverything(t *testing.T) {
	s := New(zap.NewNop())
	var fired atomic.Bool

	s.Schedule("alice", 20*time.Millisecond, func() { fired.Store(true) })
	s.Schedule("bob", 20*time.Millisecond, func() { fired.Store(true) })
	s.Shutdown()

	require.False(t, s.Pending("alice"))
	require.False(t, s.Pending("bob"))
	time.Sleep(60 * time.Millisecond)
	require.False(t, fired.Load())
}
