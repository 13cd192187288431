package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAlignsToOffset(t *testing.T) {
	s := New(Options{Interval: time.Hour, Offset: 15 * time.Minute}, zerolog.Nop())

	cases := []struct {
		now  time.Time
		want time.Time
	}{
		// Before the offset: fire at :15 of the same hour.
		{
			now:  time.Date(2022, 1, 15, 9, 5, 0, 0, time.UTC),
			want: time.Date(2022, 1, 15, 9, 15, 0, 0, time.UTC),
		},
		// Exactly on the offset: fire next hour, never immediately.
		{
			now:  time.Date(2022, 1, 15, 9, 15, 0, 0, time.UTC),
			want: time.Date(2022, 1, 15, 10, 15, 0, 0, time.UTC),
		},
		// Past the offset: fire at :15 of the next hour.
		{
			now:  time.Date(2022, 1, 15, 9, 40, 0, 0, time.UTC),
			want: time.Date(2022, 1, 15, 10, 15, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		if got := s.nextTick(tc.now); !got.Equal(tc.want) {
			t.Errorf("nextTick(%s) = %s, want %s", tc.now, got, tc.want)
		}
	}
}

func TestNextTickZeroOffset(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	now := time.Date(2022, 1, 15, 9, 30, 0, 0, time.UTC)
	want := time.Date(2022, 1, 15, 10, 0, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(want) {
		t.Errorf("nextTick(%s) = %s, want %s", now, got, want)
	}
}

func TestRunOnStartExecutesImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan time.Time, 1)
	tick := func(ctx context.Context, at time.Time) error {
		ran <- at
		cancel()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, tick) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("startup tick did not fire")
	}
	if err := <-done; err != context.Canceled {
		t.Errorf("run returned %v, want context.Canceled", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, at time.Time) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
