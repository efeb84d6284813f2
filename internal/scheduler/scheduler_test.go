package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOverlapSuppression(t *testing.T) {
	s := New(nil, testLogger())

	var running, maxRunning, runs int32
	block := make(chan struct{})

	s.Add(Job{
		Name:     "slow",
		Interval: 20 * time.Millisecond,
		Run: func(ctx context.Context) (int, error) {
			cur := atomic.AddInt32(&running, 1)
			defer atomic.AddInt32(&running, -1)
			for {
				prev := atomic.LoadInt32(&maxRunning)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
					break
				}
			}
			atomic.AddInt32(&runs, 1)
			select {
			case <-block:
			case <-ctx.Done():
			}
			return 0, nil
		},
		RunAtStart: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	// Several ticks pass while the first run is still blocked.
	time.Sleep(120 * time.Millisecond)
	cancel()
	close(block)
	<-done

	if got := atomic.LoadInt32(&maxRunning); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Errorf("runs = %d, want 1 (ticks during execution are skipped)", got)
	}

	status := s.Status()
	if len(status) != 1 || status[0].SkippedTicks == 0 {
		t.Errorf("expected skipped ticks recorded, got %+v", status)
	}
}

func TestDifferentJobsRunConcurrently(t *testing.T) {
	s := New(nil, testLogger())

	started := make(chan string, 4)
	release := make(chan struct{})
	for _, name := range []string{"a", "b"} {
		name := name
		s.Add(Job{
			Name:     name,
			Interval: time.Hour,
			Run: func(ctx context.Context) (int, error) {
				started <- name
				select {
				case <-release:
				case <-ctx.Done():
				}
				return 0, nil
			},
			RunAtStart: true,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case name := <-started:
			seen[name] = true
		case <-timeout:
			t.Fatalf("jobs did not start concurrently, saw %v", seen)
		}
	}
	close(release)
	cancel()
	<-done
}

func TestFailureRecordedAndIntervalKept(t *testing.T) {
	s := New(nil, testLogger())

	var runs int32
	s.Add(Job{
		Name:     "flaky",
		Interval: 15 * time.Millisecond,
		Run: func(ctx context.Context) (int, error) {
			n := atomic.AddInt32(&runs, 1)
			if n == 1 {
				return 0, errors.New("boom")
			}
			return 1, nil
		},
		RunAtStart: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&runs) < 2 {
		select {
		case <-deadline:
			t.Fatal("second run never happened")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	<-done

	status := s.Status()[0]
	if status.LastErrorAt == nil {
		t.Error("failure time not recorded")
	}
	if status.LastSuccessAt == nil {
		t.Error("success time not recorded")
	}
}

func TestStopIsCooperative(t *testing.T) {
	s := New(nil, testLogger())

	entered := make(chan struct{})
	s.Add(Job{
		Name:     "waiter",
		Interval: time.Hour,
		Run: func(ctx context.Context) (int, error) {
			close(entered)
			<-ctx.Done()
			return 0, ctx.Err()
		},
		RunAtStart: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	<-entered
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop promptly after cancellation")
	}
}
