package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSpooler_RunsOneJobAtATime(t *testing.T) {
	s := NewSpooler(8)
	defer s.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Submit(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("peak concurrency = %d", peak.Load())
	}
}

func TestSpooler_ReturnsJobError(t *testing.T) {
	s := NewSpooler(0)
	defer s.Close()
	boom := errors.New("boom")
	if err := s.Submit(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestSpooler_CancelledWhileQueued(t *testing.T) {
	s := NewSpooler(1)
	defer s.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Submit(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Submit(ctx, func(context.Context) error {
			ran <- struct{}{}
			return nil
		})
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	close(release)

	// A later job proves the worker skipped the cancelled one.
	if err := s.Submit(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("submit after cancel: %v", err)
	}
	select {
	case <-ran:
		t.Fatalf("cancelled job ran")
	default:
	}
}

func TestSpooler_Closed(t *testing.T) {
	s := NewSpooler(0)
	s.Close()
	s.Close()
	if err := s.Submit(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrSpoolerClosed) {
		t.Fatalf("err = %v", err)
	}
}
