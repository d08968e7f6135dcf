package mesh

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoop_RunsPostedClosuresInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLoop()
	go l.Run(ctx)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Do(ctx, func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
	if len(got) != 100 {
		t.Fatalf("ran %d closures, want 100", len(got))
	}
}

func TestLoop_PostAfterStopIsRejected(t *testing.T) {
	l := NewLoop()
	done := make(chan struct{})
	go func() {
		_ = l.Run(context.Background())
		close(done)
	}()
	l.Stop()
	<-done

	ran := false
	if l.Post(func() { ran = true }) {
		t.Fatal("Post after Stop = true, want false")
	}
	if err := l.Do(context.Background(), func() { ran = true }); !errors.Is(err, ErrLoopStopped) {
		t.Fatalf("Do after Stop = %v, want ErrLoopStopped", err)
	}
	if ran {
		t.Fatal("closure ran on a stopped loop")
	}
	l.Stop()
}

func TestLoop_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop()
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !l.Stopped() {
		t.Fatal("Stopped() = false after Run returned")
	}
}

func TestWallClock_CancelPreventsFire(t *testing.T) {
	fired := make(chan struct{}, 1)
	cancel := WallClock().After(20*time.Millisecond, func() { fired <- struct{}{} })
	cancel()
	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}
