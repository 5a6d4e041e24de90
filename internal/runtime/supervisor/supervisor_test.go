package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logx "streambot/pkg/logx"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoErrorStopsGroup(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	workerStopped := make(chan struct{})
	s.Go0("worker", func(ctx context.Context) {
		<-ctx.Done()
		close(workerStopped)
	})
	s.Go("boom", func(ctx context.Context) error {
		return errors.New("db gone")
	})

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "db gone") {
		t.Fatalf("wait = %v, want the goroutine failure", err)
	}
	select {
	case <-workerStopped:
	default:
		t.Fatal("sibling goroutine not cancelled after failure")
	}
}

func TestGoPanicIsRecovered(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("angry", func(ctx context.Context) error {
		panic("nope")
	})

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("wait = %v, want recovered panic", err)
	}
}

func TestStopCancelsGoroutines(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	runs := 0
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs++
		if runs < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if runs != 3 {
		t.Fatalf("runs = %d, want 3", runs)
	}
}