package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWait_ZeroDuration(t *testing.T) {
	if err := Wait(context.Background(), 0); err != nil {
		t.Errorf("Wait(0) = %v, want nil", err)
	}
}

func TestWait_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, time.Minute); err == nil {
		t.Error("Wait with canceled context should return error")
	}
}

func TestLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	iterations := 0

	done := make(chan error, 1)
	go func() {
		done <- Loop(ctx, Config{
			Name:         "test",
			PollInterval: time.Millisecond,
			Process: func(context.Context) error {
				iterations++
				if iterations >= 3 {
					cancel()
				}

				return nil
			},
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Loop returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	if iterations < 3 {
		t.Errorf("iterations = %d, want >= 3", iterations)
	}
}

func TestLoop_OnErrorStops(t *testing.T) {
	wantErr := errors.New("fatal")

	err := Loop(context.Background(), Config{
		Name:         "test",
		PollInterval: time.Millisecond,
		Process: func(context.Context) error {
			return wantErr
		},
		OnError: func(error) bool { return false },
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Loop returned %v, want %v", err, wantErr)
	}
}

func TestRunWithTimeout(t *testing.T) {
	err := RunWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunWithTimeout = %v, want deadline exceeded", err)
	}
}

func TestRecoverPanic(t *testing.T) {
	logger := zerolog.Nop()

	func() {
		defer RecoverPanic(&logger, "test op")
		panic("boom")
	}()
}
