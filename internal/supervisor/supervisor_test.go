package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunLoop_ExitCancelsSharedContext(t *testing.T) {
	s := New()

	done := make(chan struct{})
	s.RunLoop("noop", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop never ran")
	}

	select {
	case <-s.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("loop exit did not cancel the shared context")
	}
	s.Wait()
}

func TestRunLoop_ErrorStillCancelsSharedContext(t *testing.T) {
	s := New()

	s.RunLoop("fails", func(ctx context.Context) error {
		return errors.New("boom")
	})

	select {
	case <-s.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("failing loop did not cancel the shared context")
	}
	s.Wait()
}

func TestStop_CancelsContext(t *testing.T) {
	s := New()
	s.Stop()

	select {
	case <-s.ctx.Done():
	default:
		t.Fatal("Stop() did not cancel the shared context")
	}
}

func TestRunLoop_RespectsCancellation(t *testing.T) {
	s := New()

	started := make(chan struct{})
	s.RunLoop("blocks-until-cancelled", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	s.Stop()
	s.Wait()
}
