package providers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
)

func TestLimit(t *testing.T) {
	t.Run("bounds concurrent requests", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		slow := CompleterFunc(func(ctx context.Context, model string, _ []core.Message) (string, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return model, nil
		})
		c := Limit(slow, NewLimiter(2))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.Complete(context.Background(), "m", nil); err != nil {
					t.Errorf("Complete: %v", err)
				}
			}()
		}
		wg.Wait()
		if got := peak.Load(); got > 2 {
			t.Errorf("peak concurrency = %d, want <= 2", got)
		}
	})

	t.Run("acquire honours cancellation", func(t *testing.T) {
		l := NewLimiter(1)
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		defer l.Release()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("nil limiter is unbounded", func(t *testing.T) {
		var l *Limiter
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
		l.Release()
		if NewLimiter(0) != nil {
			t.Error("NewLimiter(0) should be nil")
		}
	})
}
