package providers

import (
	"context"

	"github.com/boristopalov/agentgym/pkg/core"
)

// Limiter bounds the number of model requests in flight across all
// episodes of a process.
type Limiter struct {
	sem chan struct{}
}

// NewLimiter returns nil for n <= 0, and a nil *Limiter never blocks.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		return nil
	}
	return &Limiter{sem: make(chan struct{}, n)}
}

func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) Release() {
	if l == nil {
		return
	}
	<-l.sem
}

// InFlight reports how many requests currently hold a slot.
func (l *Limiter) InFlight() int {
	if l == nil {
		return 0
	}
	return len(l.sem)
}

type limited struct {
	next    Completer
	limiter *Limiter
}

// Limit makes every Complete call on c acquire a slot from l first.
func Limit(c Completer, l *Limiter) Completer {
	if l == nil {
		return c
	}
	return &limited{next: c, limiter: l}
}

func (c *limited) Complete(ctx context.Context, model string, messages []core.Message) (string, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	defer c.limiter.Release()
	return c.next.Complete(ctx, model, messages)
}
