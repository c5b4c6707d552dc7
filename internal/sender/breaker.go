package sender

import (
	"context"

	"eznotify/internal/model"
	"eznotify/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// breakerSender wraps a channel with a circuit breaker. When the channel
// keeps failing, sends are rejected immediately and jobs take the normal
// retry path instead of tying up the dispatch pool.
type breakerSender struct {
	next Sender
	cb   *circuitbreaker.CircuitBreaker
}

func WithBreaker(next Sender, name string, logger *zap.Logger) Sender {
	return &breakerSender{
		next: next,
		cb:   circuitbreaker.NewCircuitBreaker(name, circuitbreaker.DefaultConfig(), logger),
	}
}

func (b *breakerSender) Send(ctx context.Context, job model.Job) error {
	return b.cb.Execute(func() error {
		return b.next.Send(ctx, job)
	})
}
