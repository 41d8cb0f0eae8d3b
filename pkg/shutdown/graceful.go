package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Stack closes registered resources in reverse order of registration.
type Stack struct {
	log     *slog.Logger
	mu      sync.Mutex
	closers []closer
}

func NewStack(log *slog.Logger) *Stack {
	return &Stack{log: log}
}

func (s *Stack) Push(name string, fn func(context.Context) error) {
	s.mu.Lock()
	s.closers = append(s.closers, closer{name: name, fn: fn})
	s.mu.Unlock()
}

// Close runs every closer once, even when earlier ones fail.
func (s *Stack) Close(ctx context.Context) error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			s.log.Error("shutdown step failed", "step", c.name, "err", err)
			errs = append(errs, err)
			continue
		}
		s.log.Info("shutdown step done", "step", c.name)
	}
	return errors.Join(errs...)
}
