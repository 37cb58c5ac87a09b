// Package interrupt bridges OS interrupt requests into a single-slot channel
// that a pipeline checks cooperatively.
package interrupt

import (
	"os"
	"os/signal"
	"syscall"
)

// Signal a one-shot, coalescing stop notification. The first delivery is
// kept until it is consumed; later deliveries before that are dropped.
type Signal struct {
	c chan os.Signal
}

// New create a Signal with nothing delivered yet.
func New() *Signal {
	return &Signal{c: make(chan os.Signal, 1)}
}

// Notify deliver a stop request without blocking. It reports whether the
// request was stored, false meaning one is already pending.
func (s *Signal) Notify() bool {
	select {
	case s.c <- os.Interrupt:
		return true
	default:
		return false
	}
}

// Listen deliver the given OS signals, SIGINT and SIGTERM by default. The
// runtime sends without blocking, so repeated signals coalesce exactly like
// Notify. The returned function stops the delivery.
func (s *Signal) Listen(sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	signal.Notify(s.c, sigs...)
	return func() { signal.Stop(s.c) }
}

// C the receiving end, owned by the pipeline
func (s *Signal) C() <-chan os.Signal {
	return s.c
}
