//go:build linux || darwin

package pcap

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// poller waits for the capture fd to become readable on behalf of the owning
// goroutine. It only ever polls the fd; reading stays with the owner.
type poller struct {
	fd      int
	timeout int
	wake    [2]int
	arm     chan struct{}
	ready   chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
}

func newPoller(fd int, timeout time.Duration) (*poller, error) {
	p := &poller{
		fd:      fd,
		timeout: -1,
		arm:     make(chan struct{}, 1),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if timeout > 0 {
		p.timeout = int(timeout.Milliseconds())
		if p.timeout == 0 {
			p.timeout = 1
		}
	}
	if err := unix.Pipe(p.wake[:]); err != nil {
		return nil, errors.Wrap(err, "failed to create wake pipe")
	}
	// Make pipe non-blocking
	_ = unix.SetNonblock(p.wake[0], true)
	_ = unix.SetNonblock(p.wake[1], true)
	go p.run()
	return p, nil
}

// request arms a single notification; repeated requests before it fires coalesce.
// Once the poller is closed the returned channel is closed as well.
func (p *poller) request() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return p.ready
	}
	select {
	case p.arm <- struct{}{}:
	default:
	}
	return p.ready
}

func (p *poller) run() {
	defer close(p.done)
	pfd := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLIN},
		{Fd: int32(p.wake[0]), Events: unix.POLLIN},
	}
	for range p.arm {
		pfd[0].Revents, pfd[1].Revents = 0, 0
		n, err := unix.Poll(pfd, p.timeout)
		if pfd[1].Revents != 0 {
			return
		}
		if err != nil && err != unix.EINTR {
			// the read that follows reports the real condition
			log.WithError(err).Debug("poll failed")
		}
		if n == 0 && err == nil {
			log.Trace("poll timeout")
		}
		select {
		case p.ready <- struct{}{}:
		default:
		}
	}
}

// close wakes a pending poll, waits for the poller to exit and releases the pipe.
func (p *poller) close() {
	p.mu.Lock()
	p.stopped = true
	_, _ = unix.Write(p.wake[1], []byte{1})
	close(p.arm)
	p.mu.Unlock()
	<-p.done
	close(p.ready)
	_ = unix.Close(p.wake[0])
	_ = unix.Close(p.wake[1])
}
