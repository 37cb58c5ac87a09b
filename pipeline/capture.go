package pipeline

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	pcap "github.com/packetcap/go-pcapfwd"
)

// Capture copies packets from a live source into a sink until it is cancelled,
// Count packets were written, or a fatal error occurs.
type Capture struct {
	Source Source
	Sink   Sink
	Cancel Cancel
	// Verbose prints one "captured N bytes" line per packet to Out.
	Verbose bool
	// Out receives trace and statistics lines, os.Stdout when nil.
	Out io.Writer
	// Count stops after that many packets, 0 means no limit.
	Count     uint64
	Observers []Observer

	state     State
	written   uint64
	cancelled bool
}

// Run drive the capture loop, then report the final statistics. The loop
// error, if any, takes precedence over a failure to read the statistics.
func (c *Capture) Run() (pcap.Stats, error) {
	c.state, c.written, c.cancelled = Running, 0, false
	err := c.loop()
	log.WithFields(log.Fields{
		"packets":   c.written,
		"cancelled": c.cancelled,
	}).WithError(err).Debug("capture finished")
	stats, err := finish(c.Source, c.Out, err)
	c.state = Stopped
	return stats, err
}

func (c *Capture) loop() error {
	wait := true
	for {
		if wait {
			select {
			case <-c.Cancel:
				c.stop(true)
				return nil
			case <-c.Source.Readable():
			}
		}
		// a stop request that arrived together with data wins
		if c.Cancel.fired() {
			c.stop(true)
			return nil
		}
		pkt, err := c.Source.TryReadNext()
		if err != nil {
			if pcap.IsTransient(err) {
				wait = true
				continue
			}
			c.state = Stopped
			return err
		}
		// more may be queued, read again before waiting
		wait = false
		if err = c.Sink.WritePacket(pkt); err != nil {
			c.state = Stopped
			return errors.Wrap(err, "write packet")
		}
		if err = notify(c.Observers, Captured, pkt); err != nil {
			c.state = Stopped
			return err
		}
		if c.Verbose {
			fmt.Fprintf(output(c.Out), "captured %d bytes\n", len(pkt.B))
		}
		c.written++
		if c.Count > 0 && c.written >= c.Count {
			c.stop(false)
			return nil
		}
	}
}

// stop enters Stopping, the packet in flight, if any, is dropped
func (c *Capture) stop(cancelled bool) {
	c.state = Stopping
	c.cancelled = cancelled
}

// State Stopped once Run returned
func (c *Capture) State() State {
	return c.state
}

// Cancelled reports whether the last run ended on a stop request.
func (c *Capture) Cancelled() bool {
	return c.cancelled
}

// Written number of packets handed to the sink
func (c *Capture) Written() uint64 {
	return c.written
}

type statser interface {
	Stats() (pcap.Stats, error)
}

// finish takes the single statistics snapshot of a run and reports it.
func finish(src statser, out io.Writer, err error) (pcap.Stats, error) {
	stats, serr := src.Stats()
	if serr != nil {
		log.WithError(serr).Debug("no statistics")
		if err == nil {
			err = errors.Wrap(serr, "read statistics")
		}
		return stats, err
	}
	if rerr := Report(out, stats); rerr != nil && err == nil {
		err = rerr
	}
	return stats, err
}
