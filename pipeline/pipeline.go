// Package pipeline moves packets between a capture handle and a capture file.
//
// Capture races handle readiness against a cancellation channel and writes
// every packet it reads to a Sink. Replay walks a RecordSource and injects
// every record into a device. Both read the handle's counters exactly once,
// after their loop has stopped, and report them with Report.
package pipeline

import (
	"fmt"
	"io"
	"os"

	pcap "github.com/packetcap/go-pcapfwd"
)

// State of a pipeline run
type State int

const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Source a non-blocking packet source, usually a *pcap.Handle
type Source interface {
	// Readable yields once the source may have data.
	Readable() <-chan struct{}
	// TryReadNext returns pcap.ErrPending, or any other transient error, when
	// nothing can be read right now.
	TryReadNext() (pcap.Packet, error)
	Stats() (pcap.Stats, error)
}

// Sink receives every captured packet, synchronously
type Sink interface {
	WritePacket(pkt pcap.Packet) error
}

// Injector a device packets can be written onto
type Injector interface {
	Inject(pkt pcap.Packet) error
	Stats() (pcap.Stats, error)
}

// RecordSource sequential records ending with io.EOF
type RecordSource interface {
	Next() (pcap.Packet, error)
}

// Direction tells observers where a packet went
type Direction int

const (
	Captured Direction = iota
	Injected
)

func (d Direction) String() string {
	if d == Injected {
		return "inject"
	}
	return "capture"
}

// Observer is shown every packet after it was handed on. The packet must not
// be retained past the call. An error stops the run.
type Observer interface {
	Observe(dir Direction, pkt pcap.Packet) error
}

// Cancel the receiving end of a cancellation signal; nil never fires
type Cancel <-chan os.Signal

func (c Cancel) fired() bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func notify(observers []Observer, dir Direction, pkt pcap.Packet) error {
	for _, o := range observers {
		if err := o.Observe(dir, pkt); err != nil {
			return err
		}
	}
	return nil
}

func output(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

// Report write the three statistics lines
func Report(w io.Writer, stats pcap.Stats) error {
	_, err := fmt.Fprintf(output(w), "received %d\ndropped %d\nif_dropped %d\n", stats.Received, stats.Dropped, stats.IfDropped)
	return err
}
