package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	pcap "github.com/packetcap/go-pcapfwd"
)

// Replay injects every record of a RecordSource into a device, in order.
type Replay struct {
	Source RecordSource
	Device Injector
	// Cancel optionally stops the replay between records.
	Cancel  Cancel
	Verbose bool
	Out     io.Writer
	// Speed paces records by their recorded timestamps: 1 keeps the original
	// timing, 2 plays twice as fast, 0 sends as fast as possible.
	Speed float64
	// Sleep replaces the pacing wait. The default wait is cut short by Cancel.
	Sleep     func(time.Duration)
	Observers []Observer

	state     State
	sent      uint64
	cancelled bool
}

// Run replay until end of file, then report the final statistics.
func (r *Replay) Run() (pcap.Stats, error) {
	r.state, r.sent, r.cancelled = Running, 0, false
	err := r.loop()
	if r.state == Running {
		r.state = Stopping
	}
	log.WithFields(log.Fields{
		"packets":   r.sent,
		"cancelled": r.cancelled,
	}).WithError(err).Debug("replay finished")
	stats, err := finish(r.Device, r.Out, err)
	r.state = Stopped
	return stats, err
}

func (r *Replay) loop() error {
	var last time.Time
	for {
		if r.Cancel.fired() {
			r.cancelled = true
			return nil
		}
		pkt, err := r.Source.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read record")
		}
		if !r.pace(&last, pkt.Info.Timestamp) {
			r.cancelled = true
			return nil
		}
		if r.Verbose {
			fmt.Fprintf(output(r.Out), "sending %d bytes\n", len(pkt.B))
		}
		if err = r.Device.Inject(pkt); err != nil {
			return err
		}
		r.sent++
		if err = notify(r.Observers, Injected, pkt); err != nil {
			return err
		}
	}
}

// pace waits out the recorded gap to the previous record. It returns false
// when a stop request arrived during the wait.
func (r *Replay) pace(last *time.Time, ts time.Time) bool {
	if r.Speed <= 0 || ts.IsZero() {
		return true
	}
	if !last.IsZero() {
		if gap := ts.Sub(*last); gap > 0 && !r.wait(time.Duration(float64(gap)/r.Speed)) {
			return false
		}
	}
	*last = ts
	return true
}

func (r *Replay) wait(d time.Duration) bool {
	if r.Sleep != nil {
		r.Sleep(d)
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.Cancel:
		return false
	case <-timer.C:
		return true
	}
}

// State Stopped once Run returned
func (r *Replay) State() State {
	return r.state
}

// Cancelled reports whether the last run ended on a stop request.
func (r *Replay) Cancelled() bool {
	return r.cancelled
}

// Sent number of successful injections
func (r *Replay) Sent() uint64 {
	return r.sent
}
