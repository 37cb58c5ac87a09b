// Package waveform records packet activity as a VCD trace that can be viewed
// next to other signals in a waveform viewer.
package waveform

import (
	"bufio"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	pcap "github.com/packetcap/go-pcapfwd"
	"github.com/packetcap/go-pcapfwd/pipeline"
	"github.com/packetcap/go-pcapfwd/vcd"
)

// frames longer than this do not fit a standard ethernet MTU
const maxFrame = 1514

// Recorder a pipeline.Observer writing one value change per packet on a 1 µs
// timescale, relative to the first packet seen.
type Recorder struct {
	c    io.Closer
	w    *bufio.Writer
	dump *vcd.DumpVars

	bytes  vcd.Variable
	packet vcd.Variable
	flags  vcd.Variable
	event  vcd.Variable

	start   time.Time
	now     uint64
	low     uint64
	pending bool
	count   uint64
}

// Create write a trace to a new file at path.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create waveform %s", path)
	}
	r, err := newRecorder(f, f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to write waveform header to %s", path)
	}
	log.WithField("file", path).Debug("recording waveform")
	return r, nil
}

// New write a trace to w. Closing the Recorder does not close w.
func New(w io.Writer) (*Recorder, error) {
	return newRecorder(w, nil)
}

func newRecorder(w io.Writer, c io.Closer) (*Recorder, error) {
	r := &Recorder{c: c, w: bufio.NewWriter(w)}
	h, err := vcd.NewHeader(r.w, vcd.Micro(1))
	if err != nil {
		return nil, err
	}
	if err = h.StartModule("pcapfwd"); err != nil {
		return nil, err
	}
	if r.bytes, err = h.AddAnalog("bytes"); err != nil {
		return nil, err
	}
	if r.packet, err = h.AddDigital("packet"); err != nil {
		return nil, err
	}
	if r.flags, err = h.AddVector("flags", 2); err != nil {
		return nil, err
	}
	if r.event, err = h.AddText("event"); err != nil {
		return nil, err
	}
	if err = h.EndModule(); err != nil {
		return nil, err
	}
	if r.dump, err = h.Finish(); err != nil {
		return nil, err
	}
	return r, nil
}

// Observe implements pipeline.Observer.
func (r *Recorder) Observe(dir pipeline.Direction, pkt pcap.Packet) error {
	t := r.tick(pkt.Info.Timestamp)
	// the previous pulse ends one tick after it started, unless this packet
	// arrives within that tick
	if r.pending && t > r.low {
		if err := r.set(r.low, r.packet, vcd.Scalar(vcd.V0)); err != nil {
			return err
		}
	}
	r.pending = false
	length := pkt.Info.Length
	if length < len(pkt.B) {
		length = len(pkt.B)
	}
	flags := vcd.Vector(
		vcd.BitOf(pkt.Info.CaptureLength > 0 && pkt.Info.CaptureLength < pkt.Info.Length),
		vcd.BitOf(length > maxFrame),
	)
	changes := []struct {
		v   vcd.Variable
		val vcd.Value
	}{
		{r.packet, vcd.Scalar(vcd.V1)},
		{r.bytes, vcd.Real(float64(length))},
		{r.flags, flags},
		{r.event, vcd.Text(dir.String())},
	}
	for _, c := range changes {
		if err := r.set(t, c.v, c.val); err != nil {
			return err
		}
	}
	r.low, r.pending = t+1, true
	r.count++
	return nil
}

func (r *Recorder) set(t uint64, v vcd.Variable, val vcd.Value) error {
	if err := r.dump.Timestamp(t); err != nil {
		return err
	}
	return errors.Wrap(r.dump.ChangeValue(v, val), "waveform")
}

// tick microseconds since the first packet, never less than the previous tick
func (r *Recorder) tick(ts time.Time) uint64 {
	if ts.IsZero() {
		ts = time.Now()
	}
	if r.start.IsZero() {
		r.start = ts
	}
	if d := ts.Sub(r.start); d > 0 {
		if t := uint64(d / time.Microsecond); t > r.now {
			r.now = t
		}
	}
	return r.now
}

// Count packets recorded so far
func (r *Recorder) Count() uint64 {
	return r.count
}

// Close end the last pulse, flush the trace and close the file if the
// Recorder opened it.
func (r *Recorder) Close() error {
	var err error
	if r.pending {
		err = r.set(r.low, r.packet, vcd.Scalar(vcd.V0))
		r.pending = false
	}
	if ferr := r.dump.Finish(); err == nil {
		err = ferr
	}
	if ferr := r.w.Flush(); err == nil {
		err = ferr
	}
	if r.c != nil {
		if cerr := r.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
