package pipeline

import (
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"

	pcap "github.com/packetcap/go-pcapfwd"
)

var errGone = errors.New("device gone")

// step one scripted TryReadNext result; a nil err with size 0 is a 1-byte packet
type step struct {
	size int
	err  error
}

func ready(size int) step { return step{size: size} }

func pending() step { return step{err: pcap.ErrPending} }

func fatal() step {
	return step{err: &pcap.CaptureError{Op: "read", Device: "fake0", Err: errGone}}
}

type fakeSource struct {
	script []step
	// afterRead runs after the n-th read (1-based)
	afterRead func(n int)

	ready        chan struct{}
	reads        int
	statsCalls   int
	readsAtStats int
	statsErr     error
}

func newFakeSource(script ...step) *fakeSource {
	ch := make(chan struct{})
	close(ch)
	return &fakeSource{script: script, ready: ch}
}

func (f *fakeSource) Readable() <-chan struct{} {
	return f.ready
}

func (f *fakeSource) TryReadNext() (pcap.Packet, error) {
	f.reads++
	defer func() {
		if f.afterRead != nil {
			f.afterRead(f.reads)
		}
	}()
	if f.reads > len(f.script) {
		return pcap.Packet{}, pcap.ErrPending
	}
	s := f.script[f.reads-1]
	if s.err != nil {
		return pcap.Packet{}, s.err
	}
	size := s.size
	if size == 0 {
		size = 1
	}
	return pcap.Packet{
		B: make([]byte, size),
		Info: gopacket.CaptureInfo{
			Timestamp:     time.Unix(int64(f.reads), 0),
			CaptureLength: size,
			Length:        size,
		},
	}, nil
}

func (f *fakeSource) Stats() (pcap.Stats, error) {
	f.statsCalls++
	f.readsAtStats = f.reads
	if f.statsErr != nil {
		return pcap.Stats{}, f.statsErr
	}
	return pcap.Stats{Received: uint64(f.reads), Dropped: 1, IfDropped: 2}, nil
}

type fakeSink struct {
	packets []pcap.Packet
	failAt  int
}

func (s *fakeSink) WritePacket(pkt pcap.Packet) error {
	if s.failAt > 0 && len(s.packets)+1 == s.failAt {
		return errors.New("disk full")
	}
	b := make([]byte, len(pkt.B))
	copy(b, pkt.B)
	s.packets = append(s.packets, pcap.Packet{B: b, Info: pkt.Info})
	return nil
}

type fakeRecords struct {
	packets []pcap.Packet
	calls   int
	err     error
}

func newFakeRecords(n int, gap time.Duration) *fakeRecords {
	base := time.Unix(1000, 0)
	r := &fakeRecords{}
	for i := 0; i < n; i++ {
		r.packets = append(r.packets, pcap.Packet{
			B:    make([]byte, 10+i),
			Info: gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * gap), CaptureLength: 10 + i, Length: 10 + i},
		})
	}
	return r
}

func (r *fakeRecords) Next() (pcap.Packet, error) {
	r.calls++
	if r.calls > len(r.packets) {
		if r.err != nil {
			return pcap.Packet{}, r.err
		}
		return pcap.Packet{}, io.EOF
	}
	return r.packets[r.calls-1], nil
}

type fakeDevice struct {
	injected   []int
	failAt     int
	statsCalls int
	statsErr   error
}

func (d *fakeDevice) Inject(pkt pcap.Packet) error {
	if d.failAt > 0 && len(d.injected)+1 == d.failAt {
		return &pcap.CaptureError{Op: "inject", Device: "fake0", Err: errGone}
	}
	d.injected = append(d.injected, len(pkt.B))
	return nil
}

func (d *fakeDevice) Stats() (pcap.Stats, error) {
	d.statsCalls++
	return pcap.Stats{}, d.statsErr
}

type recorder struct {
	dirs []Direction
}

func (r *recorder) Observe(dir Direction, pkt pcap.Packet) error {
	r.dirs = append(r.dirs, dir)
	return nil
}
