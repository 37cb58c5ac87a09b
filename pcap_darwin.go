//go:build darwin

package pcap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	psnet "github.com/shirou/gopsutil/v3/net"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

const (
	enable = 1
	// BPF_ALIGNMENT on darwin is sizeof(int32_t)
	bpfAlignment = 4
)

type Handle struct {
	config Config
	close  sync.Once
	closed atomic.Bool
	index  int
	fd     int
	buf    []byte
	// unread records of the last batch are buf[off:end]
	off       int
	end       int
	endian    binary.ByteOrder
	linkType  layers.LinkType
	poller    *poller
	ifDropped uint64
}

type BpfProgram struct {
	Len    uint32
	Filter *bpf.RawInstruction
}

// Open open a non-blocking capture handle described by cfg.
func Open(cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()
	logger := log.WithFields(log.Fields{
		"iface":       cfg.Device,
		"snaplen":     cfg.Snaplen,
		"buffer":      cfg.BufferSize,
		"promiscuous": cfg.Promiscuous,
		"monitor":     cfg.Monitor,
		"immediate":   cfg.Immediate,
		"timeout":     cfg.Timeout,
	})
	logger.Debug("started")
	h, err := openLive(cfg)
	if err != nil {
		return nil, &OpenError{Device: cfg.Device, Err: err}
	}
	logger.WithField("linktype", h.linkType).Debug("opened")
	return h, nil
}

func openLive(cfg Config) (handle *Handle, err error) {
	if !cfg.bound() {
		return nil, errors.Wrap(ErrUnsupported, "bpf devices capture on a single interface")
	}
	in, err := net.InterfaceByName(cfg.Device)
	if err != nil {
		return nil, errors.Wrapf(ErrNoSuchDevice, "%v", err)
	}
	h := &Handle{
		config: cfg,
		index:  in.Index,
		fd:     -1,
	}
	// we need to know our endianness
	if h.endian, err = getEndianness(); err != nil {
		return nil, err
	}

	// open the bpf device
	for i := 0; i < 255; i++ {
		dev := fmt.Sprintf("/dev/bpf%d", i)
		fd, err := unix.Open(dev, unix.O_RDWR, 0000)
		if err == nil {
			h.fd = fd
			break
		}
		if err == unix.EBUSY {
			continue
		}
		return nil, errors.Wrapf(err, "error opening device %s", dev)
	}
	if h.fd < 0 {
		return nil, errors.New("failed to get valid bpf device")
	}
	defer func() {
		if err != nil {
			_ = unix.Close(h.fd)
		}
	}()

	// the buffer length must be set before the interface is attached
	if err = unix.IoctlSetPointerInt(h.fd, unix.BIOCSBLEN, cfg.BufferSize); err != nil {
		return nil, errors.Wrap(err, "failed to set the BPF buffer length")
	}
	if err = SetBpfInterface(h.fd, cfg.Device); err != nil {
		return nil, errors.Wrap(err, "failed to set the BPF interface")
	}
	if err = SetBpfHeadercmpl(h.fd, enable); err != nil {
		return nil, errors.Wrap(err, "failed to set the BPF header complete option")
	}
	if err = SetBpfSeesent(h.fd, enable); err != nil {
		return nil, errors.Wrap(err, "failed to set the BPF see-sent option")
	}
	if cfg.immediate() {
		if err = SetBpfImmediate(h.fd, enable); err != nil {
			return nil, errors.Wrap(err, "failed to set the BPF immediate return option")
		}
	}
	if cfg.Timeout > 0 {
		if err = SetBpfReadTimeout(h.fd, cfg.Timeout); err != nil {
			return nil, errors.Wrap(err, "failed to set the BPF read timeout")
		}
	}
	if cfg.Promiscuous {
		if err = ioctlPtr(h.fd, unix.BIOCPROMISC, nil); err != nil {
			return nil, errors.Wrapf(err, "failed to set promiscuous for %s", cfg.Device)
		}
	}
	if cfg.Monitor {
		if err = unix.IoctlSetPointerInt(h.fd, unix.BIOCSDLT, int(layers.LinkTypeIEEE80211Radio)); err != nil {
			return nil, errors.Wrapf(ErrUnsupported, "monitor mode on %s: %v", cfg.Device, err)
		}
	}
	if err = h.setSnaplen(cfg.Snaplen); err != nil {
		return nil, err
	}
	size, err := BpfBuflen(h.fd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read buffer length")
	}
	h.buf = make([]byte, size)

	linkType, err := getLinkType(h.fd)
	if err != nil {
		return nil, err
	}
	h.linkType = layers.LinkType(linkType)

	h.ifDropped = interfaceDrops(cfg.Device)

	if err = unix.SetNonblock(h.fd, true); err != nil {
		return nil, errors.Wrap(err, "failed to set non-blocking mode")
	}
	if h.poller, err = newPoller(h.fd, cfg.Timeout); err != nil {
		return nil, err
	}
	return h, nil
}

// TryReadNext read the next packet without blocking. It returns ErrPending when
// nothing is available yet.
func (h *Handle) TryReadNext() (Packet, error) {
	if h.closed.Load() {
		return Packet{}, h.fatal("read", ErrClosed)
	}
	if h.off >= h.end {
		read, err := unix.Read(h.fd, h.buf)
		if err != nil {
			if IsTransient(err) {
				return Packet{}, ErrPending
			}
			return Packet{}, h.fatal("read", err)
		}
		if read <= 0 {
			return Packet{}, &DriverError{Msg: "read no packets"}
		}
		h.off, h.end = 0, read
	}
	// separate the header and packet body
	if h.end-h.off < unix.SizeofBpfHdr {
		h.off = h.end
		return Packet{}, ErrPending
	}
	hdr := unix.BpfHdr{}
	buf := bytes.NewBuffer(h.buf[h.off : h.off+unix.SizeofBpfHdr])
	if err := binary.Read(buf, h.endian, &hdr); err != nil {
		h.off = h.end
		log.WithError(err).Debug("error reading bpf header")
		return Packet{}, ErrPending
	}
	start := h.off + int(hdr.Hdrlen)
	stop := start + int(hdr.Caplen)
	h.off += bpfWordAlign(int(hdr.Hdrlen) + int(hdr.Caplen))
	if stop > h.end {
		h.off = h.end
		log.WithField("caplen", hdr.Caplen).Debug("truncated bpf record")
		return Packet{}, ErrPending
	}
	ci := gopacket.CaptureInfo{
		Timestamp:      time.Unix(int64(hdr.Tstamp.Sec), int64(hdr.Tstamp.Usec)*1000),
		CaptureLength:  int(hdr.Caplen),
		Length:         int(hdr.Datalen),
		InterfaceIndex: h.index,
	}
	return Packet{B: h.buf[start:stop], Info: ci}, nil
}

// ReadPacketData implements gopacket.PacketDataSource. Unlike TryReadNext it
// waits for data and copies it out of the handle's buffer.
func (h *Handle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	for {
		pkt, err := h.TryReadNext()
		switch {
		case err == nil:
			data = make([]byte, len(pkt.B))
			copy(data, pkt.B)
			return data, pkt.Info, nil
		case h.closed.Load():
			return nil, ci, io.EOF
		case err != ErrPending:
			return nil, ci, err
		}
		<-h.Readable()
		if h.closed.Load() {
			return nil, ci, io.EOF
		}
	}
}

// Readable arms a readiness notification. Records left over from the last
// batch are readable right away.
func (h *Handle) Readable() <-chan struct{} {
	if h.off < h.end {
		c := make(chan struct{}, 1)
		c <- struct{}{}
		return c
	}
	return h.poller.request()
}

// Inject write a packet onto the interface
func (h *Handle) Inject(pkt Packet) error {
	if h.closed.Load() {
		return h.fatal("inject", ErrClosed)
	}
	n, err := unix.Write(h.fd, pkt.B)
	if err != nil {
		return h.fatal("inject", err)
	}
	if n != len(pkt.B) {
		return h.fatal("inject", errors.Errorf("short write %d of %d bytes", n, len(pkt.B)))
	}
	return nil
}

// WritePacketData gopacket-style alias of Inject
func (h *Handle) WritePacketData(data []byte) error {
	return h.Inject(Packet{B: data})
}

// Stats return the BPF device counters. Interface drops are taken from the
// system network counters, relative to when the handle was opened.
func (h *Handle) Stats() (Stats, error) {
	if h.closed.Load() {
		return Stats{}, h.fatal("stats", ErrClosed)
	}
	var st unix.BpfStat
	if err := ioctlPtr(h.fd, unix.BIOCGSTATS, unsafe.Pointer(&st)); err != nil {
		return Stats{}, h.fatal("stats", err)
	}
	out := Stats{Received: uint64(st.Recv), Dropped: uint64(st.Drop)}
	if now := interfaceDrops(h.config.Device); now >= h.ifDropped {
		out.IfDropped = now - h.ifDropped
	}
	return out, nil
}

// interfaceDrops inbound drops of an interface, 0 when unknown
func interfaceDrops(name string) uint64 {
	counters, err := psnet.IOCounters(true)
	if err != nil {
		log.WithError(err).WithField("iface", name).Debug("no interface counters")
		return 0
	}
	for _, c := range counters {
		if c.Name == name {
			return c.Dropin
		}
	}
	return 0
}

// Close close sockets and release resources
// Close is idempotent, and uses sync.Once to ensure it only runs once.
func (h *Handle) Close() {
	h.close.Do(func() {
		h.closed.Store(true)
		if h.poller != nil {
			h.poller.close()
		}
		_ = unix.Close(h.fd)
	})
}

// setSnaplen installs a classic BPF program that accepts every packet but
// keeps at most snaplen bytes of it.
func (h *Handle) setSnaplen(snaplen int32) error {
	raw, err := bpf.Assemble([]bpf.Instruction{
		bpf.RetConstant{Val: uint32(snaplen)},
	})
	if err != nil {
		return errors.Wrap(err, "failed to assemble snaplen program")
	}
	prog := BpfProgram{
		Len:    uint32(len(raw)),
		Filter: (*bpf.RawInstruction)(unsafe.Pointer(&raw[0])),
	}
	if err := ioctlPtr(h.fd, unix.BIOCSETF, unsafe.Pointer(&prog)); err != nil {
		return errors.Wrapf(err, "failed to set snaplen %d", snaplen)
	}
	return nil
}

// LinkType return the link type, compliant with pcap-linktype(7) and http://www.tcpdump.org/linktypes.html.
func (h *Handle) LinkType() layers.LinkType {
	return h.linkType
}

// Snaplen the maximum number of bytes kept per packet
func (h *Handle) Snaplen() int32 {
	return h.config.Snaplen
}

// Config the settings the handle was opened with
func (h *Handle) Config() Config {
	return h.config
}

func (h *Handle) fatal(op string, err error) error {
	return &CaptureError{Op: op, Device: h.config.Device, Err: err}
}

func bpfWordAlign(x int) int {
	return (x + bpfAlignment - 1) &^ (bpfAlignment - 1)
}

// because they deprecated all of the below from "syscall" and redirected to "golang.org/x/net/bpf" but did not
// create a replacement. Sigh.

type ivalue struct {
	name  [unix.IFNAMSIZ]byte
	value int16
}

func SetBpfInterface(fd int, name string) error {
	var iv ivalue
	copy(iv.name[:], []byte(name))
	return ioctlPtr(fd, unix.BIOCSETIF, unsafe.Pointer(&iv))
}

func SetBpfHeadercmpl(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCSHDRCMPLT, m)
}

func SetBpfImmediate(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCIMMEDIATE, m)
}

// SetBpfReadTimeout bounds how long a partially filled buffer is held back
func SetBpfReadTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return ioctlPtr(fd, unix.BIOCSRTIMEOUT, unsafe.Pointer(&tv))
}

func SetBpfSeesent(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCSSEESENT, m)
}

func BpfBuflen(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.BIOCGBLEN)
}

func ioctlPtr(fd, arg int, valPtr unsafe.Pointer) error {
	//nolint:staticcheck // unix.SYS_IOCTL is deprecated, but golang does not provide a better alternative
	// as of this writing for passing pointers
	_, _, errno := unix.RawSyscall(unix.SYS_IOCTL, uintptr(fd), uintptr(arg), uintptr(valPtr))
	if errno != 0 {
		return errno
	}
	return nil
}

func getLinkType(fd int) (uint32, error) {
	linkType, err := unix.IoctlGetInt(fd, unix.BIOCGDLT)
	if err != nil {
		return 0xffffffff, errors.Wrap(err, "failed to get link type")
	}
	return uint32(linkType), nil
}
