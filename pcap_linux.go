package pcap

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const (
	// room for SCM_TIMESTAMPNS; the kernel only ever sends one control message
	oobSize = 64
)

type Handle struct {
	config    Config
	index     int
	loopback  bool
	fd        int
	buf       []byte
	oob       []byte
	linkType  layers.LinkType
	poller    *poller
	close     sync.Once
	closed    atomic.Bool
	stats     Stats
	ifDropped uint64
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
	h := &Handle{
		config:   cfg,
		fd:       -1,
		buf:      make([]byte, cfg.Snaplen),
		oob:      make([]byte, oobSize),
		linkType: layers.LinkTypeEthernet,
	}
	defer func() {
		if err != nil && h.fd >= 0 {
			_ = unix.Close(h.fd)
		}
	}()
	var in *net.Interface
	if cfg.bound() {
		// get our interface before touching sockets so that a bad name is reported as such
		if in, err = net.InterfaceByName(cfg.Device); err != nil {
			return nil, errors.Wrapf(ErrNoSuchDevice, "%v", err)
		}
		h.index = in.Index
		h.loopback = in.Flags&net.FlagLoopback != 0
	}
	// set up the socket - remember to switch to network socket order for the protocol int
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, socketProtocol(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "failed opening raw socket")
	}
	h.fd = fd
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.BufferSize); err != nil {
		return nil, errors.Wrapf(err, "failed to set buffer size %d", cfg.BufferSize)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1); err != nil {
		return nil, errors.Wrap(err, "failed to enable timestamps")
	}
	if in != nil {
		// create the sockaddr_ll and bind to it
		sa := unix.SockaddrLinklayer{
			Protocol: htons(unix.ETH_P_ALL),
			Ifindex:  in.Index,
		}
		if err = unix.Bind(fd, &sa); err != nil {
			return nil, errors.Wrapf(err, "failed to bind to %s", cfg.Device)
		}
		if h.linkType, err = boundLinkType(fd); err != nil {
			return nil, err
		}
		if cfg.Promiscuous {
			mreq := unix.PacketMreq{
				Ifindex: int32(in.Index),
				Type:    unix.PACKET_MR_PROMISC,
			}
			if err = unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
				return nil, errors.Wrapf(err, "failed to set promiscuous for %s", cfg.Device)
			}
		}
		h.ifDropped = interfaceDrops(in.Index)
	}
	if cfg.Monitor && h.linkType != layers.LinkTypeIEEE80211Radio {
		return nil, errors.Wrapf(ErrUnsupported, "monitor mode needs an 802.11 monitor interface, %s is %s", deviceName(cfg.Device), h.linkType)
	}
	// reading one frame per syscall never batches, so immediate mode needs no setup
	if h.poller, err = newPoller(fd, cfg.Timeout); err != nil {
		return nil, err
	}
	return h, nil
}

// socketProtocol the protocol a new socket receives. A socket that is about
// to be bound starts with none, so that nothing from other interfaces is
// queued before the bind selects ETH_P_ALL on the chosen one.
func socketProtocol(cfg Config) int {
	if cfg.bound() {
		return 0
	}
	return int(htons(unix.ETH_P_ALL))
}

func boundLinkType(fd int) (layers.LinkType, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read socket name")
	}
	ll, ok := sa.(*unix.SockaddrLinklayer)
	if !ok {
		return layers.LinkTypeEthernet, nil
	}
	switch ll.Hatype {
	case unix.ARPHRD_IEEE80211_RADIOTAP:
		return layers.LinkTypeIEEE80211Radio, nil
	case unix.ARPHRD_IEEE80211:
		return layers.LinkTypeIEEE802_11, nil
	case unix.ARPHRD_NONE:
		return layers.LinkTypeRaw, nil
	default:
		// loopback on linux carries ethernet headers too
		return layers.LinkTypeEthernet, nil
	}
}

// interfaceDrops current rx_dropped of an interface, 0 when unknown
func interfaceDrops(index int) uint64 {
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		log.WithError(err).WithField("index", index).Debug("no link statistics")
		return 0
	}
	if st := link.Attrs().Statistics; st != nil {
		return st.RxDropped
	}
	return 0
}

// TryReadNext read the next packet without blocking. It returns ErrPending when
// nothing is available yet.
func (h *Handle) TryReadNext() (Packet, error) {
	if h.closed.Load() {
		return Packet{}, h.fatal("read", ErrClosed)
	}
	n, oobn, _, from, err := unix.Recvmsg(h.fd, h.buf, h.oob, unix.MSG_DONTWAIT|unix.MSG_TRUNC)
	if err != nil {
		if err == unix.ENOBUFS || err == unix.ENOMEM {
			err = &DriverError{Msg: err.Error()}
		}
		if IsTransient(err) {
			log.WithError(err).Trace("read pending")
			return Packet{}, ErrPending
		}
		return Packet{}, h.fatal("read", err)
	}
	if n <= 0 {
		return Packet{}, ErrPending
	}
	if ll, ok := from.(*unix.SockaddrLinklayer); ok {
		// the loopback device hands us every outgoing frame a second time
		if h.loopback && ll.Pkttype == unix.PACKET_OUTGOING {
			return Packet{}, ErrPending
		}
	}
	// buf holds snaplen bytes, MSG_TRUNC still reports the full frame length
	caplen := n
	if caplen > len(h.buf) {
		caplen = len(h.buf)
	}
	ci := gopacket.CaptureInfo{
		Timestamp:      h.timestamp(oobn),
		CaptureLength:  caplen,
		Length:         n,
		InterfaceIndex: h.index,
	}
	return Packet{B: h.buf[:caplen], Info: ci}, nil
}

func (h *Handle) timestamp(oobn int) time.Time {
	msgs, err := unix.ParseSocketControlMessage(h.oob[:oobn])
	if err != nil {
		return time.Now()
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_TIMESTAMPNS {
			continue
		}
		if len(m.Data) < int(unsafe.Sizeof(unix.Timespec{})) {
			break
		}
		ts := (*unix.Timespec)(unsafe.Pointer(&m.Data[0]))
		return time.Unix(ts.Unix())
	}
	return time.Now()
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

// Readable arms a readiness notification. The returned channel yields once
// the handle may have data, or once the configured timeout expired.
func (h *Handle) Readable() <-chan struct{} {
	return h.poller.request()
}

// Inject write a packet onto the bound interface
func (h *Handle) Inject(pkt Packet) error {
	if h.closed.Load() {
		return h.fatal("inject", ErrClosed)
	}
	if !h.config.bound() {
		return h.fatal("inject", ErrNotBound)
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

// Stats return the counters accumulated since the handle was opened. The
// kernel resets PACKET_STATISTICS on every read, so they are summed here.
func (h *Handle) Stats() (Stats, error) {
	if h.closed.Load() {
		return Stats{}, h.fatal("stats", ErrClosed)
	}
	st, err := unix.GetsockoptTpacketStats(h.fd, unix.SOL_PACKET, unix.PACKET_STATISTICS)
	if err != nil {
		return Stats{}, h.fatal("stats", err)
	}
	h.stats.Received += uint64(st.Packets)
	h.stats.Dropped += uint64(st.Drops)
	out := h.stats
	if h.index > 0 {
		if now := interfaceDrops(h.index); now >= h.ifDropped {
			out.IfDropped = now - h.ifDropped
		}
	}
	return out, nil
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
