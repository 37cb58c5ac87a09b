//go:build !linux && !darwin

package pcap

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Handle placeholder on platforms without a capture driver; it can never be opened.
type Handle struct {
	config Config
}

// Open always fails on this platform.
func Open(cfg Config) (*Handle, error) {
	return nil, &OpenError{Device: cfg.Device, Err: ErrUnsupported}
}

func (h *Handle) TryReadNext() (Packet, error) { return Packet{}, ErrUnsupported }

func (h *Handle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, ErrUnsupported
}

func (h *Handle) Readable() <-chan struct{} {
	c := make(chan struct{}, 1)
	c <- struct{}{}
	return c
}

func (h *Handle) Inject(Packet) error { return ErrUnsupported }
func (h *Handle) WritePacketData([]byte) error { return ErrUnsupported }
func (h *Handle) Stats() (Stats, error) { return Stats{}, ErrUnsupported }
func (h *Handle) Close() {}
func (h *Handle) LinkType() layers.LinkType { return layers.LinkTypeEthernet }
func (h *Handle) Snaplen() int32 { return h.config.Snaplen }
func (h *Handle) Config() Config { return h.config }
