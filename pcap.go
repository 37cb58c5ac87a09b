package pcap

import (
	"encoding/binary"
	"time"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/pkg/errors"
)

// Packet a single packet returned by a read call. B points into the handle's
// read buffer and is only valid until the next read on the same handle.
type Packet struct {
	B    []byte
	Info gopacket.CaptureInfo
}

// Config settings fixed when a handle is opened
type Config struct {
	// Device interface name; empty or AnyDevice captures on all interfaces
	Device string
	// BufferSize kernel buffer size in bytes
	BufferSize int
	// Timeout bounds every readiness poll; 0 means no timeout
	Timeout     time.Duration
	Snaplen     int32
	Promiscuous bool
	// Monitor requests 802.11 monitor (rfmon) mode
	Monitor bool
	// Immediate delivers packets as soon as they arrive instead of batching
	Immediate bool
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Snaplen <= 0 {
		c.Snaplen = DefaultSnaplen
	}
	if c.Timeout < 0 {
		c.Timeout = BlockForever
	}
	return c
}

// immediate reports whether packets are delivered as they arrive. A handle
// without a poll timeout has nothing else that flushes a batching driver.
func (c Config) immediate() bool {
	return c.Immediate || c.Timeout == BlockForever
}

func (c Config) bound() bool {
	return c.Device != "" && c.Device != AnyDevice
}

// Stats counters maintained by the capture driver
type Stats struct {
	Received  uint64
	Dropped   uint64
	IfDropped uint64
}

// Device a capture-capable interface
type Device struct {
	Name        string
	Description string
}

// OpenLive open a live capture. Returns a Handle that implements https://godoc.org/github.com/google/gopacket#PacketDataSource
// so you can pass it there.
func OpenLive(device string, snaplen int32, promiscuous bool, timeout time.Duration) (handle *Handle, _ error) {
	return Open(Config{
		Device:      device,
		Snaplen:     snaplen,
		Promiscuous: promiscuous,
		Timeout:     timeout,
	})
}

// getEndianness discover the endianness of our current system
func getEndianness() (binary.ByteOrder, error) {
	buf := [2]byte{}
	*(*uint16)(unsafe.Pointer(&buf[0])) = uint16(0xABCD)

	switch buf {
	case [2]byte{0xCD, 0xAB}:
		return binary.LittleEndian, nil
	case [2]byte{0xAB, 0xCD}:
		return binary.BigEndian, nil
	default:
		return nil, errors.New("could not determine native endianness")
	}
}

func htons(in uint16) uint16 {
	return (in<<8)&0xff00 | in>>8
}
