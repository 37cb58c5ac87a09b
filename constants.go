package pcap

import "time"

const (
	// DefaultBufferSize is the kernel receive buffer requested when Config.BufferSize is zero.
	DefaultBufferSize = 1000000
	// DefaultSnaplen is the capture length used when Config.Snaplen is zero.
	DefaultSnaplen int32 = 65535
	// AnyDevice captures on all interfaces through a single unbound socket.
	AnyDevice = "any"
	// BlockForever disables the poll timeout.
	BlockForever time.Duration = 0
)
