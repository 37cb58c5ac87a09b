package config

import (
	"github.com/spf13/pflag"

	pcap "github.com/packetcap/go-pcapfwd"
	"github.com/packetcap/go-pcapfwd/savefile"
)

// AddFlags register every flag Load knows how to bind.
func AddFlags(fs *pflag.FlagSet) {
	fs.StringP("input", "i", "", "capture file to replay onto the device")
	fs.StringP("output", "o", "", "capture file to write packets from the device to")
	fs.StringP("device", "d", "", "interface to capture on or inject into, lists interfaces when empty")
	fs.IntP("buffer-size", "b", pcap.DefaultBufferSize, "kernel buffer size in bytes")
	fs.IntP("timeout", "t", 0, "read timeout in milliseconds, 0 waits forever")
	fs.IntP("snaplen", "s", int(pcap.DefaultSnaplen), "bytes kept of each packet")
	fs.BoolP("promisc", "p", false, "put the interface into promiscuous mode")
	fs.BoolP("rfmon", "r", false, "capture in 802.11 monitor mode")
	fs.Bool("immediate", false, "deliver packets as soon as they arrive")
	fs.BoolP("verbose", "v", false, "print one line per packet")
	fs.String("format", savefile.FormatPcap, "output file format, pcap or pcapng")
	fs.Uint64("count", 0, "stop capturing after this many packets, 0 for no limit")
	fs.Float64("speed", 0, "replay pacing relative to the recorded timing, 0 sends as fast as possible")
	fs.String("waveform", "", "also record packet activity as a VCD waveform to this file")
	fs.String("log-level", "warn", "log level: trace, debug, info, warn or error")
	fs.String("log-format", "text", "log format: text or json")
	fs.String("log-file", "", "also write logs to this file, rotated")
	fs.Int("log-max-size", 100, "rotate the log file after this many megabytes")
	fs.Int("log-max-backups", 3, "rotated log files to keep")
	fs.Int("log-max-age", 28, "days to keep rotated log files")
	fs.Bool("log-compress", false, "gzip rotated log files")
}
