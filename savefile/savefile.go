// Package savefile reads and writes capture files in the classic pcap and the
// pcapng formats.
package savefile

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	pcap "github.com/packetcap/go-pcapfwd"
)

const (
	FormatPcap   = "pcap"
	FormatPcapNG = "pcapng"

	// first word of a pcapng section header block, identical in both byte orders
	ngMagic = 0x0A0D0D0A
)

// ErrFormat unknown capture file format name
var ErrFormat = errors.New("savefile: unknown format")

// ValidFormat reports whether name is one of the supported format names.
func ValidFormat(name string) bool {
	return name == FormatPcap || name == FormatPcapNG
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader replays the records of a capture file in order.
type Reader struct {
	path   string
	format string
	f      *os.File
	r      packetReader
}

// Open open a capture file, detecting its format from the magic number.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to read file header of %s", path)
	}
	rd := &Reader{path: path, f: f}
	if binary.LittleEndian.Uint32(magic) == ngMagic {
		rd.format = FormatPcapNG
		rd.r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		rd.format = FormatPcap
		rd.r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "%s is not a capture file", path)
	}
	log.WithFields(log.Fields{
		"file":     path,
		"format":   rd.format,
		"linktype": rd.r.LinkType(),
	}).Debug("opened capture file")
	return rd, nil
}

// Next return the next record. io.EOF marks the end of the file.
func (r *Reader) Next() (pcap.Packet, error) {
	data, ci, err := r.r.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return pcap.Packet{}, io.EOF
		}
		return pcap.Packet{}, errors.Wrapf(err, "failed to read packet from %s", r.path)
	}
	return pcap.Packet{B: data, Info: ci}, nil
}

func (r *Reader) LinkType() layers.LinkType {
	return r.r.LinkType()
}

// Format the detected file format, FormatPcap or FormatPcapNG
func (r *Reader) Format() string {
	return r.format
}

func (r *Reader) Close() error {
	return r.f.Close()
}

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// Writer appends records to a new capture file.
type Writer struct {
	path    string
	snaplen uint32
	f       *os.File
	buf     *bufio.Writer
	ng      *pcapgo.NgWriter
	w       packetWriter
	count   uint64
}

// Create create (or truncate) path and write the file header for the given
// format. An empty format means FormatPcap.
func Create(path string, linkType layers.LinkType, snaplen uint32, format string) (*Writer, error) {
	if format == "" {
		format = FormatPcap
	}
	if !ValidFormat(format) {
		return nil, errors.Wrapf(ErrFormat, "%q", format)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", path)
	}
	w := &Writer{path: path, snaplen: snaplen, f: f}
	switch format {
	case FormatPcapNG:
		intf := pcapgo.DefaultNgInterface
		intf.LinkType = linkType
		intf.SnapLength = snaplen
		w.ng, err = pcapgo.NewNgWriterInterface(f, intf, pcapgo.DefaultNgWriterOptions)
		w.w = w.ng
	default:
		w.buf = bufio.NewWriter(f)
		pw := pcapgo.NewWriter(w.buf)
		err = pw.WriteFileHeader(snaplen, linkType)
		w.w = pw
	}
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to write header of %s", path)
	}
	log.WithFields(log.Fields{
		"file":     path,
		"format":   format,
		"linktype": linkType,
		"snaplen":  snaplen,
	}).Debug("created capture file")
	return w, nil
}

// WritePacket append one record. Data beyond the snap length is cut off and
// the original length is never reported smaller than what is stored.
func (w *Writer) WritePacket(pkt pcap.Packet) error {
	data := pkt.B
	if w.snaplen > 0 && uint32(len(data)) > w.snaplen {
		data = data[:w.snaplen]
	}
	ci := pkt.Info
	ci.CaptureLength = len(data)
	if ci.Length < len(data) {
		ci.Length = len(data)
	}
	// a single interface is described in pcapng files
	ci.InterfaceIndex = 0
	if err := w.w.WritePacket(ci, data); err != nil {
		return errors.Wrapf(err, "failed to write packet to %s", w.path)
	}
	w.count++
	return nil
}

// Count number of records written so far
func (w *Writer) Count() uint64 {
	return w.count
}

// Close flush buffered records and close the file.
func (w *Writer) Close() error {
	var err error
	switch {
	case w.ng != nil:
		err = w.ng.Flush()
	case w.buf != nil:
		err = w.buf.Flush()
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "failed to close %s", w.path)
	}
	return nil
}
