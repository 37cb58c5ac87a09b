package savefile

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcap "github.com/packetcap/go-pcapfwd"
)

func testPackets() []pcap.Packet {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var pkts []pcap.Packet
	for i, size := range []int{60, 1, 200} {
		b := make([]byte, size)
		for j := range b {
			b[j] = byte(i + j)
		}
		pkts = append(pkts, pcap.Packet{
			B: b,
			Info: gopacket.CaptureInfo{
				Timestamp:     base.Add(time.Duration(i) * 1500 * time.Microsecond),
				CaptureLength: size,
				Length:        size,
			},
		})
	}
	return pkts
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		format string
	}{
		{FormatPcap},
		{FormatPcapNG},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out."+tt.format)
			w, err := Create(path, layers.LinkTypeEthernet, 65535, tt.format)
			require.NoError(t, err)
			pkts := testPackets()
			for _, pkt := range pkts {
				require.NoError(t, w.WritePacket(pkt))
			}
			require.Equal(t, uint64(len(pkts)), w.Count())
			require.NoError(t, w.Close())

			r, err := Open(path)
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, tt.format, r.Format())
			assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())
			for i, want := range pkts {
				got, err := r.Next()
				require.NoError(t, err, "record %d", i)
				assert.Equal(t, want.B, got.B)
				assert.Equal(t, want.Info.Length, got.Info.Length)
				assert.True(t, want.Info.Timestamp.Equal(got.Info.Timestamp), "record %d: %v != %v", i, want.Info.Timestamp, got.Info.Timestamp)
			}
			_, err = r.Next()
			require.Equal(t, io.EOF, err)
		})
	}
}

func TestWriteTruncatesToSnaplen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.pcap")
	w, err := Create(path, layers.LinkTypeEthernet, 16, "")
	require.NoError(t, err)
	data := make([]byte, 100)
	// a capture length that disagrees with the data is fixed up
	require.NoError(t, w.WritePacket(pcap.Packet{B: data, Info: gopacket.CaptureInfo{Timestamp: time.Unix(1, 0), CaptureLength: 5}}))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Next()
	require.NoError(t, err)
	assert.Len(t, got.B, 16)
	assert.Equal(t, 16, got.Info.CaptureLength)
	assert.Equal(t, 16, got.Info.Length)
}

func TestEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pcap")
	w, err := Create(path, layers.LinkTypeRaw, 1500, FormatPcap)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, layers.LinkTypeRaw, r.LinkType())
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := Create(filepath.Join(dir, "x"), layers.LinkTypeEthernet, 0, "erf")
	assert.ErrorIs(t, err, ErrFormat)

	_, err = Open(filepath.Join(dir, "missing.pcap"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage.pcap")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a capture file"), 0o644))
	_, err = Open(garbage)
	assert.Error(t, err)

	tiny := filepath.Join(dir, "tiny.pcap")
	require.NoError(t, os.WriteFile(tiny, []byte{1}, 0o644))
	_, err = Open(tiny)
	assert.Error(t, err)
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("pcap"))
	assert.True(t, ValidFormat("pcapng"))
	assert.False(t, ValidFormat(""))
	assert.False(t, ValidFormat("PCAP"))
}
