package waveform

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcap "github.com/packetcap/go-pcapfwd"
	"github.com/packetcap/go-pcapfwd/pipeline"
)

const header = `$timescale 1 us $end
$scope module pcapfwd $end
$var real 1 ! bytes $end
$var wire 1 " packet $end
$var wire 2 # flags $end
$var string 1 $ event $end
$upscope $end
$enddefinitions $end
$dumpvars
`

func packet(ts time.Time, caplen, length int) pcap.Packet {
	return pcap.Packet{
		B:    make([]byte, caplen),
		Info: gopacket.CaptureInfo{Timestamp: ts, CaptureLength: caplen, Length: length},
	}
}

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	r, err := New(&buf)
	require.NoError(t, err)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Observe(pipeline.Captured, packet(t0, 60, 60)))
	require.NoError(t, r.Observe(pipeline.Injected, packet(t0.Add(10*time.Microsecond), 100, 2000)))
	// same microsecond as the previous packet
	require.NoError(t, r.Observe(pipeline.Captured, packet(t0.Add(10500*time.Nanosecond), 64, 64)))
	require.NoError(t, r.Close())
	assert.Equal(t, uint64(3), r.Count())

	want := header + `#0
1"
r60 !
b00 #
scapture $
#1
0"
#10
1"
r2000 !
b11 #
sinject $
1"
r64 !
b00 #
scapture $
#11
0"
$end
`
	assert.Equal(t, want, buf.String())
}

func TestRecorderClampsBackwardTime(t *testing.T) {
	var buf bytes.Buffer
	r, err := New(&buf)
	require.NoError(t, err)

	t0 := time.Unix(100, 0)
	require.NoError(t, r.Observe(pipeline.Captured, packet(t0, 10, 10)))
	require.NoError(t, r.Observe(pipeline.Captured, packet(t0.Add(time.Millisecond), 10, 10)))
	require.NoError(t, r.Observe(pipeline.Captured, packet(t0.Add(-time.Second), 10, 10)))
	require.NoError(t, r.Close())

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "#1000\n"))
	assert.NotContains(t, out, "#999")
	assert.True(t, strings.HasSuffix(out, "#1001\n0\"\n$end\n"))
}

func TestRecorderEmpty(t *testing.T) {
	var buf bytes.Buffer
	r, err := New(&buf)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, header+"$end\n", buf.String())
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.vcd")
	r, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, r.Observe(pipeline.Injected, packet(time.Unix(1, 0), 1, 1)))
	require.NoError(t, r.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), header))
	assert.Contains(t, string(b), "sinject $\n")

	_, err = Create(filepath.Join(t.TempDir(), "missing", "trace.vcd"))
	assert.Error(t, err)
}
