package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcap "github.com/packetcap/go-pcapfwd"
	"github.com/packetcap/go-pcapfwd/interrupt"
)

// Scenario C
func TestReplayInjectsEveryRecord(t *testing.T) {
	records := newFakeRecords(10, time.Millisecond)
	dev := &fakeDevice{}
	rec := &recorder{}
	var out bytes.Buffer
	r := &Replay{Source: records, Device: dev, Out: &out, Observers: []Observer{rec}}

	_, err := r.Run()
	require.NoError(t, err)
	assert.Len(t, dev.injected, 10)
	assert.Equal(t, 11, records.calls, "one read past the last record, none after end of file")
	assert.Equal(t, 1, dev.statsCalls)
	assert.Len(t, rec.dirs, 10)
	assert.Equal(t, Injected, rec.dirs[0])
	assert.Equal(t, "received 0\ndropped 0\nif_dropped 0\n", out.String())
	assert.Equal(t, Stopped, r.State())
	assert.Equal(t, uint64(10), r.Sent())
}

func TestReplayEmpty(t *testing.T) {
	records := newFakeRecords(0, 0)
	dev := &fakeDevice{}
	_, err := (&Replay{Source: records, Device: dev, Out: &bytes.Buffer{}}).Run()
	require.NoError(t, err)
	assert.Empty(t, dev.injected)
	assert.Equal(t, 1, records.calls)
	assert.Equal(t, 1, dev.statsCalls)
}

func TestReplayVerbose(t *testing.T) {
	var out bytes.Buffer
	r := &Replay{Source: newFakeRecords(2, 0), Device: &fakeDevice{}, Out: &out, Verbose: true}
	_, err := r.Run()
	require.NoError(t, err)
	assert.Equal(t, "sending 10 bytes\nsending 11 bytes\nreceived 0\ndropped 0\nif_dropped 0\n", out.String())
}

func TestReplayInjectFailure(t *testing.T) {
	records := newFakeRecords(10, 0)
	dev := &fakeDevice{failAt: 4}
	var out bytes.Buffer
	_, err := (&Replay{Source: records, Device: dev, Out: &out}).Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, errGone)
	assert.Len(t, dev.injected, 3)
	assert.Equal(t, 4, records.calls, "no retry and no further reads")
	assert.Equal(t, 1, dev.statsCalls)
	assert.Contains(t, out.String(), "if_dropped 0")
}

func TestReplayReadFailure(t *testing.T) {
	records := newFakeRecords(3, 0)
	records.err = errors.New("truncated record")
	dev := &fakeDevice{}
	_, err := (&Replay{Source: records, Device: dev, Out: &bytes.Buffer{}}).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated record")
	assert.Len(t, dev.injected, 3)
	assert.Equal(t, 1, dev.statsCalls)
}

func TestReplayStatsError(t *testing.T) {
	dev := &fakeDevice{statsErr: pcap.ErrClosed}
	var out bytes.Buffer
	_, err := (&Replay{Source: newFakeRecords(1, 0), Device: dev, Out: &out}).Run()
	assert.ErrorIs(t, err, pcap.ErrClosed)
	assert.Empty(t, out.String())
}

func TestReplayPacing(t *testing.T) {
	tests := []struct {
		speed float64
		want  []time.Duration
	}{
		{0, nil},
		{1, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}},
		{2, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}},
		{0.5, []time.Duration{20 * time.Millisecond, 20 * time.Millisecond}},
	}
	for _, tt := range tests {
		var slept []time.Duration
		r := &Replay{
			Source: newFakeRecords(3, 10*time.Millisecond),
			Device: &fakeDevice{},
			Out:    &bytes.Buffer{},
			Speed:  tt.speed,
			Sleep:  func(d time.Duration) { slept = append(slept, d) },
		}
		_, err := r.Run()
		require.NoError(t, err)
		assert.Equal(t, tt.want, slept, "speed %v", tt.speed)
	}
}

func TestReplayPacingSkipsBackwardTime(t *testing.T) {
	records := newFakeRecords(3, 10*time.Millisecond)
	records.packets[1].Info.Timestamp = records.packets[0].Info.Timestamp.Add(-time.Second)
	var slept []time.Duration
	r := &Replay{Source: records, Device: &fakeDevice{}, Out: &bytes.Buffer{}, Speed: 1,
		Sleep: func(d time.Duration) { slept = append(slept, d) }}
	_, err := r.Run()
	require.NoError(t, err)
	assert.Len(t, slept, 1)
}

func TestReplayCancel(t *testing.T) {
	sig := interrupt.New()
	records := newFakeRecords(5, 0)
	dev := &fakeDevice{}
	r := &Replay{Source: records, Device: dev, Cancel: sig.C(), Out: &bytes.Buffer{},
		Observers: []Observer{observerFunc(func(Direction, pcap.Packet) error {
			sig.Notify()
			return nil
		})}}
	_, err := r.Run()
	require.NoError(t, err)
	assert.Len(t, dev.injected, 1)
	assert.Equal(t, 1, records.calls)
	assert.True(t, r.Cancelled())
	assert.Equal(t, 1, dev.statsCalls)
}

func TestReplayCancelDuringPacing(t *testing.T) {
	sig := interrupt.New()
	dev := &fakeDevice{}
	r := &Replay{Source: newFakeRecords(3, time.Hour), Device: dev, Cancel: sig.C(),
		Out: &bytes.Buffer{}, Speed: 1}
	go func() {
		time.Sleep(20 * time.Millisecond)
		sig.Notify()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := r.Run()
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("replay kept waiting out the recorded gap")
	}
	assert.Equal(t, []int{10}, dev.injected)
	assert.True(t, r.Cancelled())
	assert.Equal(t, Stopped, r.State())
	assert.Equal(t, 1, dev.statsCalls)
}

type observerFunc func(Direction, pcap.Packet) error

func (f observerFunc) Observe(dir Direction, pkt pcap.Packet) error { return f(dir, pkt) }
