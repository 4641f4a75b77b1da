package flvmux

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRTPReader implements RTPReader for testing
type mockRTPReader struct {
	packets []*rtp.Packet
	index   int
	mu      sync.Mutex
}

func (r *mockRTPReader) ReadRTP() (*rtp.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index >= len(r.packets) {
		return nil, io.EOF
	}
	pkt := r.packets[r.index]
	r.index++
	return pkt, nil
}

const testPayloadType = 96

func newTestPacketizer(mtu uint16) rtp.Packetizer {
	return rtp.NewPacketizer(mtu, testPayloadType, 0x1234, &codecs.H264Payloader{}, rtp.NewRandomSequencer(), videoClockRate)
}

func runRTPSource(t *testing.T, packets []*rtp.Packet) (*RTPVideoSource, *recordingSink) {
	t.Helper()
	src, err := NewRTPVideoSource(RTPVideoSourceConfig{
		Reader:      &mockRTPReader{packets: packets},
		PayloadType: testPayloadType,
	})
	require.NoError(t, err)
	sink := &recordingSink{}
	require.NoError(t, src.Run(context.Background(), sink))
	return src, sink
}

func TestIsRTPTimestampOlder(t *testing.T) {
	tests := []struct {
		ts1, ts2 uint32
		want     bool
	}{
		{100, 100, true},
		{100, 200, true},
		{200, 100, false},
		{0xFFFFFF00, 0x00000100, true}, // wrapped
		{0x00000100, 0xFFFFFF00, false},
	}
	for _, tt := range tests {
		if got := IsRTPTimestampOlder(tt.ts1, tt.ts2); got != tt.want {
			t.Errorf("IsRTPTimestampOlder(%#x, %#x) = %v, want %v", tt.ts1, tt.ts2, got, tt.want)
		}
	}
}

func TestRTPVideoSource_AccessUnits(t *testing.T) {
	p := newTestPacketizer(1200)

	idr := append([]byte{0x65}, bytes.Repeat([]byte{0xAB}, 3000)...)
	slice := []byte{0x41, 0x9a, 0x02, 0x03}

	var packets []*rtp.Packet
	packets = append(packets, p.Packetize(annexB(testSPS, testPPS, idr), 0)...)
	packets = append(packets, p.Packetize(annexB(slice), 3000)...)
	packets = append(packets, p.Packetize(annexB(slice), 3000)...)
	require.Greater(t, len(packets), 4, "the IDR must be fragmented")

	src, sink := runRTPSource(t, packets)

	wantConfig, err := AVCConfig(testSPS, testPPS)
	require.NoError(t, err)
	require.Equal(t, [][]byte{wantConfig}, sink.videoFormats)

	require.Len(t, sink.video, 3)
	first := sink.video[0]
	assert.True(t, first.Keyframe)
	assert.Equal(t, time.Duration(0), first.PTS)
	assert.False(t, first.HasDTS)

	wantIDR := append([]byte{0, 0, 0x0b, 0xb9}, idr...)
	assert.Equal(t, wantIDR, first.Data, "parameter sets are carried out of band")

	assert.False(t, sink.video[1].Keyframe)
	assert.Equal(t, append([]byte{0, 0, 0, 4}, slice...), sink.video[1].Data)

	// the packetizer stamps each call with the previous total
	assert.Equal(t, time.Duration(0), sink.video[1].PTS-sink.video[0].PTS)
	assert.Equal(t, 3000*time.Second/videoClockRate, sink.video[2].PTS-sink.video[1].PTS)

	stats := src.Stats()
	assert.Equal(t, uint64(3), stats.FramesAssembled)
	assert.Equal(t, uint64(1), stats.FormatChanges)
	assert.Zero(t, stats.PacketsLost)
}

func TestRTPVideoSource_PacketLossDropsFrame(t *testing.T) {
	p := newTestPacketizer(1200)

	idr := append([]byte{0x65}, bytes.Repeat([]byte{0xCD}, 3000)...)
	slice := []byte{0x41, 0x9a}

	var packets []*rtp.Packet
	packets = append(packets, p.Packetize(annexB(testSPS, testPPS, []byte{0x65, 0x01}), 3000)...)
	broken := p.Packetize(annexB(idr), 3000)
	require.Greater(t, len(broken), 2)
	packets = append(packets, broken[0])
	packets = append(packets, broken[2:]...)
	packets = append(packets, p.Packetize(annexB(slice), 3000)...)

	src, sink := runRTPSource(t, packets)

	require.Len(t, sink.video, 2)
	assert.True(t, sink.video[0].Keyframe)
	assert.Equal(t, append([]byte{0, 0, 0, 2}, slice...), sink.video[1].Data)

	stats := src.Stats()
	assert.Equal(t, uint64(1), stats.PacketsLost)
	assert.Equal(t, uint64(1), stats.FramesDropped)
}

func TestRTPVideoSource_WaitsForParameterSets(t *testing.T) {
	p := newTestPacketizer(1200)

	var packets []*rtp.Packet
	packets = append(packets, p.Packetize(annexB([]byte{0x41, 0x01}), 3000)...)
	packets = append(packets, p.Packetize(annexB(testSPS, testPPS, []byte{0x65, 0x02}), 3000)...)

	src, sink := runRTPSource(t, packets)
	require.Len(t, sink.video, 1)
	assert.True(t, sink.video[0].Keyframe)
	assert.Equal(t, uint64(1), src.Stats().FramesDropped)
}

func TestRTPVideoSource_TimestampWrap(t *testing.T) {
	mk := func(seq uint16, ts uint32, payload []byte) *rtp.Packet {
		return &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: testPayloadType, SequenceNumber: seq, Timestamp: ts, Marker: true},
			Payload: payload,
		}
	}
	stap := []byte{24}
	for _, n := range [][]byte{testSPS, testPPS} {
		stap = append(stap, byte(len(n)>>8), byte(len(n)))
		stap = append(stap, n...)
	}

	base := uint32(0xFFFFF000)
	packets := []*rtp.Packet{
		{Header: rtp.Header{Version: 2, PayloadType: testPayloadType, SequenceNumber: 65534, Timestamp: base}, Payload: stap},
		mk(65535, base, []byte{0x65, 0x01}),
		mk(0, base+3000, []byte{0x41, 0x02}),
		mk(1, base+6000, []byte{0x41, 0x03}),
		// late duplicate of an old frame
		mk(2, base, []byte{0x41, 0x04}),
		// other payload types are ignored
		{Header: rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: 3, Timestamp: 1}, Payload: []byte{0xFF}},
	}

	src, sink := runRTPSource(t, packets)
	require.Len(t, sink.video, 3)

	step := 3000 * time.Second / videoClockRate
	assert.Equal(t, time.Duration(0), sink.video[0].PTS)
	assert.Equal(t, step, sink.video[1].PTS)
	assert.Equal(t, 2*step, sink.video[2].PTS)

	stats := src.Stats()
	assert.Zero(t, stats.PacketsLost)
	assert.Equal(t, uint64(1), stats.PacketsLate)
}

func TestRTPVideoSource_LongRunTimestamps(t *testing.T) {
	src, err := NewRTPVideoSource(RTPVideoSourceConfig{Reader: &mockRTPReader{}})
	require.NoError(t, err)

	// 20000 s per step; six steps pass 2^63 ns / 90000 ticks
	const step = 20000 * videoClockRate
	ts := uint32(0x7000_0000)
	prev := src.unwrapTimestamp(ts)
	require.Zero(t, prev)
	for i := 1; i <= 6; i++ {
		ts += step
		pts := src.unwrapTimestamp(ts)
		require.Greater(t, pts, prev, "step %d", i)
		assert.Equal(t, time.Duration(i)*20000*time.Second, pts)
		prev = pts
	}

	// sub-second remainder survives the split
	ts += videoClockRate / 2
	assert.Equal(t, 120000*time.Second+500*time.Millisecond, src.unwrapTimestamp(ts))
}

func TestPacketConnReader(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	sender, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	src, err := NewRTPVideoSource(RTPVideoSourceConfig{Reader: NewPacketConnReader(conn)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	p := newTestPacketizer(1200)
	for _, pkt := range p.Packetize(annexB(testSPS, testPPS, []byte{0x65, 0x01}), 3000) {
		raw, err := pkt.Marshal()
		require.NoError(t, err)
		_, err = sender.Write(raw)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.video) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop on cancel")
	}
}

func TestNewRTPVideoSource_RequiresReader(t *testing.T) {
	_, err := NewRTPVideoSource(RTPVideoSourceConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
