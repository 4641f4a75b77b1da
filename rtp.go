package flvmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

// H.264 RTP clock rate.
const videoClockRate = 90000

// Maximum UDP datagram read by PacketConnReader.
const maxRTPPacketSize = 1500

// RTPReader is an interface for reading RTP packets.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// TrackReader reads RTP packets from a remote WebRTC track.
type TrackReader struct {
	track *webrtc.TrackRemote
}

// NewTrackReader wraps a remote track. Only H.264 tracks can feed the muxer.
func NewTrackReader(track *webrtc.TrackRemote) (*TrackReader, error) {
	if mime := track.Codec().MimeType; mime != webrtc.MimeTypeH264 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, mime)
	}
	return &TrackReader{track: track}, nil
}

// ReadRTP reads the next packet from the track.
func (r *TrackReader) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.track.ReadRTP()
	return pkt, err
}

// PacketConnReader reads RTP packets from a datagram socket, e.g. the UDP
// output of `ffmpeg -f rtp`.
type PacketConnReader struct {
	conn net.PacketConn
	buf  []byte
}

// NewPacketConnReader reads from conn. Closing the reader closes conn.
func NewPacketConnReader(conn net.PacketConn) *PacketConnReader {
	return &PacketConnReader{conn: conn, buf: make([]byte, maxRTPPacketSize)}
}

// ReadRTP reads and parses one datagram.
func (r *PacketConnReader) ReadRTP() (*rtp.Packet, error) {
	n, _, err := r.conn.ReadFrom(r.buf)
	if err != nil {
		return nil, err
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(r.buf[:n]); err != nil {
		return nil, fmt.Errorf("parse RTP: %w", err)
	}
	return pkt, nil
}

// Close closes the socket.
func (r *PacketConnReader) Close() error { return r.conn.Close() }

// RTPVideoSourceConfig configures an RTP video source.
type RTPVideoSourceConfig struct {
	Reader      RTPReader
	PayloadType uint8 // 0 accepts any payload type
	Logger      Logger
}

// RTPVideoSourceStats provides source statistics.
type RTPVideoSourceStats struct {
	PacketsReceived uint64
	PacketsLost     uint64
	PacketsLate     uint64
	FramesAssembled uint64
	FramesDropped   uint64
	FormatChanges   uint64
}

// RTPVideoSource reassembles H.264 access units from RTP and feeds them to
// a Sink. In-band SPS/PPS are turned into video format changes.
type RTPVideoSource struct {
	reader      RTPReader
	payloadType uint8
	log         Logger

	depacketizer *codecs.H264Packet

	// access unit being assembled
	au        []byte
	auTS      uint32
	auStarted bool
	auBroken  bool

	// sequence tracking
	lastSeq    uint16
	seqStarted bool

	// timestamp unwrapping
	lastTS     uint32
	extendedTS int64
	tsStarted  bool

	sps, pps []byte
	config   []byte

	stats RTPVideoSourceStats
}

var _ Source = (*RTPVideoSource)(nil)

// NewRTPVideoSource creates an RTP H.264 source.
func NewRTPVideoSource(config RTPVideoSourceConfig) (*RTPVideoSource, error) {
	if config.Reader == nil {
		return nil, fmt.Errorf("%w: reader is required", ErrInvalidConfig)
	}
	return &RTPVideoSource{
		reader:       config.Reader,
		payloadType:  config.PayloadType,
		log:          loggerOrDiscard(config.Logger).WithField("component", "rtp-source"),
		depacketizer: &codecs.H264Packet{IsAVC: true},
	}, nil
}

// Run reads packets until the reader fails or ctx is cancelled. If the
// reader is an io.Closer it is closed on cancellation to unblock reads.
func (s *RTPVideoSource) Run(ctx context.Context, sink Sink) error {
	if c, ok := s.reader.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	for {
		pkt, err := s.reader.ReadRTP()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read RTP: %w", err)
		}
		if pkt == nil {
			continue
		}
		s.handlePacket(pkt, sink)
	}
}

// Stats returns source statistics. Not safe to call concurrently with Run.
func (s *RTPVideoSource) Stats() RTPVideoSourceStats {
	return s.stats
}

func (s *RTPVideoSource) handlePacket(pkt *rtp.Packet, sink Sink) {
	if s.payloadType != 0 && pkt.PayloadType != s.payloadType {
		return
	}
	s.stats.PacketsReceived++

	if s.seqStarted {
		expected := s.lastSeq + 1
		if pkt.SequenceNumber != expected {
			if int16(pkt.SequenceNumber-expected) < 0 {
				s.stats.PacketsLate++
				return
			}
			s.stats.PacketsLost += uint64(pkt.SequenceNumber - expected)
			// A hole inside an access unit corrupts it.
			s.auBroken = true
			s.depacketizer = &codecs.H264Packet{IsAVC: true}
		}
	}
	s.lastSeq = pkt.SequenceNumber
	s.seqStarted = true

	if s.auStarted && pkt.Timestamp != s.auTS {
		if IsRTPTimestampOlder(pkt.Timestamp, s.auTS) {
			s.stats.PacketsLate++
			return
		}
		// Timestamp moved on without a marker: flush what we have.
		s.finishAccessUnit(sink)
	}
	if !s.auStarted {
		if s.tsStarted && pkt.Timestamp != s.lastTS && IsRTPTimestampOlder(pkt.Timestamp, s.lastTS) {
			// belongs to a frame that was already delivered
			s.stats.PacketsLate++
			return
		}
		s.auStarted = true
		s.auTS = pkt.Timestamp
	}

	out, err := s.depacketizer.Unmarshal(pkt.Payload)
	if err != nil {
		s.auBroken = true
	} else if len(out) > 0 {
		s.au = append(s.au, out...)
	}

	if pkt.Marker {
		s.finishAccessUnit(sink)
	}
}

func (s *RTPVideoSource) finishAccessUnit(sink Sink) {
	defer func() {
		s.au = s.au[:0]
		s.auStarted = false
		s.auBroken = false
	}()

	if s.auBroken || len(s.au) == 0 {
		s.stats.FramesDropped++
		return
	}

	var avcc h264.AVCC
	if err := avcc.Unmarshal(s.au); err != nil {
		s.stats.FramesDropped++
		return
	}

	nalus := make([][]byte, 0, len(avcc))
	keyframe := false
	for _, nalu := range avcc {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			s.sps = append(s.sps[:0], nalu...)
			continue
		case h264.NALUTypePPS:
			s.pps = append(s.pps[:0], nalu...)
			continue
		case h264.NALUTypeAccessUnitDelimiter:
			continue
		case h264.NALUTypeIDR:
			keyframe = true
		}
		nalus = append(nalus, nalu)
	}

	s.updateFormat(sink)
	if s.config == nil {
		// Nothing is decodable before the first parameter sets.
		s.stats.FramesDropped++
		return
	}
	if len(nalus) == 0 {
		return
	}

	data, err := h264.AVCC(nalus).Marshal()
	if err != nil {
		s.stats.FramesDropped++
		return
	}

	s.stats.FramesAssembled++
	sink.OnVideoSample(&VideoSample{
		Data:     data,
		PTS:      s.unwrapTimestamp(s.auTS),
		Keyframe: keyframe,
	})
}

// updateFormat emits a format change when the parameter sets change.
func (s *RTPVideoSource) updateFormat(sink Sink) {
	if s.sps == nil || s.pps == nil {
		return
	}
	config, err := AVCConfig(s.sps, s.pps)
	if err != nil || bytes.Equal(config, s.config) {
		return
	}
	s.config = config
	s.stats.FormatChanges++
	if w, h, err := VideoDimensions(s.sps); err == nil {
		s.log.WithField("width", w).WithField("height", h).Info("video format")
	}
	sink.OnVideoFormat(config)
}

// unwrapTimestamp extends 32-bit RTP timestamps to a monotonic time
// relative to the first access unit.
func (s *RTPVideoSource) unwrapTimestamp(ts uint32) time.Duration {
	if !s.tsStarted {
		s.tsStarted = true
		s.lastTS = ts
		return 0
	}
	s.extendedTS += int64(int32(ts - s.lastTS))
	s.lastTS = ts
	// split to keep ticks*time.Second inside int64 on long runs
	secs := s.extendedTS / videoClockRate
	rem := s.extendedTS % videoClockRate
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/videoClockRate
}

// IsRTPTimestampOlder returns true if ts1 is older than or equal to ts2,
// handling 32-bit wraparound correctly per RTP timestamp comparison rules.
func IsRTPTimestampOlder(ts1, ts2 uint32) bool {
	if ts1 == ts2 {
		return true
	}
	// ts1 is older if (ts2 - ts1) < 2^31
	diff := ts2 - ts1
	return diff < 0x80000000
}
