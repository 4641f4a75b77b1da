package flvmux

import "time"

// StreamKind identifies the elementary stream a sample belongs to.
type StreamKind int

const (
	StreamAudio StreamKind = iota
	StreamVideo
)

func (k StreamKind) String() string {
	switch k {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	default:
		return "unknown"
	}
}

// AudioSample holds one encoded AAC frame (raw, without ADTS header).
// The Data slice is owned by the caller and copied into the emitted tag.
type AudioSample struct {
	Data []byte        // Raw AAC access unit
	PTS  time.Duration // Presentation timestamp, non-decreasing per source
}

// Clone creates a deep copy of the audio sample.
func (s *AudioSample) Clone() *AudioSample {
	clone := &AudioSample{PTS: s.PTS}
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return clone
}

// VideoSample holds one encoded H.264 access unit in AVCC
// (4-byte length-prefixed) form.
type VideoSample struct {
	Data     []byte        // AVCC NAL units
	PTS      time.Duration // Presentation timestamp
	DTS      time.Duration // Decode timestamp, valid only when HasDTS is set
	HasDTS   bool          // False when the encoder did not report a DTS
	Keyframe bool          // IDR / sync sample
}

// DecodeTime returns the DTS, falling back to the PTS when absent.
func (s *VideoSample) DecodeTime() time.Duration {
	if !s.HasDTS {
		return s.PTS
	}
	return s.DTS
}

// CompositionTime returns PTS-DTS in milliseconds, 0 when no DTS is known.
func (s *VideoSample) CompositionTime() int32 {
	if !s.HasDTS {
		return 0
	}
	return int32(durationMillis(s.PTS - s.DTS))
}

// FrameType returns the FLV frame type for this sample.
func (s *VideoSample) FrameType() FrameType {
	if s.Keyframe {
		return FrameTypeKey
	}
	return FrameTypeInter
}

// Clone creates a deep copy of the video sample.
func (s *VideoSample) Clone() *VideoSample {
	clone := &VideoSample{
		PTS:      s.PTS,
		DTS:      s.DTS,
		HasDTS:   s.HasDTS,
		Keyframe: s.Keyframe,
	}
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return clone
}

// durationMillis converts d to fractional milliseconds.
func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
