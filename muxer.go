package flvmux

import (
	"fmt"
	"sync"
)

// =============================================================================
// Audio/Video Muxing and Sync
// =============================================================================

// Sink receives encoder output. Audio and video callbacks may run on
// different goroutines, but each path must be called serially.
type Sink interface {
	// OnAudioFormat delivers a new AudioSpecificConfig. Empty config is ignored.
	OnAudioFormat(config []byte)

	// OnAudioSample delivers one encoded AAC frame.
	OnAudioSample(sample *AudioSample)

	// OnVideoFormat delivers a new AVCDecoderConfigurationRecord. Empty config is ignored.
	OnVideoFormat(config []byte)

	// OnVideoSample delivers one encoded H.264 access unit.
	OnVideoSample(sample *VideoSample)
}

// MuxerConfig configures a Muxer.
type MuxerConfig struct {
	// Writer receives emitted tags. The muxer does not own it; it may be
	// nil and set later with SetWriter.
	Writer TagWriter

	// Sync tunes the audio sync buffer. The zero value buffers with the
	// default MaxBuffering.
	Sync SyncConfig

	// AudioHeader is the first byte of every audio tag. The zero value
	// selects DefaultAudioHeader (AAC, 44 kHz, 16 bit, stereo), so the
	// all-zero byte (PCM, 5.5 kHz, 8 bit, mono) cannot be configured;
	// FLV only carries AAC here anyway.
	AudioHeader AudioHeader

	Logger  Logger
	OnError func(error) // Writer error callback
}

// MuxerStats provides muxer statistics.
type MuxerStats struct {
	AudioTags    uint64
	VideoTags    uint64
	ScriptTags   uint64
	BytesWritten uint64
	AudioDropped uint64
	VideoDropped uint64
	WriteErrors  uint64
	Sync         SyncStats
}

// Muxer turns encoder callbacks into FLV tags with per-stream deltas. Video
// tags are emitted as they arrive; audio passes through the sync buffer.
type Muxer struct {
	audioHeader AudioHeader
	audioClock  streamClock
	videoClock  streamClock
	sync        *audioSyncBuffer

	log     Logger
	onError func(error)

	stats   MuxerStats
	statsMu sync.Mutex

	// writeMu serializes writer calls so tags leave in emission order.
	writer  TagWriter
	writeMu sync.Mutex
}

var _ Sink = (*Muxer)(nil)

// NewMuxer creates a muxer.
func NewMuxer(config MuxerConfig) (*Muxer, error) {
	if config.Sync.MaxBuffering < 0 {
		return nil, fmt.Errorf("%w: negative MaxBuffering", ErrInvalidConfig)
	}

	// Defaults
	if config.AudioHeader == (AudioHeader{}) {
		config.AudioHeader = DefaultAudioHeader
	}

	return &Muxer{
		audioHeader: config.AudioHeader,
		sync:        newAudioSyncBuffer(config.Sync),
		log:         loggerOrDiscard(config.Logger).WithField("component", "muxer"),
		onError:     config.OnError,
		writer:      config.Writer,
	}, nil
}

// SetWriter replaces the output writer. nil discards output.
func (m *Muxer) SetWriter(w TagWriter) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.writer = w
}

// OnAudioFormat emits an AAC sequence header. The audio clock is untouched.
func (m *Muxer) OnAudioFormat(config []byte) {
	if len(config) == 0 {
		return
	}
	m.emit(AudioSequenceHeaderTag(m.audioHeader, config), 0)
}

// OnAudioSample encodes an AAC frame and routes it through the sync buffer.
func (m *Muxer) OnAudioSample(sample *AudioSample) {
	if sample == nil || len(sample.Data) == 0 {
		m.drop(StreamAudio, "empty payload")
		return
	}
	delta := m.audioClock.delta(sample.PTS)
	if delta < 0 {
		m.drop(StreamAudio, "timestamp went backwards")
		return
	}

	tag := AudioDataTag(m.audioHeader, sample.Data)
	e := m.sync.push(tag, delta, sample.PTS, &m.audioClock, &m.videoClock)
	if e.synced {
		m.log.WithField("decision", e.decision).Info("audio/video start-up sync complete")
	}
	m.emit(e.tag, e.delta)
}

// OnVideoFormat emits an AVC sequence header.
func (m *Muxer) OnVideoFormat(config []byte) {
	if len(config) == 0 {
		return
	}
	m.emit(VideoSequenceHeaderTag(config), 0)
}

// OnVideoSample encodes an access unit and emits it immediately. The video
// clock follows the decode timestamp.
func (m *Muxer) OnVideoSample(sample *VideoSample) {
	if sample == nil || len(sample.Data) == 0 {
		m.drop(StreamVideo, "empty payload")
		return
	}
	dts := sample.DecodeTime()
	delta := m.videoClock.delta(dts)
	if delta < 0 {
		m.drop(StreamVideo, "timestamp went backwards")
		return
	}

	m.emit(VideoDataTag(sample.Data, sample.Keyframe, sample.CompositionTime()), delta)
	m.videoClock.advance(dts)
}

// OnMetadata emits an onMetaData script tag.
func (m *Muxer) OnMetadata(md Metadata) error {
	tag, err := MetadataTag(md)
	if err != nil {
		return err
	}
	m.emit(tag, 0)
	return nil
}

// IsFirstBuffering reports whether audio is still in the initial
// start-up correction phase.
func (m *Muxer) IsFirstBuffering() bool {
	return m.sync.isFirstBuffering()
}

// Stats returns muxer statistics.
func (m *Muxer) Stats() MuxerStats {
	m.statsMu.Lock()
	stats := m.stats
	m.statsMu.Unlock()
	stats.Sync = m.sync.stats()
	return stats
}

// Dispose clears both stream clocks and the sync state. Producers must be
// stopped first. Calling it again has no effect.
func (m *Muxer) Dispose() {
	m.audioClock.reset()
	m.videoClock.reset()
	m.sync.reset()
}

func (m *Muxer) emit(tag *Tag, delta float64) {
	m.writeMu.Lock()
	w := m.writer
	var err error
	if w != nil {
		err = w.WriteTag(tag, delta)
	}
	m.writeMu.Unlock()

	m.statsMu.Lock()
	switch tag.Type {
	case TagTypeAudio:
		m.stats.AudioTags++
	case TagTypeVideo:
		m.stats.VideoTags++
	case TagTypeScript:
		m.stats.ScriptTags++
	}
	if err != nil {
		m.stats.WriteErrors++
	} else {
		m.stats.BytesWritten += uint64(tag.Len())
	}
	m.statsMu.Unlock()

	if err != nil {
		m.log.WithError(err).WithField("type", tag.Type).Warn("write tag failed")
		if m.onError != nil {
			m.onError(err)
		}
	}
}

func (m *Muxer) drop(kind StreamKind, reason string) {
	m.statsMu.Lock()
	if kind == StreamAudio {
		m.stats.AudioDropped++
	} else {
		m.stats.VideoDropped++
	}
	m.statsMu.Unlock()

	m.log.WithField("stream", kind).Debug("dropped sample: " + reason)
}
