package flvmux

import (
	"sync"
	"time"
)

// =============================================================================
// Audio start-up sync
// =============================================================================

// SyncConfig controls the audio sync buffer.
type SyncConfig struct {
	// Disabled turns start-up audio buffering off: every audio sample is
	// emitted as it arrives. The zero value buffers.
	Disabled bool

	// MaxBuffering bounds the audio kept pending for skew correction.
	// Once the accumulated buffering time exceeds it, the oldest pending
	// entry is evicted before a new one is queued. Zero selects 1s.
	MaxBuffering time.Duration
}

// DefaultSyncConfig returns the tuning used for live publishing.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxBuffering: time.Second,
	}
}

// SyncDecision names the branch the sync buffer took for one audio sample.
type SyncDecision int

const (
	SyncBypass SyncDecision = iota // emitted as it arrived
	SyncBuffer                     // emitted and recorded in the pending queue
	SyncDrain                      // oldest pending entry emitted, new one queued
)

func (d SyncDecision) String() string {
	switch d {
	case SyncBypass:
		return "bypass"
	case SyncBuffer:
		return "buffer"
	case SyncDrain:
		return "drain"
	default:
		return "unknown"
	}
}

// SyncStats is a snapshot of the sync buffer.
type SyncStats struct {
	Pending        int           // entries in the pending queue
	BufferingTime  time.Duration // accumulated buffering time
	Skew           time.Duration // audio PTS minus video clock at the last sample
	FirstBuffering bool          // initial correction phase still in progress
	Bypassed       uint64
	Buffered       uint64
	Drained        uint64
	Evicted        uint64
}

type pendingAudio struct {
	tag   *Tag
	delta float64 // ms
}

// audioEmission is the tag the sync buffer decided to emit for a sample.
type audioEmission struct {
	tag      *Tag
	delta    float64 // ms
	decision SyncDecision
	synced   bool // this sample ended the initial correction phase
}

// audioSyncBuffer delays audio at stream start so that it lines up with a
// video stream whose encoder started later. All state is guarded by mu so
// one sample is decided atomically.
type audioSyncBuffer struct {
	config SyncConfig

	skew           float64 // seconds
	bufferingTime  float64 // seconds
	pending        []pendingAudio
	firstBuffering bool

	bypassed uint64
	buffered uint64
	drained  uint64
	evicted  uint64

	mu sync.Mutex
}

func newAudioSyncBuffer(config SyncConfig) *audioSyncBuffer {
	if config.MaxBuffering <= 0 {
		config.MaxBuffering = DefaultSyncConfig().MaxBuffering
	}
	return &audioSyncBuffer{
		config:         config,
		firstBuffering: true,
	}
}

// push decides what to emit for an audio tag with the given delta (ms) and
// presentation time, advancing the audio clock for the emission.
func (b *audioSyncBuffer) push(tag *Tag, delta float64, pts time.Duration, audio, video *streamClock) audioEmission {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasFirst := b.firstBuffering
	e := b.decide(tag, delta, pts, audio, video)
	e.synced = wasFirst && !b.firstBuffering
	return e
}

func (b *audioSyncBuffer) decide(tag *Tag, delta float64, pts time.Duration, audio, video *streamClock) audioEmission {
	videoTS, hasVideo := video.last()
	if hasVideo {
		b.skew = (pts - videoTS).Seconds()
	} else {
		b.skew = 0
	}
	deltaSec := delta / 1000

	switch {
	case b.config.Disabled || !hasVideo || (deltaSec > b.skew && len(b.pending) == 0):
		return b.bypass(tag, delta, pts, audio, hasVideo)

	case b.bufferingTime < b.skew:
		if b.bufferingTime > b.config.MaxBuffering.Seconds() && len(b.pending) > 0 {
			b.pending[0] = pendingAudio{}
			b.pending = b.pending[1:]
			b.evicted++
		}
		b.pending = append(b.pending, pendingAudio{tag: tag, delta: delta})
		audio.advance(pts)
		b.bufferingTime += deltaSec
		b.buffered++
		return audioEmission{tag: tag, delta: delta, decision: SyncBuffer}

	case len(b.pending) == 0:
		// Skew reached with nothing recorded; there is nothing older to send.
		return b.bypass(tag, delta, pts, audio, hasVideo)

	default:
		b.firstBuffering = false
		oldest := b.pending[0]
		audio.advance(pts)
		b.pending[0] = pendingAudio{}
		b.pending = append(b.pending[1:], pendingAudio{tag: tag, delta: delta})
		b.drained++
		return audioEmission{tag: oldest.tag, delta: oldest.delta, decision: SyncDrain}
	}
}

func (b *audioSyncBuffer) bypass(tag *Tag, delta float64, pts time.Duration, audio *streamClock, hasVideo bool) audioEmission {
	audio.advance(pts)
	if hasVideo {
		b.firstBuffering = false
	}
	b.bypassed++
	return audioEmission{tag: tag, delta: delta, decision: SyncBypass}
}

// isFirstBuffering reports whether the initial correction phase is ongoing.
func (b *audioSyncBuffer) isFirstBuffering() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firstBuffering
}

func (b *audioSyncBuffer) stats() SyncStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return SyncStats{
		Pending:        len(b.pending),
		BufferingTime:  time.Duration(b.bufferingTime * float64(time.Second)),
		Skew:           time.Duration(b.skew * float64(time.Second)),
		FirstBuffering: b.firstBuffering,
		Bypassed:       b.bypassed,
		Buffered:       b.buffered,
		Drained:        b.drained,
		Evicted:        b.evicted,
	}
}

func (b *audioSyncBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.skew = 0
	b.bufferingTime = 0
	b.pending = nil
	b.firstBuffering = true
	b.bypassed, b.buffered, b.drained, b.evicted = 0, 0, 0, 0
}
