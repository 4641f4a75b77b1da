package flvmux

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink implements Sink for testing
type recordingSink struct {
	audioFormats [][]byte
	videoFormats [][]byte
	audio        []*AudioSample
	video        []*VideoSample
	mu           sync.Mutex
}

func (s *recordingSink) OnAudioFormat(config []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioFormats = append(s.audioFormats, append([]byte(nil), config...))
}

func (s *recordingSink) OnAudioSample(sample *AudioSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, sample.Clone())
}

func (s *recordingSink) OnVideoFormat(config []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoFormats = append(s.videoFormats, append([]byte(nil), config...))
}

func (s *recordingSink) OnVideoSample(sample *VideoSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video = append(s.video, sample.Clone())
}

// writeTestFLV records a short stream: headers, metadata, two video and
// two audio frames.
func writeTestFLV(t *testing.T, w *FLVFileWriter) (aac, avc []byte) {
	t.Helper()
	aac, err := AACConfig(44100, 2)
	require.NoError(t, err)
	avc, err = AVCConfig(testSPS, testPPS)
	require.NoError(t, err)
	meta, err := MetadataTag(Metadata{Width: 1280, Height: 720, HasVideo: true, HasAudio: true})
	require.NoError(t, err)

	writes := []struct {
		tag   *Tag
		delta float64
	}{
		{meta, 0},
		{AudioSequenceHeaderTag(DefaultAudioHeader, aac), 0},
		{VideoSequenceHeaderTag(avc), 0},
		{VideoDataTag([]byte{0, 0, 0, 2, 0x65, 0x88}, true, 33), 0},
		{AudioDataTag(DefaultAudioHeader, []byte{0x21, 0x1a}), 0},
		{VideoDataTag([]byte{0, 0, 0, 2, 0x41, 0x9a}, false, 0), 33},
		{AudioDataTag(DefaultAudioHeader, []byte{0x21, 0x1b}), 23.2},
	}
	for _, wr := range writes {
		require.NoError(t, w.WriteTag(wr.tag, wr.delta))
	}
	return aac, avc
}

func TestFLVFile_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewFLVFileWriter(&buf)
	require.NoError(t, err)
	aac, avc := writeTestFLV(t, w)
	require.NoError(t, w.Close())

	assert.Equal(t, []byte("FLV"), buf.Bytes()[:3])

	src, err := NewFLVFileSource(FLVSourceConfig{Reader: &buf})
	require.NoError(t, err)
	sink := &recordingSink{}
	require.NoError(t, src.Run(context.Background(), sink))

	require.Equal(t, [][]byte{aac}, sink.audioFormats)
	require.Equal(t, [][]byte{avc}, sink.videoFormats)

	require.Len(t, sink.video, 2)
	assert.Equal(t, []byte{0, 0, 0, 2, 0x65, 0x88}, sink.video[0].Data)
	assert.True(t, sink.video[0].Keyframe)
	assert.True(t, sink.video[0].HasDTS)
	assert.Equal(t, time.Duration(0), sink.video[0].DTS)
	assert.Equal(t, 33*time.Millisecond, sink.video[0].PTS)
	assert.False(t, sink.video[1].Keyframe)
	assert.Equal(t, 33*time.Millisecond, sink.video[1].DTS)

	require.Len(t, sink.audio, 2)
	assert.Equal(t, []byte{0x21, 0x1a}, sink.audio[0].Data)
	assert.Equal(t, time.Duration(0), sink.audio[0].PTS)
	assert.Equal(t, 23*time.Millisecond, sink.audio[1].PTS)
}

func TestFLVFile_RemuxThroughMuxer(t *testing.T) {
	var in bytes.Buffer
	w, err := NewFLVFileWriter(&in)
	require.NoError(t, err)
	writeTestFLV(t, w)

	var out bytes.Buffer
	remuxed, err := NewFLVFileWriter(&out)
	require.NoError(t, err)
	m, err := NewMuxer(MuxerConfig{Writer: remuxed})
	require.NoError(t, err)

	src, err := NewFLVFileSource(FLVSourceConfig{Reader: &in})
	require.NoError(t, err)
	require.NoError(t, src.Run(context.Background(), m))

	stats := m.Stats()
	assert.Equal(t, uint64(3), stats.AudioTags)
	assert.Equal(t, uint64(3), stats.VideoTags)
	assert.Zero(t, stats.WriteErrors)

	// the remuxed file replays to the same samples
	again, err := NewFLVFileSource(FLVSourceConfig{Reader: &out})
	require.NoError(t, err)
	sink := &recordingSink{}
	require.NoError(t, again.Run(context.Background(), sink))
	assert.Len(t, sink.video, 2)
	assert.Len(t, sink.audio, 2)
	assert.Equal(t, 33*time.Millisecond, sink.video[0].PTS)
}

func TestFLVFileWriter_Closed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.flv")
	w, err := CreateFLVFile(path)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteTag(VideoEndOfSequenceTag(), 0), ErrClosed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("FLV"), data[:3])
}

func TestFLVFileWriter_RejectsUnknownTag(t *testing.T) {
	w, err := NewFLVFileWriter(&bytes.Buffer{})
	require.NoError(t, err)
	assert.Error(t, w.WriteTag(&Tag{Type: TagType(3), Data: []byte{1}}, 0))
}

func TestFLVFileSource_Errors(t *testing.T) {
	_, err := NewFLVFileSource(FLVSourceConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	src, err := NewFLVFileSource(FLVSourceConfig{Reader: bytes.NewReader([]byte("not an flv file"))})
	require.NoError(t, err)
	assert.Error(t, src.Run(context.Background(), &recordingSink{}))
}

func TestFLVFileSource_RealtimeCancel(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewFLVFileWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteTag(VideoDataTag([]byte{1}, true, 0), 0))
	require.NoError(t, w.WriteTag(VideoDataTag([]byte{2}, false, 0), 10000))

	src, err := NewFLVFileSource(FLVSourceConfig{Reader: &buf, Realtime: true})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sink := &recordingSink{}

	start := time.Now()
	err = src.Run(ctx, sink)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, sink.video, 1, "second frame is 10s out")
}
