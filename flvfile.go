package flvmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/yutopp/go-flv"
	flvtag "github.com/yutopp/go-flv/tag"
)

// FLVFileWriter is a TagWriter that records tags into an FLV container.
type FLVFileWriter struct {
	enc      *flv.Encoder
	closer   io.Closer
	timeline Timeline

	closed bool
	mu     sync.Mutex
}

var _ TagWriteCloser = (*FLVFileWriter)(nil)

func init() {
	RegisterWriter("file", func(_ context.Context, u *url.URL, _ WriterOptions) (TagWriteCloser, error) {
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return CreateFLVFile(path)
	})
}

// NewFLVFileWriter writes an FLV header announcing audio and video to w.
// If w is an io.Closer it is closed by Close.
func NewFLVFileWriter(w io.Writer) (*FLVFileWriter, error) {
	enc, err := flv.NewEncoder(w, flv.FlagsAudio|flv.FlagsVideo)
	if err != nil {
		return nil, fmt.Errorf("write FLV header: %w", err)
	}
	fw := &FLVFileWriter{enc: enc}
	if c, ok := w.(io.Closer); ok {
		fw.closer = c
	}
	return fw, nil
}

// CreateFLVFile creates (or truncates) path and records into it.
func CreateFLVFile(path string) (*FLVFileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	fw, err := NewFLVFileWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return fw, nil
}

// WriteTag appends a tag stamped with its absolute timestamp.
func (w *FLVFileWriter) WriteTag(tag *Tag, delta float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	ft, err := flvTagFromTag(tag)
	if err != nil {
		return err
	}
	ft.Timestamp = w.timeline.Advance(tag.Type, delta)
	return w.enc.Encode(ft)
}

// Close closes the underlying writer if it is closable.
func (w *FLVFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// flvTagFromTag decodes a tag body into go-flv's typed representation.
func flvTagFromTag(tag *Tag) (*flvtag.FlvTag, error) {
	r := bytes.NewReader(tag.Data)
	switch tag.Type {
	case TagTypeAudio:
		var audio flvtag.AudioData
		if err := flvtag.DecodeAudioData(r, &audio); err != nil {
			return nil, fmt.Errorf("decode audio tag: %w", err)
		}
		return &flvtag.FlvTag{TagType: flvtag.TagTypeAudio, Data: &audio}, nil
	case TagTypeVideo:
		var video flvtag.VideoData
		if err := flvtag.DecodeVideoData(r, &video); err != nil {
			return nil, fmt.Errorf("decode video tag: %w", err)
		}
		return &flvtag.FlvTag{TagType: flvtag.TagTypeVideo, Data: &video}, nil
	case TagTypeScript:
		var script flvtag.ScriptData
		if err := flvtag.DecodeScriptData(r, &script); err != nil {
			return nil, fmt.Errorf("decode script tag: %w", err)
		}
		return &flvtag.FlvTag{TagType: flvtag.TagTypeScriptData, Data: &script}, nil
	default:
		return nil, fmt.Errorf("unknown tag type %d", tag.Type)
	}
}

// =============================================================================
// FLV source
// =============================================================================

// Source drives a Sink with encoded samples until it is exhausted or ctx
// is cancelled.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// FLVSourceConfig configures an FLV file source.
type FLVSourceConfig struct {
	Reader   io.Reader
	Realtime bool // pace delivery to the tag timestamps
	Logger   Logger
}

// FLVFileSource replays an FLV stream into a Sink: sequence headers become
// format changes, data tags become samples.
type FLVFileSource struct {
	reader   io.Reader
	realtime bool
	log      Logger
}

var _ Source = (*FLVFileSource)(nil)

// NewFLVFileSource creates an FLV source.
func NewFLVFileSource(config FLVSourceConfig) (*FLVFileSource, error) {
	if config.Reader == nil {
		return nil, fmt.Errorf("%w: reader is required", ErrInvalidConfig)
	}
	return &FLVFileSource{
		reader:   config.Reader,
		realtime: config.Realtime,
		log:      loggerOrDiscard(config.Logger).WithField("component", "flv-source"),
	}, nil
}

// Run reads tags until EOF. Audio and video callbacks are issued from the
// calling goroutine in file order.
func (s *FLVFileSource) Run(ctx context.Context, sink Sink) error {
	dec, err := flv.NewDecoder(s.reader)
	if err != nil {
		return fmt.Errorf("read FLV header: %w", err)
	}

	start := time.Now()
	var tags int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ft flvtag.FlvTag
		if err := dec.Decode(&ft); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.log.WithField("tags", tags).Info("end of stream")
				return nil
			}
			return fmt.Errorf("decode tag: %w", err)
		}
		tags++

		ts := time.Duration(ft.Timestamp) * time.Millisecond
		if s.realtime {
			if err := sleepUntil(ctx, start.Add(ts)); err != nil {
				return err
			}
		}

		if err := s.deliver(&ft, ts, sink); err != nil {
			return err
		}
	}
}

func (s *FLVFileSource) deliver(ft *flvtag.FlvTag, ts time.Duration, sink Sink) error {
	switch data := ft.Data.(type) {
	case *flvtag.AudioData:
		if data.SoundFormat != flvtag.SoundFormatAAC {
			s.log.WithField("format", data.SoundFormat).Debug("skipping non-AAC audio")
			return nil
		}
		payload, err := io.ReadAll(data.Data)
		if err != nil {
			return fmt.Errorf("read audio payload: %w", err)
		}
		if data.AACPacketType == flvtag.AACPacketTypeSequenceHeader {
			sink.OnAudioFormat(payload)
			return nil
		}
		sink.OnAudioSample(&AudioSample{Data: payload, PTS: ts})

	case *flvtag.VideoData:
		if data.CodecID != flvtag.CodecIDAVC {
			s.log.WithField("codec", data.CodecID).Debug("skipping non-AVC video")
			return nil
		}
		payload, err := io.ReadAll(data.Data)
		if err != nil {
			return fmt.Errorf("read video payload: %w", err)
		}
		switch data.AVCPacketType {
		case flvtag.AVCPacketTypeSequenceHeader:
			sink.OnVideoFormat(payload)
		case flvtag.AVCPacketTypeNALU:
			sink.OnVideoSample(&VideoSample{
				Data:     payload,
				DTS:      ts,
				PTS:      ts + time.Duration(data.CompositionTime)*time.Millisecond,
				HasDTS:   true,
				Keyframe: data.FrameType == flvtag.FrameTypeKeyFrame,
			})
		}
	}
	return nil
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
