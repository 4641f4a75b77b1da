package flvmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"sort"
	"sync"
)

// Common errors
var (
	ErrClosed           = errors.New("writer closed")
	ErrUnsupportedCodec = errors.New("codec not supported")
	ErrInvalidConfig    = errors.New("invalid config")
	ErrNoParameterSets  = errors.New("missing SPS/PPS")
)

// TagWriter consumes tags in emission order. delta is the time in
// milliseconds since the previous tag of the same type; sequence headers
// and metadata carry 0.
type TagWriter interface {
	WriteTag(tag *Tag, delta float64) error
}

// TagWriteCloser is a TagWriter that owns a resource.
type TagWriteCloser interface {
	TagWriter
	io.Closer
}

// TagWriterFunc adapts a function to TagWriter.
type TagWriterFunc func(tag *Tag, delta float64) error

// WriteTag calls f.
func (f TagWriterFunc) WriteTag(tag *Tag, delta float64) error { return f(tag, delta) }

// multiWriter fans tags out to several writers.
type multiWriter []TagWriter

func (m multiWriter) WriteTag(tag *Tag, delta float64) error {
	var errs []error
	for _, w := range m {
		if err := w.WriteTag(tag, delta); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiWriter duplicates every tag to all writers. Each writer sees every
// tag even if an earlier one fails.
func MultiWriter(writers ...TagWriter) TagWriter {
	return multiWriter(append([]TagWriter(nil), writers...))
}

// Timeline turns per-stream deltas into absolute millisecond timestamps
// as FLV files and RTMP messages need them. Fractions are accumulated and
// rounded on output so long runs do not drift.
type Timeline struct {
	audio float64
	video float64
	mu    sync.Mutex
}

// Advance adds delta to the clock of the tag's stream and returns the
// absolute timestamp to stamp on it. Script tags use the later of the two
// stream clocks.
func (t *Timeline) Advance(tagType TagType, delta float64) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ts float64
	switch tagType {
	case TagTypeAudio:
		t.audio += delta
		ts = t.audio
	case TagTypeVideo:
		t.video += delta
		ts = t.video
	default:
		ts = math.Max(t.audio, t.video)
	}
	if ts < 0 {
		return 0
	}
	return uint32(math.Round(ts))
}

// Reset zeroes both stream clocks.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio, t.video = 0, 0
}

// WriterFactory opens a writer for a destination URL.
type WriterFactory func(ctx context.Context, u *url.URL, opts WriterOptions) (TagWriteCloser, error)

// WriterOptions carries settings shared by all writer factories.
type WriterOptions struct {
	Logger Logger
}

// writerRegistry maps URL schemes to writer factories.
type writerRegistry struct {
	factories map[string]WriterFactory
	mu        sync.RWMutex
}

var globalWriterRegistry = &writerRegistry{
	factories: make(map[string]WriterFactory),
}

// RegisterWriter registers a writer factory for a URL scheme.
func RegisterWriter(scheme string, factory WriterFactory) {
	globalWriterRegistry.mu.Lock()
	defer globalWriterRegistry.mu.Unlock()
	globalWriterRegistry.factories[scheme] = factory
}

// OpenWriter opens a writer for rawURL, e.g. rtmp://host/app/key or
// file:///tmp/out.flv. A bare path is treated as a file.
func OpenWriter(ctx context.Context, rawURL string, opts WriterOptions) (TagWriteCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse destination: %w", err)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "file"
	}

	globalWriterRegistry.mu.RLock()
	factory, ok := globalWriterRegistry.factories[scheme]
	globalWriterRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no writer for scheme %q", scheme)
	}
	return factory(ctx, u, opts)
}

// AvailableWriters lists the registered URL schemes.
func AvailableWriters() []string {
	globalWriterRegistry.mu.RLock()
	defer globalWriterRegistry.mu.RUnlock()

	schemes := make([]string, 0, len(globalWriterRegistry.factories))
	for s := range globalWriterRegistry.factories {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}
