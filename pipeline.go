package flvmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// PipelineState represents the state of a publishing pipeline.
type PipelineState int

const (
	PipelineStateIdle    PipelineState = iota // Not started
	PipelineStateRunning                      // Sources are feeding the muxer
	PipelineStateStopped                      // Finished; muxer disposed
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PipelineConfig configures a publishing pipeline.
type PipelineConfig struct {
	Sources []Source       // Each source runs on its own goroutine
	Muxer   *Muxer         // Receives every source's samples
	Writer  TagWriteCloser // Installed on the muxer and closed when Run returns

	// Metadata, when set, is emitted as onMetaData before any source starts.
	Metadata *Metadata

	// StopOnWriteError ends Run with the first writer error. Otherwise
	// failed writes are only counted.
	StopOnWriteError bool

	Logger Logger
}

// PipelineStats provides pipeline statistics.
type PipelineStats struct {
	Muxer           MuxerStats
	SourcesFinished int
	WriteErrors     uint64
	Duration        time.Duration
}

// Pipeline handles: Sources -> Muxer -> TagWriter
type Pipeline struct {
	sources          []Source
	muxer            *Muxer
	writer           TagWriteCloser
	metadata         *Metadata
	stopOnWriteError bool
	log              Logger

	state    atomic.Int32
	writeErr chan error

	stats   PipelineStats
	started time.Time
	statsMu sync.Mutex
}

// NewPipeline creates a new pipeline.
func NewPipeline(config PipelineConfig) (*Pipeline, error) {
	if len(config.Sources) == 0 {
		return nil, fmt.Errorf("%w: at least one source is required", ErrInvalidConfig)
	}
	if config.Muxer == nil {
		return nil, fmt.Errorf("%w: muxer is required", ErrInvalidConfig)
	}
	for i, src := range config.Sources {
		if src == nil {
			return nil, fmt.Errorf("%w: source %d is nil", ErrInvalidConfig, i)
		}
	}

	p := &Pipeline{
		sources:          config.Sources,
		muxer:            config.Muxer,
		writer:           config.Writer,
		metadata:         config.Metadata,
		stopOnWriteError: config.StopOnWriteError,
		log:              loggerOrDiscard(config.Logger).WithField("component", "pipeline"),
		writeErr:         make(chan error, 1),
	}
	p.state.Store(int32(PipelineStateIdle))
	return p, nil
}

// Run drives all sources until they finish, one fails, ctx is cancelled or
// (with StopOnWriteError) the writer fails. On return the muxer is disposed
// and the writer closed. A pipeline runs once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PipelineStateIdle), int32(PipelineStateRunning)) {
		return fmt.Errorf("pipeline already %s", p.State())
	}

	p.statsMu.Lock()
	p.started = time.Now()
	p.statsMu.Unlock()

	if p.writer != nil {
		p.muxer.SetWriter(TagWriterFunc(p.write))
	}
	if p.metadata != nil {
		if err := p.muxer.OnMetadata(*p.metadata); err != nil {
			p.log.WithError(err).Warn("metadata not sent")
		}
	}
	p.log.WithField("sources", len(p.sources)).Info("pipeline started")

	g, gctx := errgroup.WithContext(ctx)

	var running sync.WaitGroup
	for i, src := range p.sources {
		running.Add(1)
		g.Go(func() error {
			defer running.Done()
			err := src.Run(gctx, p.muxer)

			p.statsMu.Lock()
			p.stats.SourcesFinished++
			p.statsMu.Unlock()

			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("source %d: %w", i, err)
			}
			return nil
		})
	}

	sourcesDone := make(chan struct{})
	go func() {
		running.Wait()
		close(sourcesDone)
	}()

	g.Go(func() error {
		select {
		case err := <-p.writeErr:
			return fmt.Errorf("write: %w", err)
		case <-sourcesDone:
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()

	// Every producer has returned, so disposing is safe.
	p.muxer.Dispose()
	if p.writer != nil {
		p.muxer.SetWriter(nil)
		if cerr := p.writer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close writer: %w", cerr)
		}
	}
	p.state.Store(int32(PipelineStateStopped))

	p.statsMu.Lock()
	p.stats.Duration = time.Since(p.started)
	p.statsMu.Unlock()

	if err != nil {
		p.log.WithError(err).Warn("pipeline stopped")
		return err
	}
	p.log.Info("pipeline stopped")
	return ctx.Err()
}

// State returns the current pipeline state.
func (p *Pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() PipelineStats {
	p.statsMu.Lock()
	stats := p.stats
	if p.State() == PipelineStateRunning {
		stats.Duration = time.Since(p.started)
	}
	p.statsMu.Unlock()
	stats.Muxer = p.muxer.Stats()
	return stats
}

func (p *Pipeline) write(tag *Tag, delta float64) error {
	err := p.writer.WriteTag(tag, delta)
	if err == nil {
		return nil
	}

	p.statsMu.Lock()
	p.stats.WriteErrors++
	p.statsMu.Unlock()

	if p.stopOnWriteError {
		select {
		case p.writeErr <- err:
		default:
		}
	}
	return err
}
