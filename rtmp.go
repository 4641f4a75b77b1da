package flvmux

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// Chunk stream IDs used for outgoing media.
const (
	chunkStreamData  = 5
	chunkStreamAudio = 6
	chunkStreamVideo = 7
)

const defaultRTMPPort = "1935"

// RTMPConfig configures an RTMP publisher.
type RTMPConfig struct {
	URL       string // rtmp://host[:port]/app/streamKey
	FlashVer  string // default "FMLE/3.0 (compatible; flvmux)"
	ChunkSize uint32 // default 4096
	Logger    Logger
}

// RTMPPublisher is a TagWriter that publishes a live stream over RTMP.
type RTMPPublisher struct {
	client   *rtmp.ClientConn
	stream   *rtmp.Stream
	timeline Timeline
	log      Logger

	closed bool
	mu     sync.Mutex
}

var _ TagWriteCloser = (*RTMPPublisher)(nil)

func init() {
	RegisterWriter("rtmp", func(ctx context.Context, u *url.URL, opts WriterOptions) (TagWriteCloser, error) {
		return DialRTMP(ctx, RTMPConfig{URL: u.String(), Logger: opts.Logger})
	})
}

// rtmpTarget is a parsed publish URL.
type rtmpTarget struct {
	addr   string
	app    string
	stream string
	tcURL  string
}

// parseRTMPURL splits rtmp://host[:port]/app[/inst]/stream. The last path
// segment (with any query) is the stream name, the rest is the app.
func parseRTMPURL(raw string) (rtmpTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return rtmpTarget{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "rtmp" {
		return rtmpTarget{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	path := strings.Trim(u.Path, "/")
	idx := strings.LastIndex(path, "/")
	if u.Host == "" || idx <= 0 || idx == len(path)-1 {
		return rtmpTarget{}, fmt.Errorf("%w: want rtmp://host/app/stream, got %q", ErrInvalidConfig, raw)
	}

	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), defaultRTMPPort)
	}
	app := path[:idx]
	stream := path[idx+1:]
	if u.RawQuery != "" {
		stream += "?" + u.RawQuery
	}
	return rtmpTarget{
		addr:   addr,
		app:    app,
		stream: stream,
		tcURL:  "rtmp://" + u.Host + "/" + app,
	}, nil
}

// baseLogger returns the *logrus.Logger behind l for go-rtmp's own logging.
func baseLogger(l Logger) *logrus.Logger {
	switch v := l.(type) {
	case *logrus.Logger:
		return v
	case *logrus.Entry:
		return v.Logger
	default:
		return discardLogger().(*logrus.Logger)
	}
}

// DialRTMP connects to an RTMP server and starts publishing. The returned
// publisher stamps tags with absolute timestamps built from their deltas.
func DialRTMP(ctx context.Context, config RTMPConfig) (*RTMPPublisher, error) {
	target, err := parseRTMPURL(config.URL)
	if err != nil {
		return nil, err
	}

	// Defaults
	if config.FlashVer == "" {
		config.FlashVer = "FMLE/3.0 (compatible; flvmux)"
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 4096
	}
	log := loggerOrDiscard(config.Logger).WithFields(logrus.Fields{
		"component": "rtmp",
		"addr":      target.addr,
		"app":       target.app,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := rtmp.Dial("rtmp", target.addr, &rtmp.ConnConfig{
		Logger: baseLogger(config.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.addr, err)
	}

	// Tear the connection down if the caller gives up mid-handshake.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	if err := client.Connect(&rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      target.app,
			Type:     "nonprivate",
			FlashVer: config.FlashVer,
			TCURL:    target.tcURL,
		},
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	stream, err := client.CreateStream(nil, config.ChunkSize)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}

	if err := stream.Publish(&rtmpmsg.NetStreamPublish{
		PublishingName: target.stream,
		PublishingType: "live",
	}); err != nil {
		stream.Close()
		client.Close()
		return nil, fmt.Errorf("publish: %w", err)
	}

	if err := ctx.Err(); err != nil {
		stream.Close()
		client.Close()
		return nil, err
	}

	log.Info("publishing")
	return &RTMPPublisher{
		client: client,
		stream: stream,
		log:    log,
	}, nil
}

// WriteTag sends a tag as an RTMP audio, video or data message.
func (p *RTMPPublisher) WriteTag(tag *Tag, delta float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	ts := p.timeline.Advance(tag.Type, delta)
	switch tag.Type {
	case TagTypeAudio:
		return p.stream.Write(chunkStreamAudio, ts, &rtmpmsg.AudioMessage{
			Payload: bytes.NewReader(tag.Data),
		})
	case TagTypeVideo:
		return p.stream.Write(chunkStreamVideo, ts, &rtmpmsg.VideoMessage{
			Payload: bytes.NewReader(tag.Data),
		})
	case TagTypeScript:
		return p.stream.Write(chunkStreamData, ts, &rtmpmsg.DataMessage{
			Name:     "@setDataFrame",
			Encoding: rtmpmsg.EncodingTypeAMF0,
			Body:     bytes.NewReader(tag.Data),
		})
	default:
		return fmt.Errorf("unknown tag type %d", tag.Type)
	}
}

// Close stops publishing and closes the connection. It is safe to call
// more than once.
func (p *RTMPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if err := p.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.client.Close(); err != nil {
		errs = append(errs, err)
	}
	p.log.Info("closed")

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
