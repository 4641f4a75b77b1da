// Package flvmux turns independently timed AAC audio and H.264 video
// samples into an ordered stream of FLV tags for RTMP publishing or FLV
// recording.
//
// Key pieces include:
//   - Tag encoders for audio/video sequence headers, media data and
//     onMetaData script tags
//   - A Muxer that tracks per-stream clocks and emits tags with
//     millisecond deltas
//   - An audio sync buffer that absorbs start-up skew when the video
//     encoder starts later than the audio encoder
//   - Tag writers for RTMP (go-rtmp) and FLV files (go-flv)
//   - Sources that replay FLV files or depacketize H.264 from RTP/WebRTC
//
// # Architecture
//
//	Source (FLV file, RTP, WebRTC track) -> Muxer (Sink) -> TagWriter (RTMP, FLV file)
//
// The Muxer implements Sink, so an encoder can call it directly. Audio and
// video may be delivered from different goroutines; each path must be
// serial. Every emitted tag reaches the writer exactly once, in emission
// order, with a delta relative to the previous tag of the same stream.
//
// # Audio sync
//
// While video has not started, audio passes straight through. Once a video
// reference exists and audio runs ahead of it, audio is recorded in a
// bounded pending queue; when the skew is covered the queue starts draining
// the oldest entry per new sample. IsFirstBuffering reports whether that
// initial correction is still in progress.
//
// # Writers
//
// Writers are looked up by URL scheme with OpenWriter:
//
//	w, err := flvmux.OpenWriter(ctx, "rtmp://localhost/live/key", flvmux.WriterOptions{})
//	w, err := flvmux.OpenWriter(ctx, "file:///tmp/out.flv", flvmux.WriterOptions{})
package flvmux
