package flvmux

import (
	"bytes"
	"fmt"

	"github.com/yutopp/go-amf0"
)

// Metadata describes the published stream for the onMetaData script tag.
// Zero fields are omitted.
type Metadata struct {
	Width           int
	Height          int
	FrameRate       float64
	VideoBitrateBps int
	HasVideo        bool

	AudioSampleRate int
	AudioChannels   int
	AudioBitrateBps int
	HasAudio        bool

	Encoder string
}

func (m Metadata) ecmaArray() amf0.ECMAArray {
	arr := amf0.ECMAArray{
		"duration": float64(0),
	}
	if m.HasVideo {
		arr["videocodecid"] = float64(VideoCodecAVC)
		if m.Width > 0 {
			arr["width"] = float64(m.Width)
		}
		if m.Height > 0 {
			arr["height"] = float64(m.Height)
		}
		if m.FrameRate > 0 {
			arr["framerate"] = m.FrameRate
		}
		if m.VideoBitrateBps > 0 {
			arr["videodatarate"] = float64(m.VideoBitrateBps) / 1000
		}
	}
	if m.HasAudio {
		arr["audiocodecid"] = float64(SoundFormatAAC)
		if m.AudioSampleRate > 0 {
			arr["audiosamplerate"] = float64(m.AudioSampleRate)
		}
		if m.AudioChannels > 0 {
			arr["stereo"] = m.AudioChannels > 1
		}
		if m.AudioBitrateBps > 0 {
			arr["audiodatarate"] = float64(m.AudioBitrateBps) / 1000
		}
	}
	if m.Encoder != "" {
		arr["encoder"] = m.Encoder
	}
	return arr
}

// MetadataTag builds the onMetaData script data tag.
func MetadataTag(m Metadata) (*Tag, error) {
	var buf bytes.Buffer
	enc := amf0.NewEncoder(&buf)
	if err := enc.Encode("onMetaData"); err != nil {
		return nil, fmt.Errorf("encode metadata name: %w", err)
	}
	if err := enc.Encode(m.ecmaArray()); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return &Tag{Type: TagTypeScript, Data: buf.Bytes()}, nil
}
