package flvmux

// Tag is a serialized FLV tag body (the part after the 11-byte FLV tag
// header), ready to be sent as an RTMP audio, video or data message.
// A Tag is never modified after creation.
type Tag struct {
	Type TagType
	Data []byte
}

// Len returns the body size in bytes.
func (t *Tag) Len() int { return len(t.Data) }

// IsSequenceHeader reports whether the tag carries codec configuration
// rather than media data.
func (t *Tag) IsSequenceHeader() bool {
	if len(t.Data) < 2 {
		return false
	}
	switch t.Type {
	case TagTypeAudio:
		return AACPacketType(t.Data[1]) == AACPacketTypeSequenceHeader
	case TagTypeVideo:
		return AVCPacketType(t.Data[1]) == AVCPacketTypeSequenceHeader
	default:
		return false
	}
}

// IsKeyframe reports whether a video tag is a keyframe.
func (t *Tag) IsKeyframe() bool {
	return t.Type == TagTypeVideo && len(t.Data) > 0 && FrameType(t.Data[0]>>4) == FrameTypeKey
}

// Audio tag layout: [header, packetType, payload...]
const audioTagHeaderSize = 2

// Video tag layout: [frameType<<4|codec, packetType, cts(3), payload...]
const videoTagHeaderSize = 5

func newAudioTag(header AudioHeader, packetType AACPacketType, payload []byte) *Tag {
	data := make([]byte, audioTagHeaderSize+len(payload))
	data[0] = header.Byte()
	data[1] = byte(packetType)
	copy(data[audioTagHeaderSize:], payload)
	return &Tag{Type: TagTypeAudio, Data: data}
}

// AudioSequenceHeaderTag builds an AAC sequence header tag around an
// AudioSpecificConfig.
func AudioSequenceHeaderTag(header AudioHeader, config []byte) *Tag {
	return newAudioTag(header, AACPacketTypeSequenceHeader, config)
}

// AudioDataTag builds an AAC raw frame tag.
func AudioDataTag(header AudioHeader, payload []byte) *Tag {
	return newAudioTag(header, AACPacketTypeRaw, payload)
}

func newVideoTag(frameType FrameType, packetType AVCPacketType, cts int32, payload []byte) *Tag {
	data := make([]byte, videoTagHeaderSize+len(payload))
	data[0] = byte(frameType)<<4 | byte(VideoCodecAVC)
	data[1] = byte(packetType)
	// low three bytes of the big-endian int32
	data[2] = byte(cts >> 16)
	data[3] = byte(cts >> 8)
	data[4] = byte(cts)
	copy(data[videoTagHeaderSize:], payload)
	return &Tag{Type: TagTypeVideo, Data: data}
}

// VideoSequenceHeaderTag builds an AVC sequence header tag around an
// AVCDecoderConfigurationRecord.
func VideoSequenceHeaderTag(config []byte) *Tag {
	return newVideoTag(FrameTypeKey, AVCPacketTypeSequenceHeader, 0, config)
}

// VideoDataTag builds an AVC NALU tag. cts is the composition time offset
// in milliseconds.
func VideoDataTag(payload []byte, keyframe bool, cts int32) *Tag {
	frameType := FrameTypeInter
	if keyframe {
		frameType = FrameTypeKey
	}
	return newVideoTag(frameType, AVCPacketTypeNALU, cts, payload)
}

// VideoEndOfSequenceTag builds the AVC end-of-sequence marker.
func VideoEndOfSequenceTag() *Tag {
	return newVideoTag(FrameTypeKey, AVCPacketTypeEndOfSequence, 0, nil)
}

// CompositionTime extracts the signed 24-bit composition time offset of a
// video data tag.
func (t *Tag) CompositionTime() int32 {
	if t.Type != TagTypeVideo || len(t.Data) < videoTagHeaderSize {
		return 0
	}
	v := int32(t.Data[2])<<16 | int32(t.Data[3])<<8 | int32(t.Data[4])
	if v&0x800000 != 0 {
		v |= ^0xFFFFFF
	}
	return v
}

// Payload returns the bytes after the codec-specific header.
func (t *Tag) Payload() []byte {
	switch t.Type {
	case TagTypeAudio:
		if len(t.Data) < audioTagHeaderSize {
			return nil
		}
		return t.Data[audioTagHeaderSize:]
	case TagTypeVideo:
		if len(t.Data) < videoTagHeaderSize {
			return nil
		}
		return t.Data[videoTagHeaderSize:]
	default:
		return t.Data
	}
}
