package flvmux

// TagType identifies the kind of an FLV tag.
type TagType uint8

const (
	TagTypeAudio  TagType = 8
	TagTypeVideo  TagType = 9
	TagTypeScript TagType = 18
)

func (t TagType) String() string {
	switch t {
	case TagTypeAudio:
		return "audio"
	case TagTypeVideo:
		return "video"
	case TagTypeScript:
		return "script"
	default:
		return "unknown"
	}
}

// SoundFormat is the codec id carried in the high nibble of an audio tag header.
type SoundFormat uint8

const (
	SoundFormatLinearPCM SoundFormat = 0
	SoundFormatMP3       SoundFormat = 2
	SoundFormatG711A     SoundFormat = 7
	SoundFormatG711U     SoundFormat = 8
	SoundFormatAAC       SoundFormat = 10
	SoundFormatSpeex     SoundFormat = 11
)

func (f SoundFormat) String() string {
	switch f {
	case SoundFormatLinearPCM:
		return "PCM"
	case SoundFormatMP3:
		return "MP3"
	case SoundFormatG711A:
		return "PCMA"
	case SoundFormatG711U:
		return "PCMU"
	case SoundFormatAAC:
		return "AAC"
	case SoundFormatSpeex:
		return "Speex"
	default:
		return "Unknown"
	}
}

// SoundRate is the two-bit sample rate field of an audio tag header.
type SoundRate uint8

const (
	SoundRate5_5kHz SoundRate = 0
	SoundRate11kHz  SoundRate = 1
	SoundRate22kHz  SoundRate = 2
	SoundRate44kHz  SoundRate = 3 // always used for AAC
)

// Hz returns the nominal sample rate.
func (r SoundRate) Hz() int {
	switch r {
	case SoundRate5_5kHz:
		return 5512
	case SoundRate11kHz:
		return 11025
	case SoundRate22kHz:
		return 22050
	default:
		return 44100
	}
}

// SoundSize is the one-bit sample size field of an audio tag header.
type SoundSize uint8

const (
	SoundSize8Bit  SoundSize = 0
	SoundSize16Bit SoundSize = 1
)

// SoundType is the one-bit channel layout field of an audio tag header.
type SoundType uint8

const (
	SoundTypeMono   SoundType = 0
	SoundTypeStereo SoundType = 1
)

// AACPacketType distinguishes AAC sequence headers from raw frames.
type AACPacketType uint8

const (
	AACPacketTypeSequenceHeader AACPacketType = 0
	AACPacketTypeRaw            AACPacketType = 1
)

// AudioHeader packs the first byte of an audio tag.
type AudioHeader struct {
	Format SoundFormat
	Rate   SoundRate
	Size   SoundSize
	Type   SoundType
}

// DefaultAudioHeader is the header FLV mandates for AAC: 44 kHz, 16 bit, stereo.
// Decoders take the real values from the AudioSpecificConfig.
var DefaultAudioHeader = AudioHeader{
	Format: SoundFormatAAC,
	Rate:   SoundRate44kHz,
	Size:   SoundSize16Bit,
	Type:   SoundTypeStereo,
}

// Byte returns the packed header byte.
func (h AudioHeader) Byte() byte {
	return byte(h.Format)<<4 | byte(h.Rate&0x03)<<2 | byte(h.Size&0x01)<<1 | byte(h.Type&0x01)
}

// ParseAudioHeader unpacks an audio tag header byte.
func ParseAudioHeader(b byte) AudioHeader {
	return AudioHeader{
		Format: SoundFormat(b >> 4),
		Rate:   SoundRate((b >> 2) & 0x03),
		Size:   SoundSize((b >> 1) & 0x01),
		Type:   SoundType(b & 0x01),
	}
}

// VideoCodec is the codec id carried in the low nibble of a video tag header.
type VideoCodec uint8

const (
	VideoCodecSorenson VideoCodec = 2
	VideoCodecVP6      VideoCodec = 4
	VideoCodecAVC      VideoCodec = 7
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecSorenson:
		return "H263"
	case VideoCodecVP6:
		return "VP6"
	case VideoCodecAVC:
		return "H264"
	default:
		return "Unknown"
	}
}

// FrameType is the high nibble of a video tag header.
type FrameType uint8

const (
	FrameTypeKey   FrameType = 1 // seekable frame
	FrameTypeInter FrameType = 2
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeInter:
		return "Inter"
	default:
		return "Unknown"
	}
}

// AVCPacketType distinguishes AVC sequence headers from NALU payloads.
type AVCPacketType uint8

const (
	AVCPacketTypeSequenceHeader AVCPacketType = 0
	AVCPacketTypeNALU           AVCPacketType = 1
	AVCPacketTypeEndOfSequence  AVCPacketType = 2
)
