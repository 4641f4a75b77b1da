package flvmux

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// AACConfig returns the AudioSpecificConfig bytes for AAC-LC with the given
// sample rate and channel count, as carried in the audio sequence header.
func AACConfig(sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d, channels %d", ErrInvalidConfig, sampleRate, channels)
	}
	conf := mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   sampleRate,
		ChannelCount: channels,
	}
	return conf.Marshal()
}

// ParseAACConfig decodes an AudioSpecificConfig.
func ParseAACConfig(config []byte) (sampleRate, channels int, err error) {
	var conf mpeg4audio.AudioSpecificConfig
	if err := conf.Unmarshal(config); err != nil {
		return 0, 0, fmt.Errorf("parse AudioSpecificConfig: %w", err)
	}
	return conf.SampleRate, conf.ChannelCount, nil
}

// AVCConfig builds an AVCDecoderConfigurationRecord (ISO 14496-15) from one
// SPS and one PPS, with 4-byte NALU lengths.
func AVCConfig(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 || len(pps) == 0 {
		return nil, ErrNoParameterSets
	}
	rec := make([]byte, 0, 11+len(sps)+len(pps))
	rec = append(rec,
		1,      // configurationVersion
		sps[1], // AVCProfileIndication
		sps[2], // profile_compatibility
		sps[3], // AVCLevelIndication
		0xFF,   // lengthSizeMinusOne = 3
		0xE1,   // numOfSequenceParameterSets = 1
		byte(len(sps)>>8), byte(len(sps)),
	)
	rec = append(rec, sps...)
	rec = append(rec, 1, byte(len(pps)>>8), byte(len(pps)))
	rec = append(rec, pps...)
	return rec, nil
}

// ParseAVCConfig extracts the first SPS and PPS from an
// AVCDecoderConfigurationRecord.
func ParseAVCConfig(rec []byte) (sps, pps []byte, err error) {
	if len(rec) < 7 || rec[0] != 1 {
		return nil, nil, fmt.Errorf("%w: bad AVCDecoderConfigurationRecord", ErrNoParameterSets)
	}
	i := 5
	numSPS := int(rec[i] & 0x1F)
	i++
	for n := 0; n < numSPS; n++ {
		if i+2 > len(rec) {
			return nil, nil, ErrNoParameterSets
		}
		l := int(rec[i])<<8 | int(rec[i+1])
		i += 2
		if i+l > len(rec) {
			return nil, nil, ErrNoParameterSets
		}
		if sps == nil {
			sps = rec[i : i+l]
		}
		i += l
	}
	if i >= len(rec) {
		return nil, nil, ErrNoParameterSets
	}
	numPPS := int(rec[i])
	i++
	for n := 0; n < numPPS; n++ {
		if i+2 > len(rec) {
			return nil, nil, ErrNoParameterSets
		}
		l := int(rec[i])<<8 | int(rec[i+1])
		i += 2
		if i+l > len(rec) {
			return nil, nil, ErrNoParameterSets
		}
		if pps == nil {
			pps = rec[i : i+l]
		}
		i += l
	}
	if sps == nil || pps == nil {
		return nil, nil, ErrNoParameterSets
	}
	return sps, pps, nil
}

// AnnexBToAVCC converts start-code delimited NAL units to the 4-byte
// length-prefixed form carried in FLV video tags. Parameter sets and
// access unit delimiters are dropped since they travel in the sequence
// header.
func AnnexBToAVCC(data []byte) ([]byte, error) {
	var annexB h264.AnnexB
	if err := annexB.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse Annex-B: %w", err)
	}
	nalus := make([][]byte, 0, len(annexB))
	for _, nalu := range annexB {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeAccessUnitDelimiter:
			continue
		}
		nalus = append(nalus, nalu)
	}
	return h264.AVCC(nalus).Marshal()
}

// ParameterSets returns the SPS and PPS found in an Annex-B access unit.
func ParameterSets(data []byte) (sps, pps []byte) {
	var annexB h264.AnnexB
	if err := annexB.Unmarshal(data); err != nil {
		return nil, nil
	}
	for _, nalu := range annexB {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		}
	}
	return sps, pps
}

// IsIDR reports whether an Annex-B access unit contains an IDR slice.
func IsIDR(data []byte) bool {
	var annexB h264.AnnexB
	if err := annexB.Unmarshal(data); err != nil {
		return false
	}
	for _, nalu := range annexB {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// VideoDimensions returns the picture size coded in an SPS.
func VideoDimensions(sps []byte) (width, height int, err error) {
	var s h264.SPS
	if err := s.Unmarshal(sps); err != nil {
		return 0, 0, fmt.Errorf("parse SPS: %w", err)
	}
	return s.Width(), s.Height(), nil
}
