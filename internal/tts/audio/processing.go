// Package audio provides the WAV format parameters and PCM frame handling used when
// chunk artifacts are validated and assembled into one waveform.
package audio

import (
	"errors"
	"fmt"
)

// Compression identifiers reported for decoded WAV data.
const (
	COMPRESSION_NONE       = "NONE"
	COMPRESSION_NONE_NAME  = "not compressed"
	COMPRESSION_FLOAT      = "FLOAT"
	COMPRESSION_FLOAT_NAME = "IEEE float"
)

// Constants for supported sample widths, in bytes per sample.
const (
	SAMPLE_WIDTH_8  = 1
	SAMPLE_WIDTH_16 = 2
	SAMPLE_WIDTH_24 = 3
	SAMPLE_WIDTH_32 = 4
)

// Constants for format validation limits.
const (
	MAX_FRAME_RATE = 192000
	MAX_CHANNELS   = 8
)

// Constants for error messages and formats.
const (
	ERR_FMT_FRAME_RATE_RANGE   = "%w: frame rate must be between 1 and %d Hz, got %d"
	ERR_FMT_SAMPLE_WIDTH_VALUE = "%w: sample width must be 1, 2, 3, or 4 bytes, got %d"
	ERR_FMT_CHANNELS_RANGE     = "%w: channels must be between 1 and %d, got %d"
)

// Format field names, as reported by Diff.
const (
	FIELD_CHANNELS         = "channels"
	FIELD_SAMPLE_WIDTH     = "sample_width"
	FIELD_FRAME_RATE       = "frame_rate"
	FIELD_COMPRESSION_TYPE = "compression_type"
	FIELD_COMPRESSION_NAME = "compression_name"
)

// Common errors for the audio package.
var (
	ErrInvalidFormat = errors.New("invalid audio format")
)

// Format describes the parameters every chunk of one turn must share.
type Format struct {
	CompressionType string `json:"compressionType"`
	CompressionName string `json:"compressionName"`
	Channels        int    `json:"channels"`
	SampleWidth     int    `json:"sampleWidth"`
	FrameRate       int    `json:"frameRate"`
}

// NewPCMFormat returns an uncompressed PCM format.
func NewPCMFormat(channels, sampleWidth, frameRate int) Format {
	return Format{
		CompressionType: COMPRESSION_NONE,
		CompressionName: COMPRESSION_NONE_NAME,
		Channels:        channels,
		SampleWidth:     sampleWidth,
		FrameRate:       frameRate,
	}
}

// FrameSize is the number of bytes in one frame (one sample per channel).
func (f Format) FrameSize() int {
	return f.Channels * f.SampleWidth
}

// Diff returns the names of the fields that differ between f and other, in a stable
// order. An empty result means the formats are identical.
func (f Format) Diff(other Format) []string {
	var fields []string

	if f.Channels != other.Channels {
		fields = append(fields, FIELD_CHANNELS)
	}

	if f.SampleWidth != other.SampleWidth {
		fields = append(fields, FIELD_SAMPLE_WIDTH)
	}

	if f.FrameRate != other.FrameRate {
		fields = append(fields, FIELD_FRAME_RATE)
	}

	if f.CompressionType != other.CompressionType {
		fields = append(fields, FIELD_COMPRESSION_TYPE)
	}

	if f.CompressionName != other.CompressionName {
		fields = append(fields, FIELD_COMPRESSION_NAME)
	}

	return fields
}

// String renders the format for error messages.
func (f Format) String() string {
	return fmt.Sprintf(
		"channels=%d sample_width=%d frame_rate=%d compression=%s (%s)",
		f.Channels, f.SampleWidth, f.FrameRate, f.CompressionType, f.CompressionName,
	)
}

// Validate checks if the format parameters are within supported bounds.
func (f *Format) Validate() error {
	frameRateErr := validateFrameRate(f.FrameRate)
	if frameRateErr != nil {
		return frameRateErr
	}

	sampleWidthErr := validateSampleWidth(f.SampleWidth)
	if sampleWidthErr != nil {
		return sampleWidthErr
	}

	channelsErr := validateChannels(f.Channels)
	if channelsErr != nil {
		return channelsErr
	}

	return nil
}

//
// Validation Helpers
//

func validateFrameRate(frameRate int) error {
	if frameRate <= 0 || frameRate > MAX_FRAME_RATE {
		return fmt.Errorf(ERR_FMT_FRAME_RATE_RANGE, ErrInvalidFormat, MAX_FRAME_RATE, frameRate)
	}

	return nil
}

func validateSampleWidth(sampleWidth int) error {
	switch sampleWidth {
	case SAMPLE_WIDTH_8, SAMPLE_WIDTH_16, SAMPLE_WIDTH_24, SAMPLE_WIDTH_32:
		return nil
	default:
		return fmt.Errorf(ERR_FMT_SAMPLE_WIDTH_VALUE, ErrInvalidFormat, sampleWidth)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MAX_CHANNELS {
		return fmt.Errorf(ERR_FMT_CHANNELS_RANGE, ErrInvalidFormat, MAX_CHANNELS, channels)
	}

	return nil
}
