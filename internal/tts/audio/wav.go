package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// RIFF container identifiers.
const (
	riffID      = "RIFF"
	waveID      = "WAVE"
	fmtChunkID  = "fmt "
	dataChunkID = "data"
)

// WAVE format tags.
const (
	formatTagPCM        = 0x0001
	formatTagFloat      = 0x0003
	formatTagExtensible = 0xFFFE
)

const (
	riffHeaderSize    = 12
	chunkHeaderSize   = 8
	minFmtChunkSize   = 16
	extensibleFmtSize = 40
	pcmFmtChunkSize   = 16
	bitsPerByte       = 8
	filePermissions   = 0o600
)

// Errors returned while decoding WAV data.
var (
	ErrNotRIFF             = errors.New("not a RIFF file")
	ErrNotWAVE             = errors.New("not a WAVE file")
	ErrMissingFmtChunk     = errors.New("missing fmt chunk")
	ErrMissingDataChunk    = errors.New("missing data chunk")
	ErrUnsupportedEncoding = errors.New("unsupported WAV encoding")
)

// Clip is a decoded WAV file: its format and its raw interleaved frames.
type Clip struct {
	Frames []byte
	Format Format
}

// FrameCount returns the number of complete frames in the clip.
func (c *Clip) FrameCount() int {
	frameSize := c.Format.FrameSize()
	if frameSize == 0 {
		return 0
	}

	return len(c.Frames) / frameSize
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file %s: %w", path, err)
	}
	defer file.Close()

	clip, err := Decode(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav file %s: %w", path, err)
	}

	return clip, nil
}

// Decode reads a RIFF/WAVE stream. Chunks other than "fmt " and "data" are skipped.
func Decode(reader io.Reader) (*Clip, error) {
	header := make([]byte, riffHeaderSize)

	_, err := io.ReadFull(reader, header)
	if err != nil {
		return nil, fmt.Errorf("failed to read riff header: %w", err)
	}

	if string(header[0:4]) != riffID {
		return nil, ErrNotRIFF
	}

	if string(header[8:12]) != waveID {
		return nil, ErrNotWAVE
	}

	var (
		format  *Format
		frames  []byte
		hasData bool
	)

	chunkHeader := make([]byte, chunkHeaderSize)

	for !hasData {
		_, readErr := io.ReadFull(reader, chunkHeader)
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return nil, fmt.Errorf("failed to read chunk header: %w", readErr)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case fmtChunkID:
			body := make([]byte, chunkSize)

			_, bodyErr := io.ReadFull(reader, body)
			if bodyErr != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", bodyErr)
			}

			parsed, parseErr := parseFmtChunk(body)
			if parseErr != nil {
				return nil, parseErr
			}

			format = parsed
		case dataChunkID:
			if format == nil {
				return nil, ErrMissingFmtChunk
			}

			data, dataErr := io.ReadAll(io.LimitReader(reader, chunkSize))
			if dataErr != nil {
				return nil, fmt.Errorf("failed to read data chunk: %w", dataErr)
			}

			frames = data
			hasData = true
		default:
			_, skipErr := io.CopyN(io.Discard, reader, chunkSize)
			if skipErr != nil {
				return nil, fmt.Errorf("failed to skip %q chunk: %w", chunkID, skipErr)
			}
		}

		// RIFF chunks are word aligned.
		if chunkSize%2 == 1 && !hasData {
			_, padErr := io.CopyN(io.Discard, reader, 1)
			if padErr != nil && !errors.Is(padErr, io.EOF) {
				return nil, fmt.Errorf("failed to skip chunk padding: %w", padErr)
			}
		}
	}

	if format == nil {
		return nil, ErrMissingFmtChunk
	}

	if !hasData {
		return nil, ErrMissingDataChunk
	}

	return &Clip{Frames: frames, Format: *format}, nil
}

func parseFmtChunk(body []byte) (*Format, error) {
	if len(body) < minFmtChunkSize {
		return nil, fmt.Errorf("%w: fmt chunk is %d bytes", ErrInvalidFormat, len(body))
	}

	formatTag := binary.LittleEndian.Uint16(body[0:2])
	channels := int(binary.LittleEndian.Uint16(body[2:4]))
	frameRate := int(binary.LittleEndian.Uint32(body[4:8]))
	bitsPerSample := int(binary.LittleEndian.Uint16(body[14:16]))

	if formatTag == formatTagExtensible && len(body) >= extensibleFmtSize {
		// The sub-format GUID starts with the plain format tag.
		formatTag = binary.LittleEndian.Uint16(body[24:26])
	}

	format := Format{
		Channels:    channels,
		SampleWidth: (bitsPerSample + bitsPerByte - 1) / bitsPerByte,
		FrameRate:   frameRate,
	}

	switch formatTag {
	case formatTagPCM:
		format.CompressionType = COMPRESSION_NONE
		format.CompressionName = COMPRESSION_NONE_NAME
	case formatTagFloat:
		format.CompressionType = COMPRESSION_FLOAT
		format.CompressionName = COMPRESSION_FLOAT_NAME
	default:
		return nil, fmt.Errorf("%w: format tag 0x%04x", ErrUnsupportedEncoding, formatTag)
	}

	validateErr := format.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &format, nil
}

// Encode writes the clip as a canonical 44-byte-header WAV stream.
func Encode(writer io.Writer, clip *Clip) error {
	validateErr := clip.Format.Validate()
	if validateErr != nil {
		return validateErr
	}

	formatTag := uint16(formatTagPCM)
	if clip.Format.CompressionType == COMPRESSION_FLOAT {
		formatTag = formatTagFloat
	}

	dataSize := uint32(len(clip.Frames))
	padSize := dataSize % 2
	blockAlign := uint16(clip.Format.FrameSize())
	byteRate := uint32(clip.Format.FrameRate) * uint32(blockAlign)

	var header bytes.Buffer

	header.WriteString(riffID)
	_ = binary.Write(&header, binary.LittleEndian, uint32(4+chunkHeaderSize+pcmFmtChunkSize+chunkHeaderSize)+dataSize+padSize)
	header.WriteString(waveID)
	header.WriteString(fmtChunkID)
	_ = binary.Write(&header, binary.LittleEndian, uint32(pcmFmtChunkSize))
	_ = binary.Write(&header, binary.LittleEndian, formatTag)
	_ = binary.Write(&header, binary.LittleEndian, uint16(clip.Format.Channels))
	_ = binary.Write(&header, binary.LittleEndian, uint32(clip.Format.FrameRate))
	_ = binary.Write(&header, binary.LittleEndian, byteRate)
	_ = binary.Write(&header, binary.LittleEndian, blockAlign)
	_ = binary.Write(&header, binary.LittleEndian, uint16(clip.Format.SampleWidth*bitsPerByte))
	header.WriteString(dataChunkID)
	_ = binary.Write(&header, binary.LittleEndian, dataSize)

	_, err := writer.Write(header.Bytes())
	if err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}

	_, err = writer.Write(clip.Frames)
	if err != nil {
		return fmt.Errorf("failed to write wav frames: %w", err)
	}

	if padSize == 1 {
		_, err = writer.Write([]byte{0})
		if err != nil {
			return fmt.Errorf("failed to write wav padding: %w", err)
		}
	}

	return nil
}

// WriteFile encodes the clip to path, removing the file again if encoding fails.
func WriteFile(path string, clip *Clip) (err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to create wav file %s: %w", path, err)
	}

	defer func() {
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close wav file %s: %w", path, closeErr)
		}

		if err != nil {
			_ = os.Remove(path)
		}
	}()

	writer := bufio.NewWriter(file)

	err = Encode(writer, clip)
	if err != nil {
		return err
	}

	err = writer.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush wav file %s: %w", path, err)
	}

	return nil
}
