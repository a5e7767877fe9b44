package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// WAVHeader represents the canonical 44-byte header written by EncodeWAV
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// fmtChunk is the PCM part of a "fmt " chunk; extension bytes are skipped
type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// ErrInvalidWAV is returned for data that is not a mono PCM-16 WAV file
var ErrInvalidWAV = errors.New("invalid WAV data")

// EncodeWAV wraps the buffer payload in a canonical PCM WAV container
func EncodeWAV(buf Buffer) ([]byte, error) {
	if buf.IsEmpty() {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if buf.sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", buf.sampleRate)
	}

	dataSize := uint32(len(buf.data))
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   Channels,
		SampleRate:    uint32(buf.sampleRate),
		ByteRate:      uint32(buf.sampleRate) * Channels * BitDepth / 8,
		BlockAlign:    Channels * BitDepth / 8,
		BitsPerSample: BitDepth,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	out := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(buf.data)))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	// The payload is already little-endian PCM, no per-sample conversion needed
	out.Write(buf.data)

	return out.Bytes(), nil
}

// DecodeWAV parses a RIFF/WAVE file into a Buffer.
// Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped, so files
// written by ffmpeg decode as well as canonical 44-byte headers do.
func DecodeWAV(data []byte) (Buffer, error) {
	if len(data) < 12 {
		return Buffer{}, fmt.Errorf("%w: need at least 12 bytes, got %d", ErrInvalidWAV, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return Buffer{}, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}

	if string(data[8:12]) != "WAVE" {
		return Buffer{}, fmt.Errorf("%w: missing WAVE format", ErrInvalidWAV)
	}

	var (
		format  *fmtChunk
		payload []byte
		found   bool
	)

	r := bytes.NewReader(data[12:])
	for !found {
		var id [4]byte
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Buffer{}, fmt.Errorf("%w: truncated chunk header: %v", ErrInvalidWAV, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return Buffer{}, fmt.Errorf("%w: truncated chunk header: %v", ErrInvalidWAV, err)
		}

		offset := len(data) - r.Len()
		switch string(id[:]) {
		case "fmt ":
			if size < 16 {
				return Buffer{}, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrInvalidWAV, size)
			}
			var fc fmtChunk
			if err := binary.Read(r, binary.LittleEndian, &fc); err != nil {
				return Buffer{}, fmt.Errorf("%w: failed to read fmt chunk: %v", ErrInvalidWAV, err)
			}
			format = &fc
			if _, err := r.Seek(int64(offset)+int64(size)+int64(size&1)-12, io.SeekStart); err != nil {
				return Buffer{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
		case "data":
			// Streamed WAVs may carry a placeholder size; clamp to what is present
			end := offset + int(size)
			if size == 0 || end > len(data) || end < offset {
				end = len(data)
			}
			payload = data[offset:end]
			found = true
		default:
			skip := int64(size) + int64(size&1)
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return Buffer{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
		}
	}

	if format == nil {
		return Buffer{}, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}

	if !found {
		return Buffer{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}

	if format.AudioFormat != 1 {
		return Buffer{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format.AudioFormat)
	}

	if format.BitsPerSample != BitDepth {
		return Buffer{}, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.BitsPerSample)
	}

	if format.NumChannels != Channels {
		return Buffer{}, fmt.Errorf("unsupported channel count: %d (only mono is supported)", format.NumChannels)
	}

	// Drop a dangling odd byte rather than reject the whole file
	payload = payload[:len(payload)-len(payload)%bytesPerSample]

	return NewBuffer(int(format.SampleRate), payload)
}
