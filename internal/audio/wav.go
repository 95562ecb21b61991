package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavHeader is the 44-byte RIFF/WAVE header written ahead of the sample data
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 = integer PCM, 3 = IEEE float
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data chunk
}

const wavHeaderSize = 44

// WAVSink stream-writes converted frame batches to a RIFF/WAVE file. The
// header is written with zero sizes up front and patched on Close once the
// final data length is known. The sink format must be interleaved.
type WAVSink struct {
	file   *os.File
	path   string
	format Format
	frames int64
	closed bool
}

// NewWAVSink creates the destination file and writes a provisional header
func NewWAVSink(path string, format Format) (*WAVSink, error) {
	if err := format.Valid(); err != nil {
		return nil, fmt.Errorf("invalid sink format: %w", err)
	}
	if !format.Interleaved {
		return nil, fmt.Errorf("sink format must be interleaved, got %s", format)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	s := &WAVSink{file: file, path: path, format: format}
	if err := s.writeHeader(0); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return s, nil
}

// writeHeader writes the RIFF header for the given data length at offset 0
func (s *WAVSink) writeHeader(dataSize uint32) error {
	audioFormat := uint16(1)
	if s.format.Float {
		audioFormat = 3
	}
	channels := uint16(s.format.Channels)
	bits := uint16(s.format.BitsPerSample)
	rate := uint32(s.format.SampleRate)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   audioFormat,
		NumChannels:   channels,
		SampleRate:    rate,
		ByteRate:      rate * uint32(channels) * uint32(bits) / 8,
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to encode WAV header: %w", err)
	}
	if _, err := s.file.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}

// WriteBatch appends an interleaved batch that already matches the sink format
func (s *WAVSink) WriteBatch(batch FrameBatch) error {
	if s.closed {
		return fmt.Errorf("sink is closed")
	}
	if !batch.Format.Equal(s.format) {
		return fmt.Errorf("batch format %s does not match sink format %s", batch.Format, s.format)
	}
	n := batch.Frames * s.format.Channels * s.format.BytesPerSample()
	if _, err := s.file.Write(batch.Data[0][:n]); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	s.frames += int64(batch.Frames)
	return nil
}

// Frames returns the number of frames written so far
func (s *WAVSink) Frames() int64 {
	return s.frames
}

// Path returns the destination file path
func (s *WAVSink) Path() string {
	return s.path
}

// Close patches the header sizes and closes the file. Safe to call twice.
func (s *WAVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	dataSize := uint32(s.frames) * uint32(s.format.Channels) * uint32(s.format.BytesPerSample())
	if err := s.writeHeader(dataSize); err != nil {
		s.file.Close()
		return err
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush output file: %w", err)
	}
	return s.file.Close()
}

// WritePCM16File writes 16-bit integer samples (mono or interleaved) to a
// WAV file. Used by the microphone recorder, which accumulates int16 frames
// in memory and persists them when the recording stops.
func WritePCM16File(path string, samples []int16, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i := range samples {
		buf.Data[i] = int(samples[i])
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("failed to write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return nil
}
