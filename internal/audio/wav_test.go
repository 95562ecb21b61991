package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWAVSinkPatchesHeaderOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	format := CaptureSinkFormat(48000, 2)

	sink, err := NewWAVSink(path, format)
	if err != nil {
		t.Fatal(err)
	}

	const frames = 100
	batch := FrameBatch{
		Format: format,
		Frames: frames,
		Data:   [][]byte{make([]byte, frames*format.Channels*format.BytesPerSample())},
	}
	if err := sink.WriteBatch(batch); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	dataSize := uint32(frames * format.Channels * format.BytesPerSample())
	if got := len(data); got != int(wavHeaderSize+dataSize) {
		t.Fatalf("file size %d, want %d", got, wavHeaderSize+dataSize)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(data[4:]); got != 36+dataSize {
		t.Errorf("chunk size %d, want %d", got, 36+dataSize)
	}
	// Float PCM
	if got := binary.LittleEndian.Uint16(data[20:]); got != 3 {
		t.Errorf("audio format %d, want 3", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:]); got != 2 {
		t.Errorf("channels %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:]); got != 48000 {
		t.Errorf("sample rate %d, want 48000", got)
	}
	if got := binary.LittleEndian.Uint32(data[40:]); got != dataSize {
		t.Errorf("data chunk size %d, want %d", got, dataSize)
	}
}

func TestWAVSinkRejectsMismatchedBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink, err := NewWAVSink(path, CaptureSinkFormat(48000, 2))
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	batch := FrameBatch{
		Format: Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Interleaved: true},
		Frames: 1,
		Data:   [][]byte{make([]byte, 4)},
	}
	if err := sink.WriteBatch(batch); err == nil {
		t.Error("expected error for mismatched batch format")
	}
}

func TestWAVSinkRequiresInterleavedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	planar := Format{SampleRate: 48000, Channels: 2, BitsPerSample: 32, Float: true, Interleaved: false}
	if _, err := NewWAVSink(path, planar); err == nil {
		t.Error("expected error for planar sink format")
	}
}

func TestWritePCM16File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	samples := []int16{0, 1000, -1000, 32767, -32768}

	if err := WritePCM16File(path, samples, 16000, 1); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) <= wavHeaderSize {
		t.Fatalf("file too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
}
