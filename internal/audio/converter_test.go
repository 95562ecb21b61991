package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func int16Interleaved(rate float64, channels int, samples []int16) FrameBatch {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return FrameBatch{
		Format: Format{SampleRate: rate, Channels: channels, BitsPerSample: 16, Interleaved: true},
		Frames: len(samples) / channels,
		Data:   [][]byte{buf},
	}
}

func int16Planar(rate float64, perChannel [][]int16) FrameBatch {
	data := make([][]byte, len(perChannel))
	for ch, samples := range perChannel {
		buf := make([]byte, len(samples)*2)
		for i, s := range samples {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
		}
		data[ch] = buf
	}
	return FrameBatch{
		Format: Format{SampleRate: rate, Channels: len(perChannel), BitsPerSample: 16, Interleaved: false},
		Frames: len(perChannel[0]),
		Data:   data,
	}
}

func readInt16(t *testing.T, buf []byte, idx int) int16 {
	t.Helper()
	return int16(binary.LittleEndian.Uint16(buf[idx*2:]))
}

func TestConvertLosslessFrameAccounting(t *testing.T) {
	// At equal sample rates the output frame count must exactly equal the
	// input frame count, regardless of depth, layout, or channel mapping.
	inputs := []Format{
		{SampleRate: 48000, Channels: 1, BitsPerSample: 16, Interleaved: true},
		{SampleRate: 48000, Channels: 2, BitsPerSample: 16, Interleaved: true},
		{SampleRate: 48000, Channels: 2, BitsPerSample: 24, Interleaved: false},
		{SampleRate: 48000, Channels: 2, BitsPerSample: 32, Float: true, Interleaved: true},
		{SampleRate: 48000, Channels: 4, BitsPerSample: 32, Float: true, Interleaved: false},
		{SampleRate: 48000, Channels: 1, BitsPerSample: 8, Interleaved: true},
	}
	out := CaptureSinkFormat(48000, 2)

	const frames = 480
	for _, in := range inputs {
		conv, err := NewConverter(in, out)
		if err != nil {
			t.Fatalf("NewConverter(%s): %v", in, err)
		}

		batch := FrameBatch{Format: in, Frames: frames}
		if in.Interleaved {
			batch.Data = [][]byte{make([]byte, frames*in.Channels*in.BytesPerSample())}
		} else {
			batch.Data = make([][]byte, in.Channels)
			for ch := range batch.Data {
				batch.Data[ch] = make([]byte, frames*in.BytesPerSample())
			}
		}

		got, err := conv.Convert(batch)
		if err != nil {
			t.Fatalf("Convert(%s): %v", in, err)
		}
		if got.Frames != frames {
			t.Errorf("input %s: got %d frames, want %d", in, got.Frames, frames)
		}
		if want := frames * out.Channels * out.BytesPerSample(); len(got.Data[0]) != want {
			t.Errorf("input %s: got %d output bytes, want %d", in, len(got.Data[0]), want)
		}
	}
}

func TestConvertInterleavedPlanarEquivalence(t *testing.T) {
	// The same samples fed interleaved and planar must produce
	// byte-identical output.
	left := []int16{100, 200, 300, 400}
	right := []int16{-100, -200, -300, -400}
	interleaved := int16Interleaved(48000, 2, []int16{100, -100, 200, -200, 300, -300, 400, -400})
	planar := int16Planar(48000, [][]int16{left, right})

	out := Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16, Interleaved: true}

	convA, err := NewConverter(interleaved.Format, out)
	if err != nil {
		t.Fatal(err)
	}
	convB, err := NewConverter(planar.Format, out)
	if err != nil {
		t.Fatal(err)
	}

	gotA, err := convA.Convert(interleaved)
	if err != nil {
		t.Fatal(err)
	}
	gotB, err := convB.Convert(planar)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(gotA.Data[0], gotB.Data[0]) {
		t.Errorf("interleaved and planar outputs differ:\n%v\n%v", gotA.Data[0], gotB.Data[0])
	}
}

func TestConvertMonoDuplicatesToStereo(t *testing.T) {
	batch := int16Interleaved(48000, 1, []int16{1000, -2000, 3000})
	out := Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16, Interleaved: true}

	conv, err := NewConverter(batch.Format, out)
	if err != nil {
		t.Fatal(err)
	}
	got, err := conv.Convert(batch)
	if err != nil {
		t.Fatal(err)
	}

	if got.Frames != 3 {
		t.Fatalf("got %d frames, want 3", got.Frames)
	}
	for i := 0; i < got.Frames; i++ {
		l := readInt16(t, got.Data[0], i*2)
		r := readInt16(t, got.Data[0], i*2+1)
		if l != r {
			t.Errorf("frame %d: left %d != right %d", i, l, r)
		}
	}
}

func TestConvertDownmixToMonoAverages(t *testing.T) {
	batch := int16Interleaved(48000, 2, []int16{1000, 3000, -2000, -4000})
	out := Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16, Interleaved: true}

	conv, err := NewConverter(batch.Format, out)
	if err != nil {
		t.Fatal(err)
	}
	got, err := conv.Convert(batch)
	if err != nil {
		t.Fatal(err)
	}

	want := []int16{2000, -3000}
	for i, w := range want {
		if v := readInt16(t, got.Data[0], i); v != w {
			t.Errorf("frame %d: got %d, want %d", i, v, w)
		}
	}
}

func TestConvertResampleScalesFrameCount(t *testing.T) {
	samples := make([]int16, 960)
	batch := int16Interleaved(48000, 1, samples)
	out := Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16, Interleaved: true}

	conv, err := NewConverter(batch.Format, out)
	if err != nil {
		t.Fatal(err)
	}
	got, err := conv.Convert(batch)
	if err != nil {
		t.Fatal(err)
	}

	if got.Frames != 480 {
		t.Errorf("got %d frames, want 480", got.Frames)
	}
}

func TestConvertClampsIntegerOutput(t *testing.T) {
	// Float samples beyond [-1, 1] must clamp, not wrap.
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(2.0))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(-2.0))
	batch := FrameBatch{
		Format: Format{SampleRate: 48000, Channels: 1, BitsPerSample: 32, Float: true, Interleaved: true},
		Frames: 2,
		Data:   [][]byte{buf},
	}
	out := Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16, Interleaved: true}

	conv, err := NewConverter(batch.Format, out)
	if err != nil {
		t.Fatal(err)
	}
	got, err := conv.Convert(batch)
	if err != nil {
		t.Fatal(err)
	}

	if v := readInt16(t, got.Data[0], 0); v != 32767 {
		t.Errorf("positive overflow: got %d, want 32767", v)
	}
	if v := readInt16(t, got.Data[0], 1); v != -32768 {
		t.Errorf("negative overflow: got %d, want -32768", v)
	}
}

func TestConvertRejectsFormatMismatch(t *testing.T) {
	batch := int16Interleaved(48000, 1, []int16{0})
	conv, err := NewConverter(Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16, Interleaved: true}, CaptureSinkFormat(48000, 2))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Convert(batch); err == nil {
		t.Error("expected error for mismatched batch format")
	}
}

func TestFormatValid(t *testing.T) {
	cases := []struct {
		format  Format
		wantErr bool
	}{
		{Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}, false},
		{Format{SampleRate: 48000, Channels: 2, BitsPerSample: 24}, false},
		{Format{SampleRate: 48000, Channels: 2, BitsPerSample: 32, Float: true}, false},
		{Format{SampleRate: 48000, Channels: 2, BitsPerSample: 64, Float: true}, false},
		{Format{SampleRate: 0, Channels: 2, BitsPerSample: 16}, true},
		{Format{SampleRate: 48000, Channels: 0, BitsPerSample: 16}, true},
		{Format{SampleRate: 48000, Channels: 2, BitsPerSample: 12}, true},
		{Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16, Float: true}, true},
	}
	for _, tc := range cases {
		err := tc.format.Valid()
		if (err != nil) != tc.wantErr {
			t.Errorf("Valid(%s): err=%v, wantErr=%v", tc.format, err, tc.wantErr)
		}
	}
}
