package audio

import "fmt"

// Format describes the PCM encoding of a frame batch: sample rate, channel
// count, bit depth, float vs integer samples, and interleaved vs planar layout.
type Format struct {
	SampleRate    float64 // Sample rate in Hz
	Channels      int     // Channel count (>= 1)
	BitsPerSample int     // Bits per sample per channel
	Float         bool    // true = IEEE float samples, false = signed integer PCM
	Interleaved   bool    // true = frames store consecutive channel samples together
}

// Equal reports whether two formats are bit-exact matches
func (f Format) Equal(o Format) bool {
	return f.SampleRate == o.SampleRate &&
		f.Channels == o.Channels &&
		f.BitsPerSample == o.BitsPerSample &&
		f.Float == o.Float &&
		f.Interleaved == o.Interleaved
}

// BytesPerSample returns the byte width of a single sample
func (f Format) BytesPerSample() int {
	return f.BitsPerSample / 8
}

// Valid checks that the format describes a PCM encoding the converter supports
func (f Format) Valid() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %g", f.SampleRate)
	}
	if f.Channels < 1 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.Float {
		if f.BitsPerSample != 32 && f.BitsPerSample != 64 {
			return fmt.Errorf("unsupported float bit depth: %d (allowed: 32, 64)", f.BitsPerSample)
		}
	} else {
		switch f.BitsPerSample {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("unsupported integer bit depth: %d (allowed: 8, 16, 24, 32)", f.BitsPerSample)
		}
	}
	return nil
}

func (f Format) String() string {
	enc := "int"
	if f.Float {
		enc = "float"
	}
	layout := "planar"
	if f.Interleaved {
		layout = "interleaved"
	}
	return fmt.Sprintf("%gHz/%dch/%dbit %s %s", f.SampleRate, f.Channels, f.BitsPerSample, enc, layout)
}

// CaptureSinkFormat is the fixed output format of the system-audio capture
// pipeline: 32-bit float, 48 kHz, stereo, interleaved linear PCM.
func CaptureSinkFormat(sampleRate, channels int) Format {
	return Format{
		SampleRate:    float64(sampleRate),
		Channels:      channels,
		BitsPerSample: 32,
		Float:         true,
		Interleaved:   true,
	}
}

// FrameBatch is an immutable block of decoded samples plus its format and
// frame count. Planar batches carry one buffer per channel in Data; an
// interleaved batch carries a single buffer in Data[0].
type FrameBatch struct {
	Format Format
	Frames int
	Data   [][]byte
}

// Validate checks the batch buffers against the declared format and frame count
func (b FrameBatch) Validate() error {
	if err := b.Format.Valid(); err != nil {
		return err
	}
	if b.Frames < 0 {
		return fmt.Errorf("invalid frame count: %d", b.Frames)
	}
	bps := b.Format.BytesPerSample()
	if b.Format.Interleaved {
		if len(b.Data) != 1 {
			return fmt.Errorf("interleaved batch must carry exactly one buffer, got %d", len(b.Data))
		}
		if want := b.Frames * b.Format.Channels * bps; len(b.Data[0]) < want {
			return fmt.Errorf("interleaved buffer too short: have %d bytes, need %d", len(b.Data[0]), want)
		}
		return nil
	}
	if len(b.Data) != b.Format.Channels {
		return fmt.Errorf("planar batch must carry one buffer per channel: have %d, need %d", len(b.Data), b.Format.Channels)
	}
	for ch, buf := range b.Data {
		if want := b.Frames * bps; len(buf) < want {
			return fmt.Errorf("planar buffer for channel %d too short: have %d bytes, need %d", ch, len(buf), want)
		}
	}
	return nil
}
