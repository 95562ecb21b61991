package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Converter normalizes frame batches from one PCM format to another. It
// handles bit-depth and float/integer conversion, interleaved/planar layout
// changes, channel mapping, and sample-rate conversion by linear
// interpolation. A converter is built for one (input, output) format pair
// and reused across batches while the input format is stable.
type Converter struct {
	in  Format
	out Format
}

// NewConverter creates a converter for the given format pair
func NewConverter(in, out Format) (*Converter, error) {
	if err := in.Valid(); err != nil {
		return nil, fmt.Errorf("invalid input format: %w", err)
	}
	if err := out.Valid(); err != nil {
		return nil, fmt.Errorf("invalid output format: %w", err)
	}
	return &Converter{in: in, out: out}, nil
}

// Input returns the input format the converter was built for
func (c *Converter) Input() Format {
	return c.in
}

// Convert converts a batch in the input format to a new batch in the output
// format. When input and output sample rates are equal the output frame count
// is exactly the input frame count - conversion never drops or duplicates
// frames. When rates differ the frame count scales proportionally.
func (c *Converter) Convert(batch FrameBatch) (FrameBatch, error) {
	if !batch.Format.Equal(c.in) {
		return FrameBatch{}, fmt.Errorf("batch format %s does not match converter input %s", batch.Format, c.in)
	}
	if err := batch.Validate(); err != nil {
		return FrameBatch{}, fmt.Errorf("invalid batch: %w", err)
	}

	// Decode to planar float64, one slice per channel
	channels, err := c.decode(batch)
	if err != nil {
		return FrameBatch{}, err
	}

	// Map channel layout to the output channel count
	channels = mapChannels(channels, c.out.Channels)

	// Resample if the rates differ
	if c.in.SampleRate != c.out.SampleRate {
		for i := range channels {
			channels[i] = resampleLinear(channels[i], c.in.SampleRate, c.out.SampleRate)
		}
	}

	return c.encode(channels)
}

// decode extracts per-channel float64 samples from the batch buffers.
// Interleaved input uses a strided copy pulling one sample per channel per
// frame; planar input decodes each channel region directly. The stride is
// derived from the reported bits per sample and channel count.
func (c *Converter) decode(batch FrameBatch) ([][]float64, error) {
	bps := c.in.BytesPerSample()
	channels := make([][]float64, c.in.Channels)
	for ch := range channels {
		channels[ch] = make([]float64, batch.Frames)
	}

	if c.in.Interleaved {
		buf := batch.Data[0]
		stride := bps * c.in.Channels
		for i := 0; i < batch.Frames; i++ {
			base := i * stride
			for ch := 0; ch < c.in.Channels; ch++ {
				channels[ch][i] = decodeSample(buf[base+ch*bps:], c.in)
			}
		}
		return channels, nil
	}

	for ch := 0; ch < c.in.Channels; ch++ {
		buf := batch.Data[ch]
		for i := 0; i < batch.Frames; i++ {
			channels[ch][i] = decodeSample(buf[i*bps:], c.in)
		}
	}
	return channels, nil
}

// encode packs per-channel float64 samples into buffers in the output format
func (c *Converter) encode(channels [][]float64) (FrameBatch, error) {
	frames := 0
	if len(channels) > 0 {
		frames = len(channels[0])
	}
	bps := c.out.BytesPerSample()

	out := FrameBatch{Format: c.out, Frames: frames}
	if c.out.Interleaved {
		buf := make([]byte, frames*c.out.Channels*bps)
		stride := bps * c.out.Channels
		for i := 0; i < frames; i++ {
			base := i * stride
			for ch := 0; ch < c.out.Channels; ch++ {
				encodeSample(buf[base+ch*bps:], channels[ch][i], c.out)
			}
		}
		out.Data = [][]byte{buf}
		return out, nil
	}

	out.Data = make([][]byte, c.out.Channels)
	for ch := 0; ch < c.out.Channels; ch++ {
		buf := make([]byte, frames*bps)
		for i := 0; i < frames; i++ {
			encodeSample(buf[i*bps:], channels[ch][i], c.out)
		}
		out.Data[ch] = buf
	}
	return out, nil
}

// decodeSample reads one sample at the start of b and normalizes it to [-1, 1]
func decodeSample(b []byte, f Format) float64 {
	if f.Float {
		if f.BitsPerSample == 32 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	switch f.BitsPerSample {
	case 8:
		return float64(int8(b[0])) / 128.0
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768.0
	case 24:
		// Sign-extend the 24-bit little-endian value
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return float64(v) / 8388608.0
	default: // 32
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648.0
	}
}

// encodeSample writes one normalized sample at the start of b, clamping
// integer output to the representable range
func encodeSample(b []byte, v float64, f Format) {
	if f.Float {
		if f.BitsPerSample == 32 {
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		} else {
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		}
		return
	}
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	switch f.BitsPerSample {
	case 8:
		b[0] = byte(int8(clampInt(v*128.0, -128, 127)))
	case 16:
		binary.LittleEndian.PutUint16(b, uint16(int16(clampInt(v*32768.0, -32768, 32767))))
	case 24:
		n := clampInt(v*8388608.0, -8388608, 8388607)
		b[0] = byte(n)
		b[1] = byte(n >> 8)
		b[2] = byte(n >> 16)
	default: // 32
		binary.LittleEndian.PutUint32(b, uint32(int32(clampInt(v*2147483648.0, -2147483648, 2147483647))))
	}
}

func clampInt(v float64, min, max int64) int64 {
	n := int64(math.Round(v))
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// mapChannels adapts the decoded channel set to the target channel count.
// Mono input is duplicated across all output channels. When the input has
// more channels than the output, a mono target receives the average of all
// input channels and a multi-channel target takes the first N channels.
// When the input has fewer channels, the last input channel is repeated.
func mapChannels(in [][]float64, outChannels int) [][]float64 {
	if len(in) == outChannels {
		return in
	}

	out := make([][]float64, outChannels)
	switch {
	case len(in) == 1:
		for ch := range out {
			out[ch] = in[0]
		}
	case len(in) > outChannels:
		if outChannels == 1 {
			frames := len(in[0])
			mixed := make([]float64, frames)
			for i := 0; i < frames; i++ {
				var sum float64
				for ch := range in {
					sum += in[ch][i]
				}
				mixed[i] = sum / float64(len(in))
			}
			out[0] = mixed
		} else {
			copy(out, in[:outChannels])
		}
	default:
		copy(out, in)
		for ch := len(in); ch < outChannels; ch++ {
			out[ch] = in[len(in)-1]
		}
	}
	return out
}

// resampleLinear converts a channel between sample rates by linear
// interpolation. The output length scales proportionally with the rate ratio.
func resampleLinear(in []float64, inRate, outRate float64) []float64 {
	if len(in) == 0 {
		return nil
	}
	outLen := int(math.Round(float64(len(in)) * outRate / inRate))
	if outLen == 0 {
		return nil
	}
	out := make([]float64, outLen)
	step := inRate / outRate
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out
}
