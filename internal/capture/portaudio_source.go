package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/voxd/voxd/internal/audio"
	"github.com/voxd/voxd/pkg/logger"
)

// loopbackHints match input devices that expose the system output as a
// capture source (PulseAudio monitors, WASAPI "Stereo Mix", virtual loopback
// drivers).
var loopbackHints = []string{"monitor", "loopback", "stereo mix", "blackhole", "soundflower"}

const sourceFramesPerBuffer = 1024

// PortAudioSource captures system audio through a loopback/monitor input
// device. Batches are delivered as 32-bit float interleaved PCM at the
// device's native sample rate and channel count.
type PortAudioSource struct {
	deviceHint string
	logger     *logger.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool
	done    chan struct{}
}

// NewPortAudioSource creates a source. deviceHint is a case-insensitive
// substring of the desired device name; "" auto-detects a loopback device.
func NewPortAudioSource(deviceHint string, log *logger.Logger) *PortAudioSource {
	return &PortAudioSource{
		deviceHint: deviceHint,
		logger:     log.Named("portaudio-source"),
	}
}

// Start opens the loopback device and begins delivering batches on a
// dedicated goroutine until Stop is called or a read error occurs.
func (p *PortAudioSource) Start(onBatch func(audio.FrameBatch), onError func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamCreationFailed, err)
	}

	device, err := p.findDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	channels := device.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	sampleRate := device.DefaultSampleRate

	p.logger.Info("Opening capture device",
		logger.String("device", device.Name),
		logger.Float64("sample_rate", sampleRate),
		logger.Int("channels", channels))

	in := make([]float32, sourceFramesPerBuffer*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: sourceFramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, &in)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrStreamCreationFailed, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrStreamCreationFailed, err)
	}

	format := audio.Format{
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: 32,
		Float:         true,
		Interleaved:   true,
	}

	p.stream = stream
	p.running = true
	p.done = make(chan struct{})

	go p.deliverLoop(in, format, onBatch, onError)
	return nil
}

// deliverLoop reads buffers from the stream and hands them to the session.
// Each batch gets its own copy of the data - the read buffer is reused.
func (p *PortAudioSource) deliverLoop(in []float32, format audio.Format, onBatch func(audio.FrameBatch), onError func(error)) {
	defer close(p.done)

	for {
		p.mu.Lock()
		running := p.running
		stream := p.stream
		p.mu.Unlock()
		if !running {
			return
		}

		if err := stream.Read(); err != nil {
			p.mu.Lock()
			stillRunning := p.running
			p.mu.Unlock()
			if stillRunning {
				onError(fmt.Errorf("capture stream read failed: %w", err))
			}
			return
		}

		data := make([]byte, len(in)*4)
		for i, sample := range in {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(sample))
		}
		onBatch(audio.FrameBatch{
			Format: format,
			Frames: len(in) / format.Channels,
			Data:   [][]byte{data},
		})
	}
}

// Stop ends delivery and releases the stream
func (p *PortAudioSource) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stream := p.stream
	p.stream = nil
	done := p.done
	p.mu.Unlock()

	stopErr := stream.Stop()
	closeErr := stream.Close()
	<-done
	portaudio.Terminate()

	if stopErr != nil {
		return fmt.Errorf("failed to stop capture stream: %w", stopErr)
	}
	return closeErr
}

// findDevice locates an input device matching the configured hint, falling
// back to known loopback device names when no hint is set
func (p *PortAudioSource) findDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSourceFound, err)
	}

	hints := loopbackHints
	if p.deviceHint != "" {
		hints = []string{p.deviceHint}
	}

	for _, hint := range hints {
		for _, device := range devices {
			if device.MaxInputChannels < 1 {
				continue
			}
			if strings.Contains(strings.ToLower(device.Name), strings.ToLower(hint)) {
				return device, nil
			}
		}
	}
	return nil, ErrNoSourceFound
}
