package recorder

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/voxd/voxd/pkg/logger"
)

// PortAudioEngine opens microphone streams through PortAudio
type PortAudioEngine struct {
	logger *logger.Logger
}

// NewPortAudioEngine creates a PortAudio-backed engine
func NewPortAudioEngine(log *logger.Logger) *PortAudioEngine {
	return &PortAudioEngine{logger: log.Named("portaudio-engine")}
}

// Open initializes PortAudio and opens a mono int16 input stream. A non-empty
// device name selects the first input device whose name contains it
// (case-insensitive); "" uses the OS default input device.
func (e *PortAudioEngine) Open(device string, sampleRate, framesPerBuffer int) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio subsystem: %w", err)
	}

	in := make([]int16, framesPerBuffer)

	var stream *portaudio.Stream
	var err error
	if device == "" {
		stream, err = portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, in)
	} else {
		var info *portaudio.DeviceInfo
		info, err = e.findInputDevice(device)
		if err == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   info,
					Channels: 1,
					Latency:  info.DefaultLowInputLatency,
				},
				SampleRate:      float64(sampleRate),
				FramesPerBuffer: framesPerBuffer,
			}
			stream, err = portaudio.OpenStream(params, &in)
		}
	}
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input device: %w", err)
	}

	e.logger.Debug("Opened microphone stream",
		logger.String("device", device),
		logger.Int("sample_rate", sampleRate))

	return &portAudioStream{stream: stream, buffer: in}, nil
}

// findInputDevice locates an input device by name substring
func (e *PortAudioEngine) findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, device := range devices {
		if device.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), strings.ToLower(name)) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}

// ListInputDevices returns the names of all available input devices
func (e *PortAudioEngine) ListInputDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio subsystem: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	var names []string
	for _, device := range devices {
		if device.MaxInputChannels > 0 {
			names = append(names, device.Name)
		}
	}
	return names, nil
}

// portAudioStream adapts a portaudio.Stream to the Stream interface
type portAudioStream struct {
	stream *portaudio.Stream
	buffer []int16
}

func (s *portAudioStream) Start() error {
	return s.stream.Start()
}

func (s *portAudioStream) Read() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	out := make([]int16, len(s.buffer))
	copy(out, s.buffer)
	return out, nil
}

func (s *portAudioStream) Stop() error {
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	err := s.stream.Close()
	portaudio.Terminate()
	return err
}
