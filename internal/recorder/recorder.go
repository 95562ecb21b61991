package recorder

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxd/voxd/internal/audio"
	"github.com/voxd/voxd/internal/permission"
	"github.com/voxd/voxd/pkg/logger"
)

// Recording errors
var (
	// ErrRecordingFailed indicates the underlying recorder could not start
	// or no recording was active when one was required
	ErrRecordingFailed = errors.New("recording failed")
	// ErrPermissionDenied indicates the microphone permission was not granted
	ErrPermissionDenied = errors.New("microphone permission not granted")
)

// Quality selects the recording sample rate tier
type Quality string

const (
	QualityHigh   Quality = "high"   // 48 kHz
	QualityMedium Quality = "medium" // 24 kHz
	QualityLow    Quality = "low"    // 16 kHz
)

// SampleRate returns the sample rate in Hz for the tier
func (q Quality) SampleRate() int {
	switch q {
	case QualityMedium:
		return 24000
	case QualityLow:
		return 16000
	default:
		return 48000
	}
}

const recorderFramesPerBuffer = 1024

// Recorder records from a microphone into a single-channel 16-bit PCM WAV
// file. One recording may be active at a time; Start while active is a
// no-op. Stop returns the finished file contents and deletes the temp file.
type Recorder struct {
	engine        Engine
	perms         permission.Checker
	tempDir       string
	meterInterval time.Duration
	logger        *logger.Logger

	mu         sync.Mutex
	active     bool
	stream     Stream
	stopCh     chan struct{}
	doneCh     chan struct{}
	samples    []int16
	sampleRate int
	readErr    error
	onLevel    func(float64)
}

// New creates a recorder. tempDir is where in-progress recordings are
// written ("" = OS temp dir); meterInterval controls RMS level callbacks.
func New(engine Engine, perms permission.Checker, tempDir string, meterInterval time.Duration, log *logger.Logger) *Recorder {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if meterInterval <= 0 {
		meterInterval = 100 * time.Millisecond
	}
	return &Recorder{
		engine:        engine,
		perms:         perms,
		tempDir:       tempDir,
		meterInterval: meterInterval,
		logger:        log.Named("recorder"),
	}
}

// SetLevelHandler registers a callback receiving a normalized RMS input
// level in [0, 1] at the metering interval. UI feedback only.
func (r *Recorder) SetLevelHandler(handler func(float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLevel = handler
}

// Start opens the input device and begins recording. No-op if a recording
// is already active. The device choice is read once here - changing the
// configured device mid-recording takes effect on the next session.
func (r *Recorder) Start(device string, quality Quality) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return nil
	}

	if !r.perms.EnsureMicrophone() {
		return ErrPermissionDenied
	}

	sampleRate := quality.SampleRate()
	r.logger.Info("Starting microphone recording",
		logger.String("device", device),
		logger.String("quality", string(quality)),
		logger.Int("sample_rate", sampleRate))

	stream, err := r.engine.Open(device, sampleRate, recorderFramesPerBuffer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecordingFailed, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: %v", ErrRecordingFailed, err)
	}

	r.stream = stream
	r.samples = r.samples[:0]
	r.sampleRate = sampleRate
	r.readErr = nil
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.active = true

	go r.readLoop(stream, r.stopCh, r.doneCh)
	return nil
}

// readLoop pulls buffers from the stream until stopped, accumulating
// samples and emitting RMS levels at the metering interval
func (r *Recorder) readLoop(stream Stream, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	var sumSquares float64
	var meterCount int
	lastMeter := time.Now()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		buf, err := stream.Read()
		if err != nil {
			// A read error after Stop was requested is the stream
			// shutting down, not a failure
			select {
			case <-stopCh:
			default:
				r.mu.Lock()
				r.readErr = err
				r.mu.Unlock()
				r.logger.Warn("Microphone read failed", logger.Error(err))
			}
			return
		}

		r.mu.Lock()
		r.samples = append(r.samples, buf...)
		handler := r.onLevel
		r.mu.Unlock()

		for _, sample := range buf {
			v := float64(sample) / 32768.0
			sumSquares += v * v
		}
		meterCount += len(buf)

		if handler != nil && time.Since(lastMeter) >= r.meterInterval && meterCount > 0 {
			handler(math.Sqrt(sumSquares / float64(meterCount)))
			sumSquares = 0
			meterCount = 0
			lastMeter = time.Now()
		}
	}
}

// Stop ends the recording, persists the samples as a WAV file, reads the
// file back into memory, deletes it, and returns the bytes. Fails if no
// recording is active.
func (r *Recorder) Stop() ([]byte, error) {
	samples, sampleRate, err := r.finish()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(r.tempDir, fmt.Sprintf("voxd-rec-%s.wav", uuid.New().String()))
	if err := audio.WritePCM16File(path, samples, sampleRate, 1); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrRecordingFailed, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrRecordingFailed, err)
	}
	if err := os.Remove(path); err != nil {
		r.logger.Warn("Failed to delete temp recording", logger.String("path", path), logger.Error(err))
	}

	r.logger.Info("Recording finished",
		logger.Int("samples", len(samples)),
		logger.Int("bytes", len(data)))
	return data, nil
}

// Cancel stops and discards the recording without returning data.
// Always safe to call, active recording or not.
func (r *Recorder) Cancel() {
	if _, _, err := r.finish(); err == nil {
		r.logger.Info("Recording canceled")
	}
}

// Active reports whether a recording is in progress
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// finish stops the stream synchronously, waits for the read loop to drain,
// and returns the accumulated samples
func (r *Recorder) finish() ([]int16, int, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil, 0, fmt.Errorf("%w: no active recording", ErrRecordingFailed)
	}
	r.active = false
	stream := r.stream
	r.stream = nil
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()

	// Stop the OS stream first so a blocked read returns, then signal the
	// loop and wait for it to drain
	if err := stream.Stop(); err != nil {
		r.logger.Warn("Error stopping microphone stream", logger.Error(err))
	}
	close(stopCh)
	<-doneCh
	if err := stream.Close(); err != nil {
		r.logger.Warn("Error closing microphone stream", logger.Error(err))
	}

	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	sampleRate := r.sampleRate
	readErr := r.readErr
	r.mu.Unlock()

	if readErr != nil && len(samples) == 0 {
		return nil, 0, fmt.Errorf("%w: %v", ErrRecordingFailed, readErr)
	}
	return samples, sampleRate, nil
}
