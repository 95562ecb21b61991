// Package session orchestrates the dictation and meeting-capture flows:
// it owns the state machine, wires the recorder, capture session,
// transcription client, output sink and history store together, and
// broadcasts state over the WebSocket hub.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxd/voxd/internal/capture"
	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/output"
	"github.com/voxd/voxd/internal/recorder"
	"github.com/voxd/voxd/internal/storage/sqlite"
	"github.com/voxd/voxd/internal/transcription"
	"github.com/voxd/voxd/internal/websocket"
	"github.com/voxd/voxd/pkg/logger"
)

// State is the dictation state machine state
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
	StateDelivering   State = "delivering"
	StateError        State = "error"
)

// How long the error state is shown before reverting to idle
const errorRevertDelay = 2 * time.Second

// ErrBusy indicates a dictation operation was requested while the
// pipeline is mid-flight (transcribing or delivering).
var ErrBusy = errors.New("a transcription is already in progress")

// Transcriber turns a WAV recording into text
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte, filename string) (*transcription.Result, error)
}

// Sink delivers finished text to the desktop
type Sink interface {
	Deliver(text string) error
	NotifySuccess(text string)
	NotifyError(message string)
}

// History persists finished transcripts. May be nil when history is disabled.
type History interface {
	StoreTranscript(record *sqlite.TranscriptRecord) (int64, error)
	GetTranscripts(limit, offset int) ([]*sqlite.TranscriptRecord, error)
}

// Broadcaster pushes events to connected UI clients
type Broadcaster interface {
	Broadcast(message *websocket.Message)
}

// Status is a snapshot of the service state for the /status endpoint
type Status struct {
	State     State  `json:"state"`
	Capturing bool   `json:"capturing"`
	LastError string `json:"last_error,omitempty"`
}

// Service is the dictation and meeting-capture orchestrator
type Service struct {
	config      *config.Config
	recorder    *recorder.Recorder
	capture     *capture.Session
	transcriber Transcriber
	sink        Sink
	history     History
	broadcaster Broadcaster
	logger      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	lastError   string
	recordStart time.Time
	errorTimer  *time.Timer
}

// NewService creates the orchestrator. history and broadcaster may be nil.
func NewService(
	cfg *config.Config,
	rec *recorder.Recorder,
	capt *capture.Session,
	transcriber Transcriber,
	sink Sink,
	history History,
	broadcaster Broadcaster,
	log *logger.Logger,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:      cfg,
		recorder:    rec,
		capture:     capt,
		transcriber: transcriber,
		sink:        sink,
		history:     history,
		broadcaster: broadcaster,
		logger:      log.Named("session"),
		ctx:         ctx,
		cancel:      cancel,
		state:       StateIdle,
	}

	// Mic level events while recording
	rec.SetLevelHandler(func(level float64) {
		s.broadcastEvent(websocket.MessageTypeLevel, map[string]any{"level": level})
	})

	// Fatal capture stream errors surface asynchronously
	capt.SetErrorHandler(func(err error) {
		s.logger.Error("Capture stream failed", logger.Error(err))
		s.sink.NotifyError("Meeting capture stopped: audio stream failed")
		s.broadcastEvent(websocket.MessageTypeError, map[string]any{
			"message": "capture stream failed",
		})
	})

	return s
}

// Close stops background work. Active recordings are cancelled.
func (s *Service) Close() {
	s.cancel()

	s.mu.Lock()
	if s.errorTimer != nil {
		s.errorTimer.Stop()
	}
	s.mu.Unlock()

	s.recorder.Cancel()
	if _, err := s.capture.Stop(); err != nil {
		s.logger.Warn("Capture stop during shutdown failed", logger.Error(err))
	}
}

// Status returns a snapshot of the current state
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:     s.state,
		Capturing: s.capture.Active(),
		LastError: s.lastError,
	}
}

// StartDictation starts microphone recording. Starting while already
// recording is a no-op; starting mid-pipeline returns ErrBusy.
func (s *Service) StartDictation() error {
	s.mu.Lock()
	switch s.state {
	case StateRecording:
		s.mu.Unlock()
		return nil
	case StateTranscribing, StateDelivering:
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	quality := recorder.Quality(s.config.Recording.Quality)
	if err := s.recorder.Start(s.config.Recording.Device, quality); err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.recordStart = time.Now()
	s.mu.Unlock()
	s.setState(StateRecording)
	return nil
}

// StopDictation stops recording and runs the transcription pipeline in the
// background. Stopping while not recording is a no-op.
func (s *Service) StopDictation() error {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil
	}
	started := s.recordStart
	s.mu.Unlock()

	wavData, err := s.recorder.Stop()
	if err != nil {
		s.fail(err)
		return err
	}

	duration := time.Since(started)
	s.setState(StateTranscribing)
	go s.runPipeline(wavData, "dictation", duration)
	return nil
}

// CancelDictation discards the in-progress recording. Always safe.
func (s *Service) CancelDictation() {
	s.recorder.Cancel()

	s.mu.Lock()
	if s.state == StateRecording {
		s.mu.Unlock()
		s.setState(StateIdle)
		return
	}
	s.mu.Unlock()
}

// StartMeetingCapture starts the system-audio capture session, writing to
// a fresh file under the configured output directory. Duplicate start is
// a no-op.
func (s *Service) StartMeetingCapture() error {
	outputDir := s.config.SystemCapture.OutputDir
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create capture output directory: %w", err)
	}

	path := filepath.Join(outputDir, fmt.Sprintf("voxd-cap-%s.wav", uuid.New().String()))
	if err := s.capture.Start(path); err != nil {
		s.logger.Error("Failed to start meeting capture", logger.Error(err))
		s.sink.NotifyError(userMessage(err))
		return err
	}

	s.logger.Info("Meeting capture started", logger.String("path", path))
	return nil
}

// StopMeetingCapture stops the capture session and, if any audio was
// written, runs the transcription pipeline on the captured file in the
// background. Returns the capture file path ("" if capture never started).
func (s *Service) StopMeetingCapture() (string, error) {
	path, err := s.capture.Stop()
	if err != nil {
		s.logger.Error("Failed to stop meeting capture", logger.Error(err))
		return "", err
	}
	if path == "" {
		return "", nil
	}

	wavData, err := os.ReadFile(path)
	if err != nil {
		return path, fmt.Errorf("failed to read capture file: %w", err)
	}

	// Claim the pipeline atomically. A dictation flow mid-pipeline keeps
	// the state machine; the capture file is already finalized, so the
	// caller loses nothing - it gets the path alongside ErrBusy.
	s.mu.Lock()
	switch s.state {
	case StateRecording, StateTranscribing, StateDelivering:
		s.mu.Unlock()
		return path, ErrBusy
	}
	s.state = StateTranscribing
	s.lastError = ""
	s.mu.Unlock()

	s.broadcastEvent(websocket.MessageTypeState, map[string]any{
		"state": string(StateTranscribing),
	})

	go s.runPipeline(wavData, "meeting", 0)
	return path, nil
}

// History returns stored transcripts, newest first
func (s *Service) History(limit, offset int) ([]*sqlite.TranscriptRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	if limit <= 0 || limit > s.config.Storage.MaxHistoryAPI {
		limit = s.config.Storage.MaxHistoryAPI
	}
	return s.history.GetTranscripts(limit, offset)
}

// HandleMessage implements websocket.MessageHandler for client requests
func (s *Service) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeStatusRequest:
		status := s.Status()
		client.SendMessage(&websocket.Message{
			Type: websocket.MessageTypeState,
			Data: map[string]any{
				"state":     string(status.State),
				"capturing": status.Capturing,
			},
		})
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", messageType)
	}
}

// runPipeline transcribes a recording, delivers the text, and records it
// in history. Runs on its own goroutine; all failures land in the error
// state with a user-facing message.
func (s *Service) runPipeline(wavData []byte, source string, duration time.Duration) {
	filename := fmt.Sprintf("voxd-%s.wav", uuid.New().String())

	result, err := s.transcriber.Transcribe(s.ctx, wavData, filename)
	if err != nil {
		s.fail(err)
		return
	}

	s.setState(StateDelivering)

	if err := s.sink.Deliver(result.Text); err != nil {
		// The text is on the clipboard even when the paste keystroke
		// fails, so deliver errors are recoverable
		s.logger.Warn("Delivery degraded", logger.Error(err))
		s.sink.NotifyError(userMessage(err))
	} else {
		s.sink.NotifySuccess(result.Text)
	}

	if s.history != nil {
		record := &sqlite.TranscriptRecord{
			CreatedAt:  time.Now(),
			Source:     source,
			Text:       result.Text,
			Model:      s.config.Transcription.Model,
			DurationMs: duration.Milliseconds(),
			AudioBytes: int64(len(wavData)),
			JobID:      result.JobID,
		}
		if _, err := s.history.StoreTranscript(record); err != nil {
			s.logger.Error("Failed to store transcript", logger.Error(err))
		}
	}

	s.broadcastEvent(websocket.MessageTypeTranscript, map[string]any{
		"source": source,
		"text":   result.Text,
	})

	s.setState(StateIdle)
}

// fail moves the state machine into the error state with a user-facing
// message and schedules the revert to idle.
func (s *Service) fail(err error) {
	msg := userMessage(err)
	s.logger.Error("Session error", logger.Error(err), logger.String("user_message", msg))
	s.sink.NotifyError(msg)

	s.mu.Lock()
	s.state = StateError
	s.lastError = msg
	if s.errorTimer != nil {
		s.errorTimer.Stop()
	}
	s.errorTimer = time.AfterFunc(errorRevertDelay, s.revertError)
	s.mu.Unlock()

	s.broadcastEvent(websocket.MessageTypeState, map[string]any{
		"state": string(StateError),
		"error": msg,
	})
}

// revertError returns from error to idle unless a new flow started
func (s *Service) revertError() {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.broadcastEvent(websocket.MessageTypeState, map[string]any{
		"state": string(StateIdle),
	})
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	if state != StateError {
		s.lastError = ""
	}
	s.mu.Unlock()

	s.broadcastEvent(websocket.MessageTypeState, map[string]any{
		"state": string(state),
	})
}

func (s *Service) broadcastEvent(messageType string, data map[string]any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast(&websocket.Message{Type: messageType, Data: data})
}

// userMessage maps internal errors to the short strings shown to the user
func userMessage(err error) string {
	var apiErr *transcription.APIError

	switch {
	case errors.Is(err, transcription.ErrNoCredential):
		return "No API key configured"
	case errors.Is(err, transcription.ErrEmptyResult):
		return "No speech detected"
	case errors.Is(err, transcription.ErrTimeout):
		return "Transcription timed out"
	case errors.Is(err, recorder.ErrPermissionDenied):
		return "Microphone access denied"
	case errors.Is(err, capture.ErrPermissionDenied):
		return "Screen recording permission denied"
	case errors.Is(err, capture.ErrNoSourceFound):
		return "No system audio device found"
	case errors.Is(err, capture.ErrStreamCreationFailed):
		return "Could not open the audio stream"
	case errors.Is(err, recorder.ErrRecordingFailed):
		return "Recording failed"
	case errors.Is(err, output.ErrAccessibilityDenied):
		return "Paste blocked: text copied, accessibility permission missing"
	case errors.As(err, &apiErr):
		return "Transcription service error"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return "Transcription failed"
	}
}
