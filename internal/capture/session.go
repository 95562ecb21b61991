package capture

import (
	"fmt"
	"sync"

	"github.com/voxd/voxd/internal/audio"
	"github.com/voxd/voxd/internal/permission"
	"github.com/voxd/voxd/pkg/logger"
)

// Session represents one open system-audio capture. It owns the source
// stream, the WAV output sink, and a lazily-built format converter that is
// cached while the incoming batch format is stable. At most one capture is
// active per session; Start while active and Stop while inactive are no-ops.
type Session struct {
	source     Source
	perms      permission.Checker
	sinkFormat audio.Format
	logger     *logger.Logger

	mu             sync.Mutex
	sink           *audio.WAVSink
	converter      *audio.Converter
	active         bool
	framesWritten  int64
	batchesDropped int64
	lastErr        error
	onError        func(error)
}

// NewSession creates a capture session writing to the given sink format
func NewSession(source Source, perms permission.Checker, sinkFormat audio.Format, log *logger.Logger) *Session {
	return &Session{
		source:     source,
		perms:      perms,
		sinkFormat: sinkFormat,
		logger:     log.Named("capture"),
	}
}

// SetErrorHandler registers a callback for fatal stream-level failures that
// occur while a capture is live. The callback runs on the delivery goroutine.
func (s *Session) SetErrorHandler(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = handler
}

// Start opens the capture stream and begins writing to outputPath.
// No-op if a capture is already active.
func (s *Session) Start(outputPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil
	}

	if !s.perms.EnsureScreenRecording() {
		return ErrPermissionDenied
	}

	s.logger.Info("Starting system-audio capture",
		logger.String("output", outputPath),
		logger.String("sink_format", s.sinkFormat.String()))

	sink, err := audio.NewWAVSink(outputPath, s.sinkFormat)
	if err != nil {
		return fmt.Errorf("failed to open output sink: %w", err)
	}
	s.sink = sink

	if err := s.source.Start(s.handleBatch, s.handleStreamError); err != nil {
		s.sink.Close()
		s.sink = nil
		return err
	}

	s.framesWritten = 0
	s.batchesDropped = 0
	s.converter = nil
	s.lastErr = nil
	s.active = true
	return nil
}

// Stop ends the capture, flushes and closes the destination, and returns the
// finished file path. Returns "" if no capture was ever started (no-op).
func (s *Session) Stop() (string, error) {
	// Mark inactive and detach the sink before stopping the source.
	// source.Stop joins the delivery goroutine, which may be waiting on
	// s.mu inside handleBatch - holding the lock across that call
	// deadlocks.
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return "", nil
	}

	s.logger.Info("Stopping system-audio capture",
		logger.Int64("frames_written", s.framesWritten),
		logger.Int64("batches_dropped", s.batchesDropped))

	sink := s.sink
	s.sink = nil
	s.converter = nil
	s.framesWritten = 0
	s.batchesDropped = 0
	s.active = false
	s.mu.Unlock()

	if err := s.source.Stop(); err != nil {
		s.logger.Warn("Error stopping capture source", logger.Error(err))
	}

	path := sink.Path()
	if err := sink.Close(); err != nil {
		return path, fmt.Errorf("failed to finalize capture file: %w", err)
	}
	return path, nil
}

// Active reports whether a capture is currently live
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stats returns the frame and dropped-batch counters of the live capture
func (s *Session) Stats() (framesWritten, batchesDropped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesWritten, s.batchesDropped
}

// handleBatch processes one delivered frame batch. A batch whose format
// bit-exact matches the sink format is written directly; otherwise it goes
// through the cached converter, which is rebuilt whenever the incoming
// format changes mid-session. Conversion failures drop the batch and the
// capture continues - a lost segment is preferable to aborting a long
// recording. Write failures are fatal for the session.
func (s *Session) handleBatch(batch audio.FrameBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}

	out := batch
	if !batch.Format.Equal(s.sinkFormat) {
		if s.converter == nil || !s.converter.Input().Equal(batch.Format) {
			conv, err := audio.NewConverter(batch.Format, s.sinkFormat)
			if err != nil {
				s.batchesDropped++
				s.logger.Warn("Failed to build format converter, dropping batch",
					logger.String("input_format", batch.Format.String()),
					logger.Error(err))
				return
			}
			s.logger.Debug("Built format converter",
				logger.String("input_format", batch.Format.String()),
				logger.String("output_format", s.sinkFormat.String()))
			s.converter = conv
		}

		converted, err := s.converter.Convert(batch)
		if err != nil {
			s.batchesDropped++
			s.logger.Warn("Format conversion failed, dropping batch",
				logger.Int("frames", batch.Frames),
				logger.Error(err))
			return
		}
		out = converted
	}

	if err := s.sink.WriteBatch(out); err != nil {
		s.failLocked(fmt.Errorf("failed to write capture output: %w", err))
		return
	}
	s.framesWritten += int64(out.Frames)
}

// handleStreamError handles a fatal stream-level failure from the source
func (s *Session) handleStreamError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.failLocked(err)
}

// failLocked deactivates the session, closes the sink to preserve the
// partial file, and surfaces the error asynchronously. Caller holds s.mu.
func (s *Session) failLocked(err error) {
	s.logger.Error("Capture failed", logger.Error(err),
		logger.Int64("frames_written", s.framesWritten))

	s.lastErr = err
	s.active = false
	if s.sink != nil {
		if closeErr := s.sink.Close(); closeErr != nil {
			s.logger.Warn("Error closing sink after capture failure", logger.Error(closeErr))
		}
		s.sink = nil
	}
	s.converter = nil

	// The source keeps delivering until told to stop, and source.Stop
	// joins the delivery goroutine - the goroutine this runs on - so the
	// stop has to happen elsewhere.
	go func() {
		if stopErr := s.source.Stop(); stopErr != nil {
			s.logger.Warn("Error stopping capture source after failure", logger.Error(stopErr))
		}
	}()

	if s.onError != nil {
		handler := s.onError
		go handler(err)
	}
}
