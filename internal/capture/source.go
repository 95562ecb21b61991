package capture

import (
	"errors"

	"github.com/voxd/voxd/internal/audio"
)

// Capture setup errors
var (
	// ErrNoSourceFound indicates no capturable system-audio source exists
	ErrNoSourceFound = errors.New("no capturable audio source found")
	// ErrStreamCreationFailed indicates the underlying capture stream could not be constructed
	ErrStreamCreationFailed = errors.New("failed to create capture stream")
	// ErrPermissionDenied indicates the screen-recording permission was not granted
	ErrPermissionDenied = errors.New("screen recording permission not granted")
)

// Source is the OS-facing adapter that delivers audio frame batches from a
// system-audio stream. Batches arrive strictly in order on a single delivery
// goroutine; the batch callback must return before the next batch is
// delivered, so back-pressure is provided by the source.
type Source interface {
	// Start begins asynchronous delivery. onBatch receives each frame batch
	// with whatever format the OS reports; onError receives a fatal
	// stream-level failure, after which no further batches are delivered.
	Start(onBatch func(audio.FrameBatch), onError func(error)) error

	// Stop ends delivery and releases the underlying stream
	Stop() error
}
