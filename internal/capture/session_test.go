package capture

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxd/voxd/internal/audio"
	"github.com/voxd/voxd/internal/permission"
	"github.com/voxd/voxd/pkg/logger"
)

// fakeSource hands the session's callbacks back to the test so batches and
// stream errors can be injected directly.
type fakeSource struct {
	starts  int
	stops   int
	onBatch func(audio.FrameBatch)
	onError func(error)
	failErr error
}

func (f *fakeSource) Start(onBatch func(audio.FrameBatch), onError func(error)) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.starts++
	f.onBatch = onBatch
	f.onError = onError
	return nil
}

func (f *fakeSource) Stop() error {
	f.stops++
	return nil
}

// pumpingSource mimics the real device adapter: batches are delivered
// continuously on a dedicated goroutine, and Stop joins that goroutine
// before returning.
type pumpingSource struct {
	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func (p *pumpingSource) Start(onBatch func(audio.FrameBatch), onError func(error)) error {
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		for {
			p.mu.Lock()
			stopped := p.stopped
			p.mu.Unlock()
			if stopped {
				return
			}
			onBatch(matchingBatch(10))
		}
	}()
	return nil
}

func (p *pumpingSource) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	<-p.done
	return nil
}

func newTestSession(t *testing.T, source Source) (*Session, string) {
	t.Helper()
	sess := NewSession(source, permission.AllGranted(), audio.CaptureSinkFormat(48000, 2), logger.NewNop())
	return sess, filepath.Join(t.TempDir(), "capture.wav")
}

func matchingBatch(frames int) audio.FrameBatch {
	format := audio.CaptureSinkFormat(48000, 2)
	return audio.FrameBatch{
		Format: format,
		Frames: frames,
		Data:   [][]byte{make([]byte, frames*format.Channels*format.BytesPerSample())},
	}
}

func TestSessionStopWithoutStartIsNoop(t *testing.T) {
	sess, _ := newTestSession(t, &fakeSource{})

	path, err := sess.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if path != "" {
		t.Errorf("got path %q, want empty", path)
	}
}

func TestSessionDoubleStartSingleStream(t *testing.T) {
	source := &fakeSource{}
	sess, path := newTestSession(t, source)

	if err := sess.Start(path); err != nil {
		t.Fatal(err)
	}
	if err := sess.Start(path); err != nil {
		t.Fatal(err)
	}
	if source.starts != 1 {
		t.Errorf("source started %d times, want 1", source.starts)
	}

	if _, err := sess.Stop(); err != nil {
		t.Fatal(err)
	}
	if source.stops != 1 {
		t.Errorf("source stopped %d times, want 1", source.stops)
	}
}

func TestSessionWritesMatchingBatchesDirectly(t *testing.T) {
	source := &fakeSource{}
	sess, path := newTestSession(t, source)

	if err := sess.Start(path); err != nil {
		t.Fatal(err)
	}

	source.onBatch(matchingBatch(100))
	source.onBatch(matchingBatch(50))

	frames, dropped := sess.Stats()
	if frames != 150 {
		t.Errorf("frames written %d, want 150", frames)
	}
	if dropped != 0 {
		t.Errorf("batches dropped %d, want 0", dropped)
	}

	got, err := sess.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("got path %q, want %q", got, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	format := audio.CaptureSinkFormat(48000, 2)
	want := int64(44 + 150*format.Channels*format.BytesPerSample())
	if info.Size() != want {
		t.Errorf("file size %d, want %d", info.Size(), want)
	}
}

func TestSessionConvertsForeignFormats(t *testing.T) {
	source := &fakeSource{}
	sess, path := newTestSession(t, source)

	if err := sess.Start(path); err != nil {
		t.Fatal(err)
	}

	// Mono 16-bit int at the sink rate: must be converted, not dropped
	batch := audio.FrameBatch{
		Format: audio.Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16, Interleaved: true},
		Frames: 100,
		Data:   [][]byte{make([]byte, 200)},
	}
	source.onBatch(batch)

	frames, dropped := sess.Stats()
	if frames != 100 {
		t.Errorf("frames written %d, want 100", frames)
	}
	if dropped != 0 {
		t.Errorf("batches dropped %d, want 0", dropped)
	}

	if _, err := sess.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionDropsBadBatchAndContinues(t *testing.T) {
	source := &fakeSource{}
	sess, path := newTestSession(t, source)

	if err := sess.Start(path); err != nil {
		t.Fatal(err)
	}

	// Undersized buffer fails batch validation inside the converter
	bad := audio.FrameBatch{
		Format: audio.Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16, Interleaved: true},
		Frames: 100,
		Data:   [][]byte{make([]byte, 10)},
	}
	source.onBatch(bad)
	source.onBatch(matchingBatch(25))

	frames, dropped := sess.Stats()
	if dropped != 1 {
		t.Errorf("batches dropped %d, want 1", dropped)
	}
	if frames != 25 {
		t.Errorf("frames written %d, want 25", frames)
	}
	if !sess.Active() {
		t.Error("session should remain active after a dropped batch")
	}

	if _, err := sess.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionStreamErrorDeactivatesAndSurfaces(t *testing.T) {
	source := &fakeSource{}
	sess, path := newTestSession(t, source)

	errCh := make(chan error, 1)
	sess.SetErrorHandler(func(err error) { errCh <- err })

	if err := sess.Start(path); err != nil {
		t.Fatal(err)
	}
	source.onBatch(matchingBatch(10))

	streamErr := errors.New("device disappeared")
	source.onError(streamErr)

	if sess.Active() {
		t.Error("session should be inactive after a stream error")
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, streamErr) {
			t.Errorf("got error %v, want %v", err, streamErr)
		}
	case <-time.After(time.Second):
		t.Fatal("error handler was not invoked")
	}

	// Partial file preserved
	if _, err := os.Stat(path); err != nil {
		t.Errorf("partial capture file missing: %v", err)
	}
}

func TestSessionStopReturnsWhileSourceJoinsDelivery(t *testing.T) {
	source := &pumpingSource{}
	sess, path := newTestSession(t, source)

	if err := sess.Start(path); err != nil {
		t.Fatal(err)
	}

	// Wait until the delivery goroutine is actively pushing batches
	deadline := time.Now().Add(2 * time.Second)
	for {
		if frames, _ := sess.Stats(); frames > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("delivery goroutine never ran")
		}
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	var gotPath string
	var stopErr error
	go func() {
		gotPath, stopErr = sess.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung while the source joined its delivery goroutine")
	}
	if stopErr != nil {
		t.Fatal(stopErr)
	}
	if gotPath != path {
		t.Errorf("got path %q, want %q", gotPath, path)
	}

	// Finalized file with a patched header
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() <= 44 {
		t.Errorf("capture file not flushed: %d bytes", info.Size())
	}
}

func TestSessionStartRequiresPermission(t *testing.T) {
	perms := &permission.Static{Microphone: true, ScreenRecording: false, Accessibility: true}
	sess := NewSession(&fakeSource{}, perms, audio.CaptureSinkFormat(48000, 2), logger.NewNop())

	err := sess.Start(filepath.Join(t.TempDir(), "capture.wav"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("got %v, want ErrPermissionDenied", err)
	}
}

func TestSessionStartSourceFailureCleansUp(t *testing.T) {
	source := &fakeSource{failErr: ErrNoSourceFound}
	sess, path := newTestSession(t, source)

	if err := sess.Start(path); !errors.Is(err, ErrNoSourceFound) {
		t.Fatalf("got %v, want ErrNoSourceFound", err)
	}
	if sess.Active() {
		t.Error("session should not be active after failed start")
	}
}
