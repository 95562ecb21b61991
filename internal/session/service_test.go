package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/voxd/voxd/internal/audio"
	"github.com/voxd/voxd/internal/capture"
	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/permission"
	"github.com/voxd/voxd/internal/recorder"
	"github.com/voxd/voxd/internal/storage/sqlite"
	"github.com/voxd/voxd/internal/transcription"
	"github.com/voxd/voxd/internal/websocket"
	"github.com/voxd/voxd/pkg/logger"
)

type fakeEngine struct {
	mu   sync.Mutex
	last *fakeStream
}

func (e *fakeEngine) Open(device string, sampleRate, framesPerBuffer int) (recorder.Stream, error) {
	s := &fakeStream{stopped: make(chan struct{})}
	e.mu.Lock()
	e.last = s
	e.mu.Unlock()
	return s, nil
}

// waitServed blocks until the active stream has handed its samples to the
// recorder, so a following stop sees a non-empty recording
func (e *fakeEngine) waitServed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		s := e.last
		e.mu.Unlock()
		if s != nil && s.hasServed() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("fake stream was never read")
}

type fakeStream struct {
	mu      sync.Mutex
	served  bool
	drained bool // set once a Read call blocks after serving
	stopped chan struct{}
	once    sync.Once
}

func (s *fakeStream) hasServed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}

func (s *fakeStream) Start() error { return nil }

func (s *fakeStream) Read() ([]int16, error) {
	s.mu.Lock()
	if !s.served {
		s.served = true
		s.mu.Unlock()
		return []int16{100, -100, 200, -200}, nil
	}
	s.drained = true
	s.mu.Unlock()
	<-s.stopped
	return nil, io.EOF
}

func (s *fakeStream) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *fakeStream) Close() error { return nil }

type fakeCaptureSource struct{}

func (fakeCaptureSource) Start(onBatch func(audio.FrameBatch), onError func(error)) error {
	return nil
}
func (fakeCaptureSource) Stop() error { return nil }

// fakeTranscriber returns a fixed result or error, optionally blocking
// until released so tests can observe mid-pipeline states
type fakeTranscriber struct {
	mu      sync.Mutex
	text    string
	err     error
	gotWAV  []byte
	release chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wavData []byte, filename string) (*transcription.Result, error) {
	f.mu.Lock()
	f.gotWAV = wavData
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &transcription.Result{JobID: "job-1", Text: f.text}, nil
}

type fakeSink struct {
	mu        sync.Mutex
	delivered []string
	errors    []string
}

func (f *fakeSink) Deliver(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, text)
	return nil
}

func (f *fakeSink) NotifySuccess(text string) {}

func (f *fakeSink) NotifyError(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, message)
}

func (f *fakeSink) deliveredTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...)
}

type fakeHistory struct {
	mu      sync.Mutex
	records []*sqlite.TranscriptRecord
}

func (f *fakeHistory) StoreTranscript(record *sqlite.TranscriptRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return int64(len(f.records)), nil
}

func (f *fakeHistory) GetTranscripts(limit, offset int) ([]*sqlite.TranscriptRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*sqlite.TranscriptRecord(nil), f.records...), nil
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []*websocket.Message
}

func (f *fakeBroadcaster) Broadcast(message *websocket.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeBroadcaster) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.Type
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Port = 8090
	cfg.Transcription.APIBaseURL = "https://stt.example.com"
	cfg.Recording.TempDir = t.TempDir()
	cfg.SystemCapture.OutputDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func newTestService(t *testing.T, transcriber Transcriber, sink Sink, history History, broadcaster Broadcaster) (*Service, *fakeEngine) {
	t.Helper()
	cfg := testConfig(t)
	log := logger.NewNop()
	engine := &fakeEngine{}
	rec := recorder.New(engine, permission.AllGranted(), cfg.Recording.TempDir, 0, log)
	capt := capture.NewSession(fakeCaptureSource{}, permission.AllGranted(), audio.CaptureSinkFormat(48000, 2), log)
	svc := NewService(cfg, rec, capt, transcriber, sink, history, broadcaster, log)
	t.Cleanup(svc.Close)
	return svc, engine
}

func waitForState(t *testing.T, svc *Service, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Status().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %q (now %q)", want, svc.Status().State)
}

func TestDictationPipelineDeliversAndRecords(t *testing.T) {
	transcriber := &fakeTranscriber{text: "the quick brown fox"}
	sink := &fakeSink{}
	history := &fakeHistory{}
	broadcaster := &fakeBroadcaster{}
	svc, engine := newTestService(t, transcriber, sink, history, broadcaster)

	if err := svc.StartDictation(); err != nil {
		t.Fatal(err)
	}
	if got := svc.Status().State; got != StateRecording {
		t.Fatalf("state %q, want recording", got)
	}
	engine.waitServed(t)

	if err := svc.StopDictation(); err != nil {
		t.Fatal(err)
	}
	waitForState(t, svc, StateIdle)

	delivered := sink.deliveredTexts()
	if len(delivered) != 1 || delivered[0] != "the quick brown fox" {
		t.Errorf("delivered %v", delivered)
	}

	records, _ := history.GetTranscripts(10, 0)
	if len(records) != 1 {
		t.Fatalf("got %d history records, want 1", len(records))
	}
	if records[0].Source != "dictation" || records[0].Text != "the quick brown fox" {
		t.Errorf("history record: %+v", records[0])
	}
	if records[0].JobID != "job-1" {
		t.Errorf("job id %q", records[0].JobID)
	}

	transcriber.mu.Lock()
	wav := transcriber.gotWAV
	transcriber.mu.Unlock()
	if len(wav) <= 44 || string(wav[0:4]) != "RIFF" {
		t.Errorf("transcriber did not receive a WAV recording (%d bytes)", len(wav))
	}

	sawTranscript := false
	for _, typ := range broadcaster.types() {
		if typ == websocket.MessageTypeTranscript {
			sawTranscript = true
		}
	}
	if !sawTranscript {
		t.Error("transcript event never broadcast")
	}
}

func TestStartDictationWhileBusyReturnsErrBusy(t *testing.T) {
	transcriber := &fakeTranscriber{text: "x", release: make(chan struct{})}
	svc, _ := newTestService(t, transcriber, &fakeSink{}, nil, nil)

	if err := svc.StartDictation(); err != nil {
		t.Fatal(err)
	}
	// Double start while recording is a no-op
	if err := svc.StartDictation(); err != nil {
		t.Fatal(err)
	}

	if err := svc.StopDictation(); err != nil {
		t.Fatal(err)
	}
	waitForState(t, svc, StateTranscribing)

	if err := svc.StartDictation(); !errors.Is(err, ErrBusy) {
		t.Errorf("got %v, want ErrBusy", err)
	}

	close(transcriber.release)
	waitForState(t, svc, StateIdle)
}

func TestMeetingCapturePipelineDeliversAndRecords(t *testing.T) {
	transcriber := &fakeTranscriber{text: "quarterly planning notes"}
	sink := &fakeSink{}
	history := &fakeHistory{}
	svc, _ := newTestService(t, transcriber, sink, history, nil)

	if err := svc.StartMeetingCapture(); err != nil {
		t.Fatal(err)
	}
	path, err := svc.StopMeetingCapture()
	if err != nil {
		t.Fatal(err)
	}
	if path == "" {
		t.Fatal("no capture file path returned")
	}
	waitForState(t, svc, StateIdle)

	delivered := sink.deliveredTexts()
	if len(delivered) != 1 || delivered[0] != "quarterly planning notes" {
		t.Errorf("delivered %v", delivered)
	}
	records, _ := history.GetTranscripts(10, 0)
	if len(records) != 1 || records[0].Source != "meeting" {
		t.Errorf("history records: %+v", records)
	}
}

func TestStopMeetingCaptureWhileDictationBusyReturnsErrBusy(t *testing.T) {
	transcriber := &fakeTranscriber{text: "dictated", release: make(chan struct{})}
	sink := &fakeSink{}
	svc, engine := newTestService(t, transcriber, sink, nil, nil)

	if err := svc.StartDictation(); err != nil {
		t.Fatal(err)
	}
	engine.waitServed(t)
	if err := svc.StopDictation(); err != nil {
		t.Fatal(err)
	}
	waitForState(t, svc, StateTranscribing)

	// The capture still stops and the file is kept, but the state
	// machine belongs to the dictation pipeline
	if err := svc.StartMeetingCapture(); err != nil {
		t.Fatal(err)
	}
	path, err := svc.StopMeetingCapture()
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}
	if path == "" {
		t.Error("capture file path lost on busy pipeline")
	}
	if got := svc.Status().State; got != StateTranscribing {
		t.Errorf("state %q, want transcribing", got)
	}

	close(transcriber.release)
	waitForState(t, svc, StateIdle)

	delivered := sink.deliveredTexts()
	if len(delivered) != 1 || delivered[0] != "dictated" {
		t.Errorf("delivered %v, want only the dictation text", delivered)
	}
}

func TestCancelDictationReturnsToIdle(t *testing.T) {
	transcriber := &fakeTranscriber{text: "x"}
	sink := &fakeSink{}
	svc, _ := newTestService(t, transcriber, sink, nil, nil)

	if err := svc.StartDictation(); err != nil {
		t.Fatal(err)
	}
	svc.CancelDictation()

	if got := svc.Status().State; got != StateIdle {
		t.Errorf("state %q, want idle", got)
	}
	if len(sink.deliveredTexts()) != 0 {
		t.Error("cancelled recording must not be delivered")
	}

	// Cancel with nothing active is safe
	svc.CancelDictation()
}

func TestPipelineErrorEntersErrorStateAndReverts(t *testing.T) {
	transcriber := &fakeTranscriber{err: transcription.ErrEmptyResult}
	sink := &fakeSink{}
	svc, _ := newTestService(t, transcriber, sink, nil, nil)

	if err := svc.StartDictation(); err != nil {
		t.Fatal(err)
	}
	if err := svc.StopDictation(); err != nil {
		t.Fatal(err)
	}

	waitForState(t, svc, StateError)
	if got := svc.Status().LastError; got != "No speech detected" {
		t.Errorf("user message %q", got)
	}
	if len(sink.deliveredTexts()) != 0 {
		t.Error("nothing should be delivered on failure")
	}

	// Error state auto-reverts to idle
	waitForState(t, svc, StateIdle)
}

func TestUserMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{transcription.ErrNoCredential, "No API key configured"},
		{transcription.ErrEmptyResult, "No speech detected"},
		{transcription.ErrTimeout, "Transcription timed out"},
		{recorder.ErrPermissionDenied, "Microphone access denied"},
		{capture.ErrNoSourceFound, "No system audio device found"},
		{&transcription.APIError{Step: transcription.StepUpload, StatusCode: 500}, "Transcription service error"},
		{errors.New("anything else"), "Transcription failed"},
	}
	for _, tc := range cases {
		if got := userMessage(tc.err); got != tc.want {
			t.Errorf("userMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
