package recorder

// Engine opens microphone input streams. The production implementation is
// backed by PortAudio; tests inject a scripted engine.
type Engine interface {
	// Open opens a mono 16-bit input stream on the named device ("" = OS
	// default input) at the given sample rate.
	Open(device string, sampleRate, framesPerBuffer int) (Stream, error)
}

// Stream is an open microphone input stream
type Stream interface {
	// Start begins capture
	Start() error
	// Read blocks until the next buffer of samples is available and
	// returns it. The returned slice is owned by the caller.
	Read() ([]int16, error)
	// Stop halts capture; a blocked Read returns after Stop
	Stop() error
	// Close releases the stream
	Close() error
}
