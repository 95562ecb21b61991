package permission

// Checker is the permission collaborator consulted before any capture or
// paste-simulation. A false return is a hard stop surfaced to the user,
// never retried. Platform front-ends supply an implementation that drives
// the OS permission prompts; the daemon itself only asks.
type Checker interface {
	// EnsureMicrophone reports whether microphone access is granted
	EnsureMicrophone() bool
	// EnsureScreenRecording reports whether system-audio capture is granted
	EnsureScreenRecording() bool
	// CheckAccessibility reports whether keystroke injection is granted
	CheckAccessibility() bool
}

// Static is a fixed-grant checker. The default daemon configuration grants
// everything and relies on the OS to reject the actual device open; tests
// use it to exercise denial paths.
type Static struct {
	Microphone      bool
	ScreenRecording bool
	Accessibility   bool
}

// AllGranted returns a checker that grants every permission
func AllGranted() *Static {
	return &Static{Microphone: true, ScreenRecording: true, Accessibility: true}
}

func (s *Static) EnsureMicrophone() bool      { return s.Microphone }
func (s *Static) EnsureScreenRecording() bool { return s.ScreenRecording }
func (s *Static) CheckAccessibility() bool    { return s.Accessibility }
