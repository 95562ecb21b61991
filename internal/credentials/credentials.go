package credentials

import "os"

// EnvVar is the environment variable consulted when no key is configured
const EnvVar = "VOXD_API_KEY"

// Store is the credential collaborator. APIKey returns the configured key or
// "" when none is available - an empty key is not an error from the store's
// point of view; the transcription client maps it to a credential error.
type Store interface {
	APIKey() string
}

// Static serves a fixed key from configuration
type Static struct {
	key string
}

// NewStatic creates a store serving the given key
func NewStatic(key string) *Static {
	return &Static{key: key}
}

func (s *Static) APIKey() string {
	return s.key
}

// Env reads the key from an environment variable on every call, so a key
// rotated in the environment takes effect on the next transcription.
type Env struct {
	name string
}

// NewEnv creates a store reading the named environment variable
func NewEnv(name string) *Env {
	return &Env{name: name}
}

func (e *Env) APIKey() string {
	return os.Getenv(e.name)
}

// Resolve returns a static store when a key is configured, otherwise an
// environment-backed store reading VOXD_API_KEY.
func Resolve(configured string) Store {
	if configured != "" {
		return NewStatic(configured)
	}
	return NewEnv(EnvVar)
}
