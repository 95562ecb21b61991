package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server        ServerConfig        `toml:"server"`         // Local control API settings
	Logging       LoggingConfig       `toml:"logging"`        // Application logging settings
	Recording     RecordingConfig     `toml:"recording"`      // Microphone recording settings
	SystemCapture SystemCaptureConfig `toml:"system_capture"` // System/meeting audio capture settings
	Transcription TranscriptionConfig `toml:"transcription"`  // Remote speech-to-text settings
	Output        OutputConfig        `toml:"output"`         // Clipboard/paste delivery settings
	Notifications NotificationsConfig `toml:"notifications"`  // Desktop notification settings
	Storage       StorageConfig       `toml:"storage"`        // Transcript history persistence settings
}

// ServerConfig contains settings for the localhost control API
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the local control API
	Host             string `toml:"host"`                  // Host address to bind to (default 127.0.0.1 - the API is local-only)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// RecordingConfig contains microphone recording configuration
type RecordingConfig struct {
	Quality              string `toml:"quality"`                 // Recording quality tier: "high" (48 kHz), "medium" (24 kHz), or "low" (16 kHz)
	Device               string `toml:"device"`                  // Input device name ("" = OS default input)
	LevelMeterIntervalMs int    `toml:"level_meter_interval_ms"` // Interval for RMS level metering in milliseconds (UI feedback only)
	TempDir              string `toml:"temp_dir"`                // Directory for temporary recording files ("" = OS temp dir)
}

// SystemCaptureConfig contains system/meeting audio capture configuration
type SystemCaptureConfig struct {
	SampleRate int    `toml:"sample_rate"` // Target sample rate in Hz for the capture sink (default 48000)
	Channels   int    `toml:"channels"`    // Target channel count for the capture sink (default 2)
	OutputDir  string `toml:"output_dir"`  // Directory where finished capture files are written
	Device     string `toml:"device"`      // Loopback/monitor device name substring ("" = auto-detect)
}

// TranscriptionConfig contains settings for the remote speech-to-text service
type TranscriptionConfig struct {
	APIKey     string `toml:"api_key"`      // API key for the transcription service ("" = read from VOXD_API_KEY)
	APIBaseURL string `toml:"api_base_url"` // Base URL of the transcription API (no trailing slash)
	Model      string `toml:"model"`        // Transcription model identifier
	Language   string `toml:"language"`     // Language hint (e.g. "en"); "" lets the server detect

	// Polling settings
	PollIntervalMs  int `toml:"poll_interval_ms"`  // Interval between job status polls in milliseconds (default 1000)
	PollMaxAttempts int `toml:"poll_max_attempts"` // Maximum number of status polls before giving up (default 60)

	// HTTP timeout settings
	ConnectTimeoutSecs int `toml:"connect_timeout_seconds"` // TCP connect timeout in seconds (default 10)
	RequestTimeoutSecs int `toml:"request_timeout_seconds"` // Total per-request timeout in seconds (default 30)

	// Retry envelope for the upload and job-creation steps only.
	// Retries apply to 5xx/429/transport failures, never to other 4xx.
	RetryMaxAttempts      int `toml:"retry_max_attempts"`       // Additional attempts after the first (0 = no retries)
	RetryInitialBackoffMs int `toml:"retry_initial_backoff_ms"` // Initial backoff in milliseconds (doubles per attempt)
	RetryMaxBackoffMs     int `toml:"retry_max_backoff_ms"`     // Backoff ceiling in milliseconds
}

// OutputConfig contains settings for delivering transcribed text
type OutputConfig struct {
	CopyToClipboard  bool `toml:"copy_to_clipboard"` // Copy the transcript to the system clipboard
	SimulatePaste    bool `toml:"simulate_paste"`    // Simulate Ctrl+V into the active application after copying
	RestoreClipboard bool `toml:"restore_clipboard"` // Restore the previous clipboard contents after a simulated paste
	PasteDelayMs     int  `toml:"paste_delay_ms"`    // Delay between clipboard write and paste keystroke in milliseconds
}

// NotificationsConfig contains desktop notification configuration
type NotificationsConfig struct {
	Enabled bool `toml:"enabled"` // Show desktop notifications for completed/failed transcriptions
}

// StorageConfig contains transcript history persistence configuration
type StorageConfig struct {
	SQLitePath    string `toml:"sqlite_path"`     // Path to the SQLite history database ("" disables history)
	MaxHistoryAPI int    `toml:"max_history_api"` // Maximum number of transcripts returned by the /history API
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			// File exists, try to load it
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}

	// Validate recording config
	if c.Recording.Quality == "" {
		c.Recording.Quality = "high"
	}
	switch c.Recording.Quality {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("invalid recording quality: %s (must be 'high', 'medium', or 'low')", c.Recording.Quality)
	}
	if c.Recording.LevelMeterIntervalMs <= 0 {
		c.Recording.LevelMeterIntervalMs = 100
	}

	// Validate system capture config
	if c.SystemCapture.SampleRate <= 0 {
		c.SystemCapture.SampleRate = 48000
	}
	if c.SystemCapture.Channels <= 0 {
		c.SystemCapture.Channels = 2
	}
	if c.SystemCapture.OutputDir == "" {
		c.SystemCapture.OutputDir = os.TempDir()
	}

	// Validate transcription config
	if c.Transcription.APIBaseURL == "" {
		return fmt.Errorf("transcription api_base_url is required")
	}
	if c.Transcription.PollIntervalMs <= 0 {
		c.Transcription.PollIntervalMs = 1000
	}
	if c.Transcription.PollMaxAttempts <= 0 {
		c.Transcription.PollMaxAttempts = 60
	}
	if c.Transcription.ConnectTimeoutSecs <= 0 {
		c.Transcription.ConnectTimeoutSecs = 10
	}
	if c.Transcription.RequestTimeoutSecs <= 0 {
		c.Transcription.RequestTimeoutSecs = 30
	}
	if c.Transcription.RetryMaxAttempts < 0 {
		return fmt.Errorf("invalid retry_max_attempts: %d (must be >= 0)", c.Transcription.RetryMaxAttempts)
	}
	if c.Transcription.RetryInitialBackoffMs <= 0 {
		c.Transcription.RetryInitialBackoffMs = 1000
	}
	if c.Transcription.RetryMaxBackoffMs <= 0 {
		c.Transcription.RetryMaxBackoffMs = 4000
	}

	// Validate output config
	if c.Output.PasteDelayMs <= 0 {
		c.Output.PasteDelayMs = 80
	}

	// Validate storage config
	if c.Storage.MaxHistoryAPI <= 0 {
		c.Storage.MaxHistoryAPI = 100
	}

	return nil
}
