package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/credentials"
	"github.com/voxd/voxd/pkg/logger"
)

// Result is a completed transcription with its final text and token detail
type Result struct {
	JobID  string
	FileID string
	Text   string
	Tokens []Token
}

// Client talks to the remote speech-to-text API. A transcription is a
// four-step exchange: upload the WAV, create a job, poll until the job
// settles, then fetch the transcript.
type Client struct {
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
	creds      credentials.Store
	logger     *logger.Logger

	pollInterval time.Duration
	pollMax      int

	retryMax     int
	retryBackoff time.Duration
	retryMaxWait time.Duration

	clock Clock
}

// NewClient creates a new transcription client from config
func NewClient(cfg config.TranscriptionConfig, creds credentials.Store, log *logger.Logger) *Client {
	timeout := time.Duration(cfg.RequestTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	connectTimeout := time.Duration(cfg.ConnectTimeoutSecs) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	pollMax := cfg.PollMaxAttempts
	if pollMax <= 0 {
		pollMax = 60
	}

	backoff := time.Duration(cfg.RetryInitialBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = time.Second
	}
	maxWait := time.Duration(cfg.RetryMaxBackoffMs) * time.Millisecond
	if maxWait < backoff {
		maxWait = backoff
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		model:        cfg.Model,
		language:     cfg.Language,
		creds:        creds,
		logger:       log.Named("transcription"),
		pollInterval: pollInterval,
		pollMax:      pollMax,
		retryMax:     cfg.RetryMaxAttempts,
		retryBackoff: backoff,
		retryMaxWait: maxWait,
		clock:        realClock{},
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
	}
}

// SetClock replaces the poll clock. Used by tests to avoid real delays.
func (c *Client) SetClock(clock Clock) {
	c.clock = clock
}

// Transcribe runs the full upload/create/poll/fetch exchange for one WAV
// recording and returns the finished transcript. filename is the name
// reported to the API, not a local path.
func (c *Client) Transcribe(ctx context.Context, wavData []byte, filename string) (*Result, error) {
	// Fail fast if no credential is available - no network calls are made
	apiKey := c.creds.APIKey()
	if apiKey == "" {
		return nil, ErrNoCredential
	}

	start := time.Now()
	c.logger.Info("Starting transcription",
		logger.String("filename", filename),
		logger.Int("bytes", len(wavData)),
		logger.String("model", c.model))

	// Step 1: upload the audio file
	fileID, err := c.uploadFile(ctx, apiKey, wavData, filename)
	if err != nil {
		return nil, err
	}

	// Step 2: create the transcription job
	jobID, err := c.createJob(ctx, apiKey, fileID)
	if err != nil {
		return nil, err
	}

	// Step 3: poll until the job completes or the attempt budget runs out
	if err := c.pollJob(ctx, apiKey, jobID); err != nil {
		return nil, err
	}

	// Step 4: fetch the transcript
	transcript, err := c.fetchTranscript(ctx, apiKey, jobID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(transcript.Text) == "" {
		return nil, ErrEmptyResult
	}

	c.logger.Info("Transcription completed",
		logger.String("job_id", jobID),
		logger.Int("text_length", len(transcript.Text)),
		logger.Duration("elapsed", time.Since(start)))

	return &Result{
		JobID:  jobID,
		FileID: fileID,
		Text:   transcript.Text,
		Tokens: transcript.Tokens,
	}, nil
}

// TestConnection verifies credentials and reachability by listing models.
// It makes a single request with no retries.
func (c *Client) TestConnection(ctx context.Context) error {
	apiKey := c.creds.APIKey()
	if apiKey == "" {
		return ErrNoCredential
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Step: StepAuth, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &APIError{Step: StepAuth, StatusCode: resp.StatusCode, Message: string(bodyBytes)}
	}
	return nil
}

// uploadFile sends the WAV bytes as a multipart upload and returns the file ID
func (c *Client) uploadFile(ctx context.Context, apiKey string, wavData []byte, filename string) (string, error) {
	build := func() (*http.Request, error) {
		// Build multipart body
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)

		partHeader := textproto.MIMEHeader{}
		partHeader.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		partHeader.Set("Content-Type", "audio/wav")

		part, err := writer.CreatePart(partHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create form part: %w", err)
		}
		if _, err := part.Write(wavData); err != nil {
			return nil, fmt.Errorf("failed to write audio data: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
		}

		// Create request
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/files", &body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		// Set headers
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))

		return req, nil
	}

	bodyBytes, err := c.doRetryable(ctx, StepUpload, build)
	if err != nil {
		return "", err
	}

	var result FileResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if result.ID == "" {
		return "", &APIError{Step: StepUpload, Message: "upload response missing file id"}
	}

	c.logger.Debug("Audio uploaded",
		logger.String("file_id", result.ID),
		logger.Int64("size", result.Size))
	return result.ID, nil
}

// createJob creates a transcription job for an uploaded file and returns the job ID
func (c *Client) createJob(ctx context.Context, apiKey, fileID string) (string, error) {
	type jobRequest struct {
		FileID        string   `json:"file_id"`
		Model         string   `json:"model"`
		LanguageHints []string `json:"language_hints,omitempty"`
	}

	reqBody := jobRequest{
		FileID: fileID,
		Model:  c.model,
	}
	if c.language != "" {
		reqBody.LanguageHints = []string{c.language}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/transcriptions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))
		return req, nil
	}

	bodyBytes, err := c.doRetryable(ctx, StepCreate, build)
	if err != nil {
		return "", err
	}

	var result JobResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return "", fmt.Errorf("failed to parse job response: %w", err)
	}
	if result.ID == "" {
		return "", &APIError{Step: StepCreate, Message: "job response missing job id"}
	}

	c.logger.Debug("Transcription job created",
		logger.String("job_id", result.ID),
		logger.String("status", result.Status))
	return result.ID, nil
}

// pollJob polls job status at the configured interval until it reports
// completed, reports error, or the attempt budget is exhausted. Unknown
// status values are treated as still in progress.
func (c *Client) pollJob(ctx context.Context, apiKey, jobID string) error {
	warnedUnknown := false

	for attempt := 1; attempt <= c.pollMax; attempt++ {
		status, err := c.getJobStatus(ctx, apiKey, jobID)
		if err != nil {
			return err
		}

		switch status.Status {
		case StatusCompleted:
			return nil
		case StatusError:
			msg := status.ErrorMessage
			if msg == "" {
				msg = "transcription job failed"
			}
			return &APIError{Step: StepPoll, Message: msg}
		case StatusQueued, StatusProcessing:
			// Still working
		default:
			if !warnedUnknown {
				c.logger.Warn("Unknown job status, treating as in progress",
					logger.String("job_id", jobID),
					logger.String("status", status.Status))
				warnedUnknown = true
			}
		}

		if attempt == c.pollMax {
			break
		}
		if err := c.clock.Sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}

	return fmt.Errorf("job %s did not complete after %d attempts: %w", jobID, c.pollMax, ErrTimeout)
}

// getJobStatus performs a single status poll. Polls are never retried;
// the poll loop itself is the retry envelope.
func (c *Client) getJobStatus(ctx context.Context, apiKey, jobID string) (*JobStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/transcriptions/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Step: StepPoll, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Step: StepPoll, StatusCode: resp.StatusCode, Message: string(bodyBytes)}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result JobStatusResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &result, nil
}

// fetchTranscript retrieves the final transcript for a completed job
func (c *Client) fetchTranscript(ctx context.Context, apiKey, jobID string) (*TranscriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/transcriptions/"+jobID+"/transcript", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Step: StepFetch, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Step: StepFetch, StatusCode: resp.StatusCode, Message: string(bodyBytes)}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result TranscriptResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to parse transcript response: %w", err)
	}
	return &result, nil
}

// doRetryable builds and executes a request, retrying on transport errors,
// 429 and 5xx responses up to the configured retry budget. Backoff doubles
// each attempt, capped at the configured maximum. With the budget at zero
// the request is made exactly once. The body has to be rebuilt per attempt,
// but a build failure is deterministic and returns immediately without
// consuming the budget. On success the response body is returned; 200 and
// 201 both count as success for upload and job creation.
func (c *Client) doRetryable(ctx context.Context, step string, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying request",
				logger.String("step", step),
				logger.Int("attempt", attempt+1),
				logger.Error(lastErr))
			if err := c.clock.Sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			if backoff > c.retryMaxWait {
				backoff = c.retryMaxWait
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &APIError{Step: step, Message: err.Error()}
			continue
		}

		bodyBytes, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			if readErr != nil {
				return nil, fmt.Errorf("failed to read response body: %w", readErr)
			}
			return bodyBytes, nil
		}

		apiErr := &APIError{Step: step, StatusCode: resp.StatusCode, Message: string(bodyBytes)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = apiErr
			continue
		}
		// Client errors are not retryable
		return nil, apiErr
	}

	return nil, lastErr
}
