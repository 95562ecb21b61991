package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/voxd/voxd/pkg/logger"
	_ "modernc.org/sqlite"
)

// TranscriptRecord represents one stored transcript in the history database
type TranscriptRecord struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Source     string    `json:"source"` // "dictation" or "meeting"
	Text       string    `json:"text"`
	Model      string    `json:"model,omitempty"`
	DurationMs int64     `json:"duration_ms"` // Audio duration in milliseconds
	AudioBytes int64     `json:"audio_bytes"` // Size of the uploaded WAV
	JobID      string    `json:"job_id,omitempty"`
}

// HistoryStorage is a SQLite-based storage for transcript history
type HistoryStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewHistoryStorage creates a new SQLite-based transcript history storage
func NewHistoryStorage(dbPath string, log *logger.Logger) (*HistoryStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	// Open the database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	storage := &HistoryStorage{
		db:     db,
		logger: storageLogger,
	}

	// Create tables if they don't exist
	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database schema
func (s *HistoryStorage) initDB() error {
	// Create transcripts table
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMP NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			audio_bytes INTEGER NOT NULL DEFAULT 0,
			job_id TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcripts table: %w", err)
	}

	// Create indexes
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcripts_source ON transcripts(source)`)
	if err != nil {
		return fmt.Errorf("failed to create source index: %w", err)
	}

	return nil
}

// StoreTranscript stores a transcript record and returns its ID
func (s *HistoryStorage) StoreTranscript(record *TranscriptRecord) (int64, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	result, err := s.db.Exec(
		`INSERT INTO transcripts
		(created_at, source, content, model, duration_ms, audio_bytes, job_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.CreatedAt.Format(time.RFC3339),
		record.Source,
		record.Text,
		record.Model,
		record.DurationMs,
		record.AudioBytes,
		record.JobID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcript: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetTranscripts returns stored transcripts, newest first, with pagination
func (s *HistoryStorage) GetTranscripts(limit, offset int) ([]*TranscriptRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, source, content, model, duration_ms, audio_bytes, job_id
		FROM transcripts
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	var records []*TranscriptRecord
	for rows.Next() {
		var record TranscriptRecord
		var createdAt string
		var model, jobID sql.NullString

		if err := rows.Scan(
			&record.ID,
			&createdAt,
			&record.Source,
			&record.Text,
			&model,
			&record.DurationMs,
			&record.AudioBytes,
			&jobID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}

		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if model.Valid {
			record.Model = model.String
		}
		if jobID.Valid {
			record.JobID = jobID.String
		}

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcripts: %w", err)
	}

	return records, nil
}

// Close closes the database connection
func (s *HistoryStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
