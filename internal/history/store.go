// Package history persists completed dictations in an encrypted SQLite
// database. Transcript text is sealed with AES-GCM; metadata stays
// queryable in the clear.
package history

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id            TEXT PRIMARY KEY,
	created_at    TEXT NOT NULL,
	mode          TEXT NOT NULL,
	audio_seconds REAL NOT NULL,
	raw_text      BLOB NOT NULL,
	enhanced_text BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS history_created_at ON history (created_at);
`

// Record is one stored dictation.
type Record struct {
	ID           string
	CreatedAt    time.Time
	Mode         string
	AudioSeconds float64
	RawText      string
	EnhancedText string
}

// Store wraps the history database. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	aead   cipher.AEAD
	logger *slog.Logger
}

// Open creates or opens the history database at path. key must be the
// 32-byte history encryption key.
func Open(path string, key []byte, logger *slog.Logger) (*Store, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("history cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("history cipher mode: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{db: db, aead: aead, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores one dictation and returns its generated id.
func (s *Store) Add(ctx context.Context, record Record) (string, error) {
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	rawSealed, err := s.seal(record.RawText)
	if err != nil {
		return "", err
	}
	enhancedSealed, err := s.seal(record.EnhancedText)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history (id, created_at, mode, audio_seconds, raw_text, enhanced_text)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, createdAt.Format(time.RFC3339Nano), record.Mode, record.AudioSeconds, rawSealed, enhancedSealed,
	)
	if err != nil {
		return "", fmt.Errorf("insert history record: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("history record stored", "id", id, "mode", record.Mode)
	}
	return id, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, mode, audio_seconds, raw_text, enhanced_text
		 FROM history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			record         Record
			createdAt      string
			rawSealed      []byte
			enhancedSealed []byte
		)
		if err := rows.Scan(&record.ID, &createdAt, &record.Mode, &record.AudioSeconds, &rawSealed, &enhancedSealed); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse history timestamp: %w", err)
		}
		if record.RawText, err = s.open(rawSealed); err != nil {
			return nil, fmt.Errorf("decrypt record %s: %w", record.ID, err)
		}
		if record.EnhancedText, err = s.open(enhancedSealed); err != nil {
			return nil, fmt.Errorf("decrypt record %s: %w", record.ID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Delete removes one record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete history record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("history record %s not found", id)
	}
	return nil
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// seal encrypts plaintext with a random nonce prefix.
func (s *Store) seal(plain string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("history nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, []byte(plain), nil), nil
}

func (s *Store) open(sealed []byte) (string, error) {
	if len(sealed) < s.aead.NonceSize() {
		return "", fmt.Errorf("sealed text too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
