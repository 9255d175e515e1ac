package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
)

// schemaVersion is written into every record.
const schemaVersion = 1

const (
	lockSuffix   = ".lock.json"
	processedDir = "processed"
)

// Store persists locks so a restart can rebuild them.
type Store interface {
	Save(lock domain.JobLock) error
	Delete(jobID string) error
	Load() ([]domain.JobLock, error)

	SaveProcessed(jobID string, at time.Time) error
	DeleteProcessed(jobID string) error
	LoadProcessed() (map[string]time.Time, error)
}

// lockRecord is the on-disk lock format.
type lockRecord struct {
	Version           int     `json:"version"`
	JobID             string  `json:"jobId"`
	LockedAt          float64 `json:"lockedAt"`
	OwnerID           string  `json:"ownerId"`
	Operation         string  `json:"operation"`
	EstimatedDuration float64 `json:"estimatedDuration"`
	Token             string  `json:"token,omitempty"`
	CreatedAt         string  `json:"createdAt"`
}

type processedRecord struct {
	Version     int     `json:"version"`
	JobID       string  `json:"jobId"`
	ProcessedAt float64 `json:"processedAt"`
}

// FileStore keeps one JSON file per job id under a directory. Writes go
// through a temp file and a rename; the last writer wins.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates dir (and its processed/ subdirectory) if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("lock directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, processedDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the lock directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func fileName(jobID string) string {
	return url.PathEscape(jobID) + lockSuffix
}

func jobIDFromFile(name string) (string, bool) {
	if !strings.HasSuffix(name, lockSuffix) {
		return "", false
	}
	id, err := url.PathUnescape(strings.TrimSuffix(name, lockSuffix))
	if err != nil {
		return "", false
	}
	return id, true
}

func (s *FileStore) lockPath(jobID string) string {
	return filepath.Join(s.dir, fileName(jobID))
}

func (s *FileStore) processedPath(jobID string) string {
	return filepath.Join(s.dir, processedDir, fileName(jobID))
}

// Save writes the lock file for lock.JobID.
func (s *FileStore) Save(lock domain.JobLock) error {
	rec := lockRecord{
		Version:           schemaVersion,
		JobID:             lock.JobID,
		LockedAt:          epochSeconds(lock.AcquiredAt),
		OwnerID:           lock.OwnerID,
		Operation:         lock.Operation,
		EstimatedDuration: lock.EstimatedDuration.Seconds(),
		Token:             lock.Token,
		CreatedAt:         time.Now().UTC().Format(time.RFC3339),
	}
	return writeJSON(s.lockPath(lock.JobID), rec)
}

// Delete removes the lock file. A missing file is not an error.
func (s *FileStore) Delete(jobID string) error {
	if err := os.Remove(s.lockPath(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete lock file: %w", err)
	}
	return nil
}

// Load reads every lock file. Unreadable files are logged and skipped.
func (s *FileStore) Load() ([]domain.JobLock, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock directory: %w", err)
	}

	var locks []domain.JobLock
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := jobIDFromFile(e.Name()); !ok {
			continue
		}

		path := filepath.Join(s.dir, e.Name())
		var rec lockRecord
		if err := readJSON(path, &rec); err != nil {
			s.logger.Warn("skipping unreadable lock file", "path", path, "error", err)
			continue
		}
		if rec.Version > schemaVersion || rec.JobID == "" {
			s.logger.Warn("skipping lock file with unsupported schema",
				"path", path,
				"version", rec.Version)
			continue
		}

		locks = append(locks, domain.JobLock{
			JobID:             rec.JobID,
			AcquiredAt:        fromEpochSeconds(rec.LockedAt),
			OwnerID:           rec.OwnerID,
			Operation:         rec.Operation,
			EstimatedDuration: time.Duration(rec.EstimatedDuration * float64(time.Second)),
			Token:             rec.Token,
		})
	}
	return locks, nil
}

// SaveProcessed records when jobID last finished.
func (s *FileStore) SaveProcessed(jobID string, at time.Time) error {
	return writeJSON(s.processedPath(jobID), processedRecord{
		Version:     schemaVersion,
		JobID:       jobID,
		ProcessedAt: epochSeconds(at),
	})
}

// DeleteProcessed forgets when jobID last finished.
func (s *FileStore) DeleteProcessed(jobID string) error {
	if err := os.Remove(s.processedPath(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete processed marker: %w", err)
	}
	return nil
}

// LoadProcessed reads every processed marker.
func (s *FileStore) LoadProcessed() (map[string]time.Time, error) {
	dir := filepath.Join(s.dir, processedDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read processed directory: %w", err)
	}

	out := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := jobIDFromFile(e.Name()); !ok {
			continue
		}
		var rec processedRecord
		if err := readJSON(filepath.Join(dir, e.Name()), &rec); err != nil {
			s.logger.Warn("skipping unreadable processed marker", "file", e.Name(), "error", err)
			continue
		}
		out[rec.JobID] = fromEpochSeconds(rec.ProcessedAt)
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to persist %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpochSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
