package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fusionn-scribe/internal/fileops"
)

var (
	// ErrNotFound means no ledger exists for the job.
	ErrNotFound = errors.New("ledger not found")
	// ErrCorrupt means the ledger exists but cannot be trusted.
	ErrCorrupt = errors.New("ledger corrupt")
)

// Store persists one job's ledger file. Writes are atomic (temp file + rename).
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a store for the ledger at path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string { return s.path }

// Exists reports whether a ledger file is present.
func (s *Store) Exists() bool {
	return fileops.Exists(s.path)
}

// Load reads the ledger. It returns ErrNotFound when absent and wraps ErrCorrupt
// when the content is not a ledger this build understands.
func (s *Store) Load() (*Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if job.Version < 1 || job.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, job.Version)
	}
	if !job.Stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrCorrupt, job.Stage)
	}
	return &job, nil
}

// Save stamps and atomically writes the ledger.
func (s *Store) Save(job *Job) error {
	job.Version = CurrentVersion
	job.UpdatedAt = s.now()

	data, err := json.MarshalIndent(job, "", "    ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := fileops.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// Remove retires the ledger; its absence marks terminal success.
func (s *Store) Remove() error {
	return fileops.Remove(s.path)
}
