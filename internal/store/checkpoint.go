package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	enginerrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

const checkpointTimeLayout = "20060102T150405.000000000"

// FileCheckpointStore persists checkpoints as one JSON file per snapshot,
// keyed by timestamp. Writes go to a temp file in the same directory and
// are atomically renamed into place.
type FileCheckpointStore struct {
	dir             string
	maxRetries      int
	equityTolerance float64
	retainCount     int
	logger          zerolog.Logger
}

// NewFileCheckpointStore creates the store, creating the directory if
// needed.
func NewFileCheckpointStore(dir string, maxRetries int, equityTolerance float64, retainCount int, logger zerolog.Logger) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, enginerrors.NewCheckpointError("mkdir", dir, err)
	}
	return &FileCheckpointStore{
		dir:             dir,
		maxRetries:      maxRetries,
		equityTolerance: equityTolerance,
		retainCount:     retainCount,
		logger:          logger.With().Str("component", "checkpoint").Logger(),
	}, nil
}

func (s *FileCheckpointStore) pathFor(ts time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("checkpoint-%s.json", ts.UTC().Format(checkpointTimeLayout)))
}

// Save implements CheckpointStore.
func (s *FileCheckpointStore) Save(cp models.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return enginerrors.NewCheckpointError("marshal", s.dir, err)
	}

	final := s.pathFor(cp.Timestamp)

	// Temp file in the same directory so the rename stays on one
	// filesystem and is atomic.
	tmp, err := os.CreateTemp(s.dir, "checkpoint-*.tmp")
	if err != nil {
		return enginerrors.NewCheckpointError("create", s.dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return enginerrors.NewCheckpointError("write", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return enginerrors.NewCheckpointError("sync", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return enginerrors.NewCheckpointError("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return enginerrors.NewCheckpointError("rename", final, err)
	}

	s.prune()
	return nil
}

// prune removes checkpoint files beyond the retention count, oldest
// first.
func (s *FileCheckpointStore) prune() {
	if s.retainCount <= 0 {
		return
	}
	names, err := s.sortedNames()
	if err != nil || len(names) <= s.retainCount {
		return
	}
	for _, name := range names[s.retainCount:] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn().Str("file", name).Err(err).Msg("Failed to prune checkpoint")
		}
	}
}

// sortedNames returns checkpoint file names, newest first.
func (s *FileCheckpointStore) sortedNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, enginerrors.NewCheckpointError("list", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "checkpoint-") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// load reads and validates one checkpoint file.
func (s *FileCheckpointStore) load(name string) (models.Checkpoint, error) {
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		return models.Checkpoint{}, enginerrors.NewCheckpointError("read", path, err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return models.Checkpoint{}, enginerrors.NewCheckpointError("unmarshal", path, err)
	}
	if !cp.Consistent(s.equityTolerance) {
		return models.Checkpoint{}, enginerrors.Wrapf(enginerrors.ErrCheckpointCorrupt, "file %s", name)
	}
	return cp, nil
}

// Recover implements CheckpointStore: load the latest checkpoint, falling
// back to the next-older one on corruption, bounded by the configured
// retry budget.
func (s *FileCheckpointStore) Recover(ctx context.Context) (models.Checkpoint, error) {
	names, err := s.sortedNames()
	if err != nil {
		return models.Checkpoint{}, err
	}
	if len(names) == 0 {
		return models.Checkpoint{}, enginerrors.ErrCheckpointNotFound
	}

	attempts := s.maxRetries
	if attempts > len(names) {
		attempts = len(names)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return models.Checkpoint{}, ctx.Err()
		default:
		}

		cp, err := s.load(names[i])
		if err == nil {
			if i > 0 {
				s.logger.Warn().
					Int("skipped", i).
					Str("file", names[i]).
					Msg("Recovered from older checkpoint")
			}
			return cp, nil
		}
		lastErr = err
		s.logger.Warn().Str("file", names[i]).Err(err).Msg("Checkpoint unusable")
	}

	return models.Checkpoint{}, enginerrors.Wrapf(enginerrors.ErrRecoveryExhausted, "%d attempts, last error: %v", attempts, lastErr)
}

// LoadAt implements CheckpointStore.
func (s *FileCheckpointStore) LoadAt(ts time.Time) (models.Checkpoint, error) {
	return s.load(filepath.Base(s.pathFor(ts)))
}

// Timestamps implements CheckpointStore.
func (s *FileCheckpointStore) Timestamps() ([]time.Time, error) {
	names, err := s.sortedNames()
	if err != nil {
		return nil, err
	}

	times := make([]time.Time, 0, len(names))
	for _, name := range names {
		raw := strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint-"), ".json")
		ts, err := time.Parse(checkpointTimeLayout, raw)
		if err != nil {
			continue
		}
		times = append(times, ts)
	}
	return times, nil
}

var _ CheckpointStore = (*FileCheckpointStore)(nil)
