package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/domain"
	"github.com/conveyor-labs/conveyor-go/internal/storage/objectstore"
)

// ErrNotFound is returned when a job's artifact set is missing, expired, or
// was never promoted because the job did not succeed.
var ErrNotFound = errors.New("artifact not found")

// File is one file of a job's output set, staged for promotion.
type File struct {
	Path string
	Body []byte
}

// Store keeps per-job artifact sets keyed by run id and job name. Blobs live
// in object storage; the index with expiry and hold counts is process state.
// Writes are append-only per run/job (one producer), reads are concurrent.
type Store struct {
	bucket  string
	backend objectstore.Store
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	now func() time.Time
}

type entry struct {
	artifact domain.Artifact
	holds    int
}

func NewStore(backend objectstore.Store, bucket string, logger *slog.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("object store backend is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{
		bucket:  bucket,
		backend: backend,
		logger:  logger,
		entries: make(map[string]*entry),
		now:     time.Now,
	}, nil
}

func artifactKey(runID, job string) string {
	return runID + "/" + job
}

func objectKey(runID, job, path string) string {
	return fmt.Sprintf("runs/%s/%s/%s", runID, job, path)
}

// Put promotes a succeeded job's collected files. It is called at most once
// per run/job; a second promotion for the same key is a programming error.
func (s *Store) Put(ctx context.Context, runID, job string, files []File, ttl time.Duration) (domain.Artifact, error) {
	runID = strings.TrimSpace(runID)
	job = strings.TrimSpace(job)
	if runID == "" || job == "" {
		return domain.Artifact{}, errors.New("run id and job name are required")
	}
	if len(files) == 0 {
		return domain.Artifact{}, errors.New("artifact file set is empty")
	}
	if ttl <= 0 {
		return domain.Artifact{}, errors.New("artifact ttl must be positive")
	}

	now := s.now().UTC()
	artifact := domain.Artifact{
		RunID:     runID,
		JobName:   job,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	for _, file := range files {
		sum := sha256.Sum256(file.Body)
		key := objectKey(runID, job, file.Path)
		if err := s.backend.Put(ctx, s.bucket, key, bytes.NewReader(file.Body), int64(len(file.Body)), "application/octet-stream"); err != nil {
			return domain.Artifact{}, fmt.Errorf("store artifact %s: %w", key, err)
		}
		artifact.Files = append(artifact.Files, domain.ArtifactFile{
			Path:      file.Path,
			SizeBytes: int64(len(file.Body)),
			SHA256:    hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(artifact.Files, func(i, j int) bool {
		return artifact.Files[i].Path < artifact.Files[j].Path
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	key := artifactKey(runID, job)
	if _, exists := s.entries[key]; exists {
		return domain.Artifact{}, fmt.Errorf("artifact already promoted for %s", key)
	}
	s.entries[key] = &entry{artifact: artifact}
	return artifact, nil
}

// Get returns the artifact record. Expiry is checked lazily here.
func (s *Store) Get(runID, job string) (domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(runID, job)
}

// Hold acquires a reference on a job's artifact set so the reaper cannot
// reclaim it while the holder is reading. Callers must Release.
func (s *Store) Hold(runID, job string) (*Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookupLocked(runID, job); err != nil {
		return nil, err
	}
	ent := s.entries[artifactKey(runID, job)]
	ent.holds++
	return &Hold{store: s, key: artifactKey(runID, job), art: ent.artifact}, nil
}

func (s *Store) lookupLocked(runID, job string) (domain.Artifact, error) {
	ent, ok := s.entries[artifactKey(runID, job)]
	if !ok {
		return domain.Artifact{}, ErrNotFound
	}
	if ent.artifact.Expired(s.now()) && ent.holds == 0 {
		return domain.Artifact{}, ErrNotFound
	}
	return ent.artifact, nil
}

// Open streams one file of a job's artifact set.
func (s *Store) Open(ctx context.Context, runID, job, path string) (io.ReadCloser, error) {
	artifact, err := s.Get(runID, job)
	if err != nil {
		return nil, err
	}
	for _, file := range artifact.Files {
		if file.Path == path {
			rc, _, err := s.backend.Get(ctx, s.bucket, objectKey(runID, job, path))
			if errors.Is(err, objectstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return rc, err
		}
	}
	return nil, ErrNotFound
}

// Fetch reads the whole artifact set into memory for staging into a
// dependent job's workspace.
func (s *Store) Fetch(ctx context.Context, runID, job string) ([]File, error) {
	artifact, err := s.Get(runID, job)
	if err != nil {
		return nil, err
	}
	out := make([]File, 0, len(artifact.Files))
	for _, file := range artifact.Files {
		rc, _, err := s.backend.Get(ctx, s.bucket, objectKey(runID, job, file.Path))
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("fetch artifact %s/%s: %w", job, file.Path, err)
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read artifact %s/%s: %w", job, file.Path, err)
		}
		out = append(out, File{Path: file.Path, Body: body})
	}
	return out, nil
}

// Reap deletes expired artifact sets that nothing holds. Held sets stay
// alive until every reader releases, however late that is.
func (s *Store) Reap(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	victims := make(map[string]domain.Artifact)
	for key, ent := range s.entries {
		if ent.holds == 0 && ent.artifact.Expired(now) {
			victims[key] = ent.artifact
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()

	for key, artifact := range victims {
		for _, file := range artifact.Files {
			if err := s.backend.Delete(ctx, s.bucket, objectKey(artifact.RunID, artifact.JobName, file.Path)); err != nil {
				s.logger.Warn("artifact reap failed", "key", key, "path", file.Path, "error", err)
			}
		}
		s.logger.Info("artifact reaped", "run_id", artifact.RunID, "job", artifact.JobName, "files", len(artifact.Files))
	}
}

// RunReaper reaps on a fixed interval until ctx is cancelled.
func (s *Store) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap(ctx)
		}
	}
}

// Hold is a released-once reference on one artifact set.
type Hold struct {
	store *Store
	key   string
	art   domain.Artifact
	once  sync.Once
}

// Artifact returns the held artifact record.
func (h *Hold) Artifact() domain.Artifact {
	return h.art
}

func (h *Hold) Release() {
	h.once.Do(func() {
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		if ent, ok := h.store.entries[h.key]; ok && ent.holds > 0 {
			ent.holds--
		}
	})
}
