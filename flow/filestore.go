package flow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/snitcher/mitmproxy/internal/logging"
	"github.com/snitcher/mitmproxy/internal/perror"
)

// FileStore persists one JSON file per flow under a directory, keyed by
// id, and deserializes on demand for queries. Errors reading a single
// file are logged and skipped rather than failing the whole query.
type FileStore struct {
	mu  sync.Mutex
	dir string
	log logging.Logger
}

// NewFileStore prepares a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string, log logging.Logger) (*FileStore, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, perror.NewInternalError("flow-filestore-init", err)
	}
	return &FileStore{dir: dir, log: log}, nil
}

func (s *FileStore) pathFor(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".json")
}

// Store writes flow to its own file, overwriting any prior record for
// the same id.
func (s *FileStore) Store(f *Flow) error {
	if f == nil {
		return nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return perror.NewInternalError("flow-filestore-store", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.pathFor(f.ID), data, 0o600); err != nil {
		return perror.NewInternalError("flow-filestore-store", err)
	}
	return nil
}

// Get loads the flow with the given id, if its file exists.
func (s *FileStore) Get(id uuid.UUID) (*Flow, bool) {
	s.mu.Lock()
	data, err := os.ReadFile(s.pathFor(id))
	s.mu.Unlock()
	if err != nil {
		return nil, false
	}
	var f Flow
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Warn("flow filestore: corrupt record", "id", id, "error", err)
		return nil, false
	}
	return &f, true
}

// GetFlows returns every stored flow matching pred, newest first. limit
// <= 0 means "return all", matching the in-memory Store's convention: an
// omitted limit is not the same as a limit of one.
func (s *FileStore) GetFlows(pred func(*Flow) bool, limit int) []*Flow {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("flow filestore: list failed", "dir", s.dir, "error", err)
		return nil
	}

	all := make([]*Flow, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		s.mu.Lock()
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("flow filestore: read failed", "file", entry.Name(), "error", err)
			continue
		}
		var f Flow
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("flow filestore: corrupt record", "file", entry.Name(), "error", err)
			continue
		}
		if pred == nil || pred(&f) {
			all = append(all, &f)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
