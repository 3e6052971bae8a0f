// Package checkpoint persists per-industry link batches so a crawl can
// resume between the link-collection phase and the detail phase
// without re-fetching.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/crawler"
)

// Store writes one JSON file per (industry, pass).
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates the checkpoint directory if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Path derives the deterministic file path for an industry and pass.
func (s *Store) Path(industry string, pass int) string {
	return filepath.Join(s.dir, fmt.Sprintf("links_%s_pass%d.json", sanitizeName(industry), pass))
}

// Save writes the records atomically via a temp-file rename.
func (s *Store) Save(industry string, pass int, records []crawler.LinkRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint for %q: %w", industry, err)
	}

	path := s.Path(industry, pass)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit checkpoint %s: %w", path, err)
	}

	s.logger.Debug("checkpoint written",
		zap.String("industry", industry),
		zap.Int("pass", pass),
		zap.Int("records", len(records)),
	)
	return nil
}

// Load reads one checkpoint. A missing file is not an error; ok
// reports whether the file existed.
func (s *Store) Load(industry string, pass int) ([]crawler.LinkRecord, bool, error) {
	data, err := os.ReadFile(s.Path(industry, pass))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint for %q: %w", industry, err)
	}
	var records []crawler.LinkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint for %q: %w", industry, err)
	}
	return records, true, nil
}

// LoadAll merges every checkpoint in the directory, deduplicated by
// URL. Corrupt files are skipped with a warning so one bad write does
// not strand the rest of the crawl.
func (s *Store) LoadAll() ([]crawler.LinkRecord, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "links_*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint dir: %w", err)
	}

	seen := make(map[string]struct{})
	var merged []crawler.LinkRecord
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", zap.String("path", path), zap.Error(err))
			continue
		}
		var records []crawler.LinkRecord
		if err := json.Unmarshal(data, &records); err != nil {
			s.logger.Warn("skipping corrupt checkpoint", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, rec := range records {
			if _, ok := seen[rec.URL]; ok {
				continue
			}
			seen[rec.URL] = struct{}{}
			merged = append(merged, rec)
		}
	}
	return merged, nil
}

// sanitizeName maps an industry display name onto a safe filename
// fragment.
func sanitizeName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
