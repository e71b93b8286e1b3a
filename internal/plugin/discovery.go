package plugin

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

// Candidate is one plugin directory found by discovery. A candidate
// with a non-nil Err has a manifest that could not be loaded or
// validated; discovery itself never fails the batch.
type Candidate struct {
	ID       string
	Dir      string
	Manifest *Manifest
	Err      error
}

// Scanner finds plugin directories under the configured roots.
type Scanner struct {
	paths []string
	log   zerolog.Logger
}

// NewScanner creates a scanner over the given roots. Roots are checked
// in order; the first root containing a given plugin id wins.
func NewScanner(log zerolog.Logger, paths ...string) *Scanner {
	return &Scanner{paths: paths, log: log}
}

// Paths returns the configured search roots.
func (s *Scanner) Paths() []string {
	return s.paths
}

// Discover walks the roots for directories containing plugin.json.
// Results are sorted by id. Missing roots are skipped silently;
// manifest problems are reported per candidate.
func (s *Scanner) Discover() []*Candidate {
	byID := make(map[string]*Candidate)

	for _, root := range s.paths {
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				s.log.Warn().Str("root", root).Err(err).Msg("plugin root unreadable")
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			manifestPath := filepath.Join(dir, ManifestFileName)
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}

			cand := s.inspect(entry.Name(), dir, manifestPath)
			if _, exists := byID[cand.ID]; exists {
				s.log.Debug().Str("plugin", cand.ID).Str("dir", dir).Msg("shadowed by earlier root")
				continue
			}
			byID[cand.ID] = cand
		}
	}

	candidates := make([]*Candidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// inspect loads one candidate's manifest.
func (s *Scanner) inspect(dirName, dir, manifestPath string) *Candidate {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		// Keyed by directory name so the failure is still listable.
		return &Candidate{ID: dirName, Dir: dir, Err: err}
	}
	return &Candidate{ID: manifest.ID, Dir: dir, Manifest: manifest}
}

// Find locates a single plugin by id across the roots.
func (s *Scanner) Find(id string) (*Candidate, error) {
	for _, c := range s.Discover() {
		if c.ID == id {
			if c.Err != nil {
				return nil, c.Err
			}
			return c, nil
		}
	}
	return nil, ErrPluginNotFound
}
