// Package file provides a profile.Store backed by a JSON file on an afero
// filesystem. The file is re-read whenever its modification time or size
// changes.
package file

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/sarvis/pkg/profile"
)

var _ profile.Store = (*Store)(nil)

// Store reads profiles from a single JSON file.
type Store struct {
	fs   afero.Fs
	path string

	mu       sync.Mutex
	modTime  time.Time
	size     int64
	loaded   bool
	profiles []profile.Profile
}

// New creates a Store for path on fsys.
func New(fsys afero.Fs, path string) *Store {
	return &Store{fs: fsys, path: path}
}

// Path returns the watched file path.
func (s *Store) Path() string { return s.path }

// Profiles implements profile.Store. A missing file clears the cache and
// yields no profiles. A file that fails to parse keeps the previous profiles
// and returns the error.
func (s *Store) Profiles(_ context.Context) ([]profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.fs.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if s.loaded {
			slog.Info("profile store: file removed, clearing profiles", "path", s.path)
		}
		s.profiles, s.loaded = nil, false
		return nil, nil
	}
	if err != nil {
		return s.profiles, err
	}
	if s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.profiles, nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return s.profiles, err
	}
	profs, err := profile.Parse(data)
	if err != nil {
		slog.Warn("profile store: keeping previous profiles", "path", s.path, "error", err)
		return s.profiles, err
	}

	s.profiles = profs
	s.modTime, s.size, s.loaded = info.ModTime(), info.Size(), true
	ids := make([]string, len(profs))
	for i, p := range profs {
		ids[i] = p.SpeakerID
	}
	slog.Info("profile store: loaded profiles", "path", s.path, "speakers", ids)
	return profs, nil
}
