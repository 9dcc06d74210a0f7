package session

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Default marker locations.
const (
	DefaultDir        = "/run/sarvis"
	MarkerFile        = "current_user.json"
	EnrollingFlagFile = "enrolling.flag"
)

var _ Store = (*FileStore)(nil)

// FileStore reads the login marker and enrolling flag from a directory on an
// afero filesystem. The marker is re-read only when its modification time or
// size changes.
type FileStore struct {
	fs     afero.Fs
	dir    string
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	modTime time.Time
	size    int64
	loaded  bool
	cached  Session
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithMaxAge expires markers whose timestamp is older than d. Markers without
// a timestamp never expire. Zero disables the check.
func WithMaxAge(d time.Duration) FileOption {
	return func(s *FileStore) { s.maxAge = d }
}

// WithFileClock replaces the clock used for the max age check.
func WithFileClock(now func() time.Time) FileOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates a FileStore for dir on fsys. An empty dir uses
// [DefaultDir].
func NewFileStore(fsys afero.Fs, dir string, opts ...FileOption) *FileStore {
	if dir == "" {
		dir = DefaultDir
	}
	s := &FileStore{fs: fsys, dir: dir, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MarkerPath returns the path of the login marker.
func (s *FileStore) MarkerPath() string { return path.Join(s.dir, MarkerFile) }

// FlagPath returns the path of the enrolling flag.
func (s *FileStore) FlagPath() string { return path.Join(s.dir, EnrollingFlagFile) }

// Current implements Store. A missing, unreadable or malformed marker means
// nobody is logged in; only unexpected filesystem errors are returned.
func (s *FileStore) Current(_ context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enrolling, err := afero.Exists(s.fs, s.FlagPath())
	if err != nil {
		return Session{}, err
	}

	sess, err := s.load()
	if err != nil {
		return Session{Enrolling: enrolling}, err
	}
	sess.Enrolling = enrolling
	if s.maxAge > 0 && !sess.Since.IsZero() && s.now().Sub(sess.Since) > s.maxAge {
		sess.UID = ""
	}
	return sess, nil
}

// load returns the cached marker session, re-reading it when it changed.
// Must be called with s.mu held.
func (s *FileStore) load() (Session, error) {
	p := s.MarkerPath()
	info, err := s.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		s.cached, s.loaded = Session{}, false
		return Session{}, nil
	}
	if err != nil {
		return Session{}, err
	}
	if s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.cached, nil
	}

	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		slog.Debug("session store: marker unreadable", "path", p, "error", err)
		return Session{}, nil
	}
	sess, err := ParseMarker(data)
	if err != nil {
		slog.Debug("session store: marker invalid", "path", p, "error", err)
		sess = Session{}
	}
	s.cached = sess
	s.modTime, s.size, s.loaded = info.ModTime(), info.Size(), true
	return sess, nil
}
