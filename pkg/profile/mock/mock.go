// Package mock provides a test double for profile.Store.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sarvis/pkg/profile"
)

var _ profile.Store = (*Store)(nil)

// Store is a mock implementation of profile.Store.
type Store struct {
	mu sync.Mutex

	// Items is returned by Profiles.
	Items []profile.Profile

	// Err, if non-nil, is returned by Profiles together with Items.
	Err error

	// Calls counts Profiles invocations.
	Calls int
}

// Profiles implements profile.Store.
func (s *Store) Profiles(context.Context) ([]profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	return s.Items, s.Err
}

// Set replaces the stored profiles.
func (s *Store) Set(items ...profile.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Items = items
}
