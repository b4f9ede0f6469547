// Package credentials holds and refreshes the time-limited streaming credentials
// for one playback session.
package credentials

import (
	"errors"
	"sync"
	"time"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

var ErrQualityNotFound = errors.New("quality not found in credential store")

// Store holds the current StreamingCredentialSet for one session.
// Replace swaps the whole set atomically; in-flight playback keeps using the
// manifest URL it already loaded until the session next requests a reload.
type Store struct {
	mu  sync.RWMutex
	set models.StreamingCredentialSet
}

// NewStore creates a store seeded with the initial issuance.
func NewStore(initial models.StreamingCredentialSet) *Store {
	return &Store{set: initial}
}

// Get returns the credential for a quality label.
func (s *Store) Get(quality string) (models.QualityCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.set.Qualities[quality]
	if !ok {
		return models.QualityCredential{}, ErrQualityNotFound
	}
	return cred, nil
}

// Has reports whether the store carries the given quality.
func (s *Store) Has(quality string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set.Qualities[quality]
	return ok
}

// Replace swaps in a new issuance. Sets whose expiry is not later than the current
// one are rejected so a stale re-issuance can never shorten validity.
func (s *Store) Replace(set models.StreamingCredentialSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !set.ExpiresAt().After(s.set.ExpiresAt()) {
		return false
	}
	s.set = set
	return true
}

// Active returns the current set.
func (s *Store) Active() models.StreamingCredentialSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// TimeRemaining returns how long the current issuance stays valid from now.
// Negative when already expired.
func (s *Store) TimeRemaining(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.ExpiresAt().Sub(now)
}
