package playback

import (
	"errors"
	"fmt"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

var (
	// ErrInvalidTransition is returned when an intent would move the session to a
	// state the transition table does not allow. State is left unchanged.
	ErrInvalidTransition = errors.New("invalid playback transition")
	// ErrSessionClosed is returned for intents on a torn-down session.
	ErrSessionClosed = errors.New("playback session closed")
	// ErrSessionNotFound is returned by the manager for unknown session IDs.
	ErrSessionNotFound = errors.New("playback session not found")
	// ErrUnknownQuality is returned when a quality switch targets a rendition the
	// credential store does not carry.
	ErrUnknownQuality = errors.New("unknown quality")
)

func invalidTransition(from, to models.State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
