package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

func setExpiring(at time.Time, qualities ...string) models.StreamingCredentialSet {
	set := models.StreamingCredentialSet{
		Qualities: make(map[string]models.QualityCredential, len(qualities)),
		IssuedAt:  at.Add(-30 * time.Minute),
	}
	for _, q := range qualities {
		set.Qualities[q] = models.QualityCredential{
			ManifestURL: "https://cdn.example.com/" + q + "/index.m3u8?sig=abc",
			BitrateKbps: 800,
			ExpiresAt:   at,
		}
	}
	return set
}

func TestStoreGetAndHas(t *testing.T) {
	expiry := time.Now().Add(30 * time.Minute)
	s := NewStore(setExpiring(expiry, "480p", "720p"))

	cred, err := s.Get("720p")
	require.NoError(t, err)
	assert.Contains(t, cred.ManifestURL, "720p")

	_, err = s.Get("1080p")
	assert.ErrorIs(t, err, ErrQualityNotFound)
	assert.True(t, s.Has("480p"))
	assert.False(t, s.Has("1080p"))
}

func TestReplaceRejectsStaleIssuance(t *testing.T) {
	now := time.Now()
	s := NewStore(setExpiring(now.Add(30*time.Minute), "480p"))

	assert.False(t, s.Replace(setExpiring(now.Add(10*time.Minute), "480p")),
		"earlier expiry must not shorten validity")
	assert.False(t, s.Replace(setExpiring(now.Add(30*time.Minute), "480p")),
		"equal expiry is not an improvement")
	assert.True(t, s.Replace(setExpiring(now.Add(60*time.Minute), "480p")))

	remaining := s.TimeRemaining(now)
	assert.InDelta(t, time.Hour, remaining, float64(time.Second))
}

func TestReplaceSwapsWholeSet(t *testing.T) {
	now := time.Now()
	s := NewStore(setExpiring(now.Add(10*time.Minute), "480p", "720p"))

	require.True(t, s.Replace(setExpiring(now.Add(40*time.Minute), "480p", "720p", "1080p")))
	assert.True(t, s.Has("1080p"))
	assert.Len(t, s.Active().QualityLabels(), 3)
}

func TestTimeRemainingNegativeWhenExpired(t *testing.T) {
	now := time.Now()
	s := NewStore(setExpiring(now.Add(-time.Minute), "480p"))
	assert.Negative(t, s.TimeRemaining(now))
}
