package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

type fakeSigner struct {
	mu        sync.Mutex
	failures  map[string]int // remaining presign failures per key
	presigned []string
	objects   map[string]bool
	expire    time.Duration
}

func (f *fakeSigner) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[key] > 0 {
		f.failures[key]--
		return "", errors.New("throttled")
	}
	f.presigned = append(f.presigned, key)
	return "https://cdn.test/" + key, nil
}

func (f *fakeSigner) ObjectExists(_ context.Context, key string) (bool, error) {
	return f.objects[key], nil
}

func (f *fakeSigner) PresignExpire() time.Duration {
	if f.expire > 0 {
		return f.expire
	}
	return 30 * time.Minute
}

func issuerLesson() *models.Lesson {
	return &models.Lesson{
		ID:             uuid.New(),
		QualityBitrate: map[string]int{"480p": 800, "720p": 1500},
	}
}

func TestIssueDerivesKeysFromStandardLayout(t *testing.T) {
	lesson := issuerLesson()
	signer := &fakeSigner{}
	iss := NewS3Issuer(signer, time.Second, nil)

	set, err := iss.Issue(context.Background(), lesson, uuid.New(), "student")
	require.NoError(t, err)
	require.Len(t, set.Qualities, 2)

	hd := set.Qualities["720p"]
	assert.Equal(t, "https://cdn.test/lessons/"+lesson.ID.String()+"/hls/720p/index.m3u8", hd.ManifestURL)
	assert.Equal(t, 1500, hd.BitrateKbps)
	assert.Equal(t, hd.ExpiresAt, set.Qualities["480p"].ExpiresAt, "one issuance shares one expiry")
	assert.Equal(t, set.IssuedAt.Add(30*time.Minute), hd.ExpiresAt)
}

func TestIssuePrefersCatalogKeys(t *testing.T) {
	lesson := issuerLesson()
	lesson.QualityKeys = map[string]string{"720p": "custom/720p/stream.m3u8"}
	signer := &fakeSigner{}
	iss := NewS3Issuer(signer, time.Second, nil)

	set, err := iss.Issue(context.Background(), lesson, uuid.New(), "student")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/custom/720p/stream.m3u8", set.Qualities["720p"].ManifestURL)
	assert.Contains(t, set.Qualities["480p"].ManifestURL, "/hls/480p/", "unlisted renditions still derive the standard key")
}

func TestIssueRetriesFailedPresignOnce(t *testing.T) {
	lesson := &models.Lesson{ID: uuid.New(), QualityBitrate: map[string]int{"480p": 800}}
	key := "lessons/" + lesson.ID.String() + "/hls/480p/index.m3u8"

	signer := &fakeSigner{failures: map[string]int{key: 1}}
	iss := NewS3Issuer(signer, time.Second, nil)
	set, err := iss.Issue(context.Background(), lesson, uuid.New(), "student")
	require.NoError(t, err)
	assert.NotEmpty(t, set.Qualities["480p"].ManifestURL)

	signer = &fakeSigner{failures: map[string]int{key: 2}}
	iss = NewS3Issuer(signer, time.Second, nil)
	_, err = iss.Issue(context.Background(), lesson, uuid.New(), "student")
	assert.Error(t, err, "a second consecutive failure fails the issuance")
}

func TestIssueThumbnailFallbackRequiresObject(t *testing.T) {
	lesson := issuerLesson()
	thumbKey := "lessons/" + lesson.ID.String() + "/thumbnail.jpg"

	signer := &fakeSigner{objects: map[string]bool{thumbKey: true}}
	iss := NewS3Issuer(signer, time.Second, nil)
	set, err := iss.Issue(context.Background(), lesson, uuid.New(), "student")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/"+thumbKey, set.ThumbnailURL)

	signer = &fakeSigner{}
	iss = NewS3Issuer(signer, time.Second, nil)
	set, err = iss.Issue(context.Background(), lesson, uuid.New(), "student")
	require.NoError(t, err)
	assert.Empty(t, set.ThumbnailURL, "no signed URL for an absent thumbnail")
}

func TestRefreshProducesLaterIssuance(t *testing.T) {
	lesson := issuerLesson()
	iss := NewS3Issuer(&fakeSigner{}, time.Second, nil)

	base := time.Now()
	iss.now = func() time.Time { return base }
	first, err := iss.Issue(context.Background(), lesson, uuid.New(), "student")
	require.NoError(t, err)

	iss.now = func() time.Time { return base.Add(time.Minute) }
	second, err := iss.Refresh(context.Background(), lesson, uuid.New(), "student", first)
	require.NoError(t, err)
	assert.True(t, second.IssuedAt.After(first.IssuedAt))
	assert.True(t, second.ExpiresAt().After(first.ExpiresAt()))
}
