package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/storage"
)

// Issuer obtains streaming credentials from the content service.
type Issuer interface {
	// Issue creates a fresh credential set for every rendition of the lesson.
	Issue(ctx context.Context, lesson *models.Lesson, viewerID uuid.UUID, role string) (models.StreamingCredentialSet, error)
	// Refresh re-issues credentials, replacing the current set wholesale. The new
	// set's expiry is strictly later than the current one's.
	Refresh(ctx context.Context, lesson *models.Lesson, viewerID uuid.UUID, role string, current models.StreamingCredentialSet) (models.StreamingCredentialSet, error)
}

// ContentSigner is the issuer's view of the content object store.
// Satisfied by *storage.S3.
type ContentSigner interface {
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	PresignExpire() time.Duration
}

// S3Issuer issues credentials as pre-signed GET URLs over the per-quality manifest
// objects in the content bucket. All entries of one issuance share a single expiry.
type S3Issuer struct {
	signer  ContentSigner
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewS3Issuer creates an issuer backed by the content bucket.
func NewS3Issuer(signer ContentSigner, fetchTimeout time.Duration, logger *zap.Logger) *S3Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &S3Issuer{signer: signer, timeout: fetchTimeout, logger: logger, now: time.Now}
}

// Issue presigns every rendition manifest plus the thumbnail. Renditions without an
// explicit object key in the catalog fall back to the standard media layout. One
// failed presign is retried once; a second failure fails the whole issuance.
func (i *S3Issuer) Issue(ctx context.Context, lesson *models.Lesson, viewerID uuid.UUID, role string) (models.StreamingCredentialSet, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	issuedAt := i.now()
	expire := i.signer.PresignExpire()
	expiresAt := issuedAt.Add(expire)

	set := models.StreamingCredentialSet{
		Qualities: make(map[string]models.QualityCredential, len(lesson.QualityBitrate)),
		IssuedAt:  issuedAt,
	}
	for quality, bitrate := range lesson.QualityBitrate {
		key := lesson.QualityKeys[quality]
		if key == "" {
			key = storage.ManifestKey(lesson.ID.String(), quality)
		}
		url, err := i.presignWithRetry(ctx, key, expire)
		if err != nil {
			return models.StreamingCredentialSet{}, fmt.Errorf("presign manifest %s/%s: %w", lesson.ID, quality, err)
		}
		set.Qualities[quality] = models.QualityCredential{
			ManifestURL: url,
			BitrateKbps: bitrate,
			ExpiresAt:   expiresAt,
		}
	}
	if key := i.thumbnailKey(ctx, lesson); key != "" {
		if url, err := i.presignWithRetry(ctx, key, expire); err == nil {
			set.ThumbnailURL = url
		}
	}
	i.logger.Debug("issued streaming credentials",
		zap.String("lesson_id", lesson.ID.String()),
		zap.String("viewer_id", viewerID.String()),
		zap.String("role", role),
		zap.Time("expires_at", expiresAt),
		zap.Int("qualities", len(set.Qualities)))
	return set, nil
}

// Refresh re-issues the set. Presigning is stateless, so a refresh is a fresh issue;
// the later IssuedAt guarantees a later shared expiry.
func (i *S3Issuer) Refresh(ctx context.Context, lesson *models.Lesson, viewerID uuid.UUID, role string, _ models.StreamingCredentialSet) (models.StreamingCredentialSet, error) {
	return i.Issue(ctx, lesson, viewerID, role)
}

// thumbnailKey resolves the thumbnail object key. Without a catalog entry the
// standard-layout key is used only when the object actually exists, so viewers
// never get a signed URL to nothing.
func (i *S3Issuer) thumbnailKey(ctx context.Context, lesson *models.Lesson) string {
	if lesson.ThumbnailKey != "" {
		return lesson.ThumbnailKey
	}
	key := storage.ThumbnailKey(lesson.ID.String())
	ok, err := i.signer.ObjectExists(ctx, key)
	if err != nil || !ok {
		return ""
	}
	return key
}

func (i *S3Issuer) presignWithRetry(ctx context.Context, key string, expire time.Duration) (string, error) {
	url, err := i.signer.PresignGet(ctx, key, expire)
	if err == nil {
		return url, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	return i.signer.PresignGet(ctx, key, expire)
}
