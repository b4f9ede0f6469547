package models

import "time"

// QualityCredential is one time-limited manifest reference for a single rendition.
type QualityCredential struct {
	ManifestURL string    `json:"manifest_url"`
	BitrateKbps int       `json:"bitrate_kbps"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// StreamingCredentialSet holds the manifest references for every rendition of one lesson.
// All entries of one issuance share a single expiry; re-issuances carry a later expiry.
type StreamingCredentialSet struct {
	Qualities    map[string]QualityCredential `json:"qualities"`
	IssuedAt     time.Time                    `json:"issued_at"`
	ThumbnailURL string                       `json:"thumbnail_url,omitempty"`
}

// ExpiresAt returns the shared expiry of the set (zero when the set is empty).
func (s StreamingCredentialSet) ExpiresAt() time.Time {
	for _, q := range s.Qualities {
		return q.ExpiresAt
	}
	return time.Time{}
}

// QualityLabels returns the labels present in the set.
func (s StreamingCredentialSet) QualityLabels() []string {
	labels := make([]string, 0, len(s.Qualities))
	for label := range s.Qualities {
		labels = append(labels, label)
	}
	return labels
}
