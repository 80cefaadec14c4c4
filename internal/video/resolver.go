// Package video handles intake of caller-supplied videos: validating the
// source, fetching remote content, and persisting bytes to scratch storage.
package video

import (
	"net/url"
	"strings"

	"github.com/linkcaring/milestone-analyzer/internal/apperr"
	"github.com/linkcaring/milestone-analyzer/internal/models"
)

const (
	bucketName   = "gaga-linkcaring"
	bucketSuffix = ".r2.cloudflarestorage.com"
)

// youtubeHosts is the fixed hostname allow-list for YouTube links.
var youtubeHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"youtu.be":        true,
	"m.youtube.com":   true,
}

// ResolveSource determines the VideoSource from the raw request fields.
// Exactly one of upload or rawURL must be present; a present URL must match
// either the trusted bucket grammar or the YouTube hostname allow-list.
// No network access happens here.
func ResolveSource(upload *models.UploadSource, rawURL string) (models.VideoSource, error) {
	rawURL = strings.TrimSpace(rawURL)
	hasUpload := upload != nil
	hasURL := rawURL != ""

	if hasUpload == hasURL {
		// Neither present, or both present.
		return models.VideoSource{}, apperr.ErrInvalidVideo
	}

	if hasUpload {
		return models.VideoSource{Upload: upload}, nil
	}

	if IsYouTubeURL(rawURL) {
		return models.VideoSource{YouTubeURL: rawURL}, nil
	}
	if IsBucketURL(rawURL) {
		return models.VideoSource{BucketURL: rawURL}, nil
	}
	return models.VideoSource{}, apperr.ErrInvalidVideo
}

// IsBucketURL reports whether rawURL is a valid presigned URL for the trusted
// storage bucket. HTTPS is required; the hostname must be under the storage
// provider's domain and the bucket name must appear either as the leading
// hostname label (virtual-hosted style) or as the first path segment
// (path style). Any other hostname is rejected even over HTTPS.
func IsBucketURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "https" {
		return false
	}

	hostname := strings.ToLower(u.Hostname())

	// Virtual-hosted style: https://<bucket>.r2.cloudflarestorage.com/...
	if hostname == bucketName+bucketSuffix {
		return true
	}

	// Path style: https://<account-id>.r2.cloudflarestorage.com/<bucket>/...
	if strings.HasSuffix(hostname, bucketSuffix) {
		for _, part := range strings.Split(u.Path, "/") {
			if part == "" {
				continue
			}
			return part == bucketName
		}
	}

	return false
}

// IsYouTubeURL reports whether rawURL points at YouTube. Only the hostname is
// checked against a fixed allow-list; the scheme is not enforced here.
func IsYouTubeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return youtubeHosts[strings.ToLower(u.Hostname())]
}
