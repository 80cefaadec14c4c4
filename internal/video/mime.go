package video

import (
	"net/url"
	"path"
	"strings"
)

const defaultMimeType = "video/mp4"

// extToMime is the fixed extension fallback table used when a source does not
// declare a reliable content type.
var extToMime = map[string]string{
	"mp4":   "video/mp4",
	"mov":   "video/quicktime",
	"webm":  "video/webm",
	"mpeg":  "video/mpeg",
	"mpg":   "video/mpeg",
	"m4v":   "video/mp4",
	"qt":    "video/quicktime",
	"3gp":   "video/3gpp",
	"3gpp":  "video/3gpp",
	"3g2":   "video/3gpp2",
	"3gpp2": "video/3gpp2",
}

// MimeTypeFromName maps a filename's extension to a video MIME type,
// defaulting to video/mp4 for unknown or missing extensions.
func MimeTypeFromName(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if mime, ok := extToMime[ext]; ok {
		return mime
	}
	return defaultMimeType
}

// MimeTypeFromURL maps a URL's path extension to a video MIME type.
func MimeTypeFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultMimeType
	}
	return MimeTypeFromName(u.Path)
}

// ResolveMimeType picks the effective MIME type for a video: a declared,
// specific type wins; a missing or generic declaration falls back to the
// extension table.
func ResolveMimeType(declared, fileName string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" || declared == "application/octet-stream" {
		return MimeTypeFromName(fileName)
	}
	return declared
}

// FileNameFromURL extracts a plausible filename from a URL path, appending
// .mp4 when the last segment has no extension.
func FileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "video.mp4"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "video"
	}
	if !strings.Contains(name, ".") {
		name += ".mp4"
	}
	return name
}
