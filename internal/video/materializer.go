package video

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/linkcaring/milestone-analyzer/internal/apperr"
	"github.com/linkcaring/milestone-analyzer/internal/models"
)

// Materializer turns a VideoSource into a concrete, analyzable artifact:
// fetched or uploaded bytes persisted to scratch storage, or a pass-through
// remote reference.
type Materializer struct {
	client      *http.Client
	scratchDir  string
	maxFileSize int64
}

// MaterializerConfig holds configuration for the materializer.
type MaterializerConfig struct {
	ScratchDir  string        // Default: os.TempDir()
	MaxFileSize int64         // Default: 2GB
	Timeout     time.Duration // Default: 5min
}

// NewMaterializer creates a materializer with defaults applied.
func NewMaterializer(config *MaterializerConfig) *Materializer {
	if config == nil {
		config = &MaterializerConfig{}
	}
	if config.ScratchDir == "" {
		config.ScratchDir = os.TempDir()
	}
	if config.MaxFileSize == 0 {
		config.MaxFileSize = 2 * 1024 * 1024 * 1024
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}

	return &Materializer{
		client: &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		scratchDir:  config.ScratchDir,
		maxFileSize: config.MaxFileSize,
	}
}

// Materialize resolves src into a MaterializedVideo. The returned cleanup
// func removes any scratch artifact the call created and is safe to defer on
// every exit path; it is non-nil even on error.
func (m *Materializer) Materialize(ctx context.Context, src models.VideoSource) (models.MaterializedVideo, func(), error) {
	noop := func() {}

	switch {
	case src.YouTubeURL != "":
		// Pass-through reference. The provider resolves the concrete type.
		return models.MaterializedVideo{
			RemoteURL: src.YouTubeURL,
			MimeType:  "video/*",
		}, noop, nil

	case src.BucketURL != "":
		return m.fetchToScratch(ctx, src.BucketURL)

	case src.Upload != nil:
		return m.persistUpload(src.Upload)

	default:
		return models.MaterializedVideo{}, noop, apperr.ErrInvalidVideo
	}
}

// fetchToScratch downloads a trusted bucket URL into scratch storage.
func (m *Materializer) fetchToScratch(ctx context.Context, rawURL string) (models.MaterializedVideo, func(), error) {
	noop := func() {}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.MaterializedVideo{}, noop, apperr.ErrInvalidVideo.WithCause(err)
	}
	req.Header.Set("User-Agent", "MilestoneAnalyzer/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		log.Printf("[Materializer] video fetch failed: %v", err)
		return models.MaterializedVideo{}, noop, apperr.ErrInvalidVideo.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Materializer] video fetch failed: HTTP %d from %s", resp.StatusCode, resp.Request.URL.Hostname())
		return models.MaterializedVideo{}, noop, apperr.ErrInvalidVideo.WithCause(
			fmt.Errorf("fetch returned HTTP %d", resp.StatusCode))
	}

	// Prefer the response content type when it is a concrete video type,
	// otherwise fall back to the URL's extension.
	mimeType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if !strings.HasPrefix(mimeType, "video/") {
		mimeType = MimeTypeFromURL(rawURL)
	}

	fileName := FileNameFromURL(rawURL)
	filePath, cleanup, err := m.writeScratch(fileName, resp.Body)
	if err != nil {
		return models.MaterializedVideo{}, noop, apperr.ErrInvalidVideo.WithCause(err)
	}

	return models.MaterializedVideo{
		FilePath: filePath,
		MimeType: mimeType,
		FileName: fileName,
	}, cleanup, nil
}

// persistUpload writes uploaded bytes to scratch storage.
func (m *Materializer) persistUpload(up *models.UploadSource) (models.MaterializedVideo, func(), error) {
	noop := func() {}

	if int64(len(up.Data)) > m.maxFileSize {
		return models.MaterializedVideo{}, noop, apperr.ErrInvalidVideo.WithCause(
			fmt.Errorf("upload of %d bytes exceeds limit %d", len(up.Data), m.maxFileSize))
	}

	filePath, cleanup, err := m.writeScratch(up.FileName, bytes.NewReader(up.Data))
	if err != nil {
		return models.MaterializedVideo{}, noop, apperr.ErrInvalidVideo.WithCause(err)
	}

	return models.MaterializedVideo{
		FilePath: filePath,
		MimeType: ResolveMimeType(up.DeclaredMime, up.FileName),
		FileName: up.FileName,
	}, cleanup, nil
}

// writeScratch streams src into a freshly named scratch file, enforcing the
// size cap. On success the returned cleanup removes the file.
func (m *Materializer) writeScratch(originalName string, src io.Reader) (string, func(), error) {
	if err := os.MkdirAll(m.scratchDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	filePath := filepath.Join(m.scratchDir, ScratchFileName(originalName))
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(src, m.maxFileSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > m.maxFileSize {
		err = fmt.Errorf("video exceeded size limit of %d bytes", m.maxFileSize)
	}
	if err != nil {
		os.Remove(filePath)
		return "", nil, err
	}

	cleanup := func() {
		if rmErr := os.Remove(filePath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("[Materializer] WARNING: failed to remove scratch file %s: %v", filePath, rmErr)
		}
	}
	return filePath, cleanup, nil
}
