package server

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linkcaring/milestone-analyzer/internal/analyze"
	"github.com/linkcaring/milestone-analyzer/internal/apperr"
	"github.com/linkcaring/milestone-analyzer/internal/models"
	"github.com/linkcaring/milestone-analyzer/internal/video"
)

// multipartMemoryLimit caps how much of the form is held in memory before
// spilling to disk.
const multipartMemoryLimit = 32 << 20

// handleAnalyze runs a synchronous analysis: multipart form with a
// milestoneId plus exactly one of a video file part or a videoUrl field.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	req := analyze.Request{
		RequestID:   models.NewRequestID(),
		MilestoneID: r.FormValue("milestoneId"),
		VideoURL:    r.FormValue("videoUrl"),
	}
	if key := apiKeyFrom(r.Context()); key != nil {
		req.APIKeyID = &key.ID
	}

	if upload, err := readUploadPart(r); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ErrInvalidVideo.Message)
		return
	} else if upload != nil {
		req.Upload = upload
	}

	w.Header().Set("X-Request-Id", req.RequestID)

	result, err := s.runner.Run(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// readUploadPart reads the optional "video" file part in full. Returns nil
// when the part is absent.
func readUploadPart(r *http.Request) (*models.UploadSource, error) {
	file, header, err := r.FormFile("video")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return &models.UploadSource{
		Data:         data,
		DeclaredMime: header.Header.Get("Content-Type"),
		FileName:     header.Filename,
	}, nil
}

// handleAnalyzeResults returns the audit records for one request id.
func (s *Server) handleAnalyzeResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing id parameter")
		return
	}

	stats, err := s.reads.GetResponseStats(r.Context(), id)
	if err != nil {
		log.Printf("[Server] failed to read analyze results: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(stats) == 0 {
		writeError(w, http.StatusNotFound, "Analysis result not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleMilestoneIDs lists milestone id/name pairs.
func (s *Server) handleMilestoneIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.reads.ListMilestoneIDs(r.Context())
	if err != nil {
		log.Printf("[Server] failed to list milestones: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// handleAnalyzeAsync queues an analysis for background processing. Only URL
// sources are accepted here; uploads must use the synchronous endpoint.
func (s *Server) handleAnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	milestoneID := r.FormValue("milestoneId")
	videoURL := r.FormValue("videoUrl")

	// Reject obviously bad input before enqueueing; the worker re-validates.
	if _, err := video.ResolveSource(nil, videoURL); err != nil {
		writeAppError(w, err)
		return
	}

	payload := models.AnalyzeTaskPayload{
		RequestID:   models.NewRequestID(),
		MilestoneID: milestoneID,
		VideoURL:    videoURL,
	}
	if key := apiKeyFrom(r.Context()); key != nil {
		payload.APIKeyID = &key.ID
	}

	if err := s.enqueuer.Enqueue(r.Context(), payload); err != nil {
		log.Printf("[Server] failed to enqueue analysis: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"requestId": payload.RequestID})
}

// handleAsyncResult returns the stored outcome of a queued analysis.
func (s *Server) handleAsyncResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	data, err := s.results.GetResult(r.Context(), id)
	if err != nil {
		log.Printf("[Server] failed to read async result: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if data == nil {
		writeError(w, http.StatusNotFound, "Analysis result not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeAppError maps a pipeline error onto the HTTP response.
func writeAppError(w http.ResponseWriter, err error) {
	e := apperr.Classify(err)
	if e.HTTPStatus >= 500 {
		log.Printf("[Server] analysis failed: %v", err)
	}
	writeError(w, e.HTTPStatus, e.Message)
}
