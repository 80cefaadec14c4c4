package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linkcaring/milestone-analyzer/internal/analyze"
	"github.com/linkcaring/milestone-analyzer/internal/apperr"
	"github.com/linkcaring/milestone-analyzer/internal/models"
	"github.com/linkcaring/milestone-analyzer/internal/store"
)

type fakeRunner struct {
	result *analyze.Result
	err    error
	got    analyze.Request
	calls  int
}

func (r *fakeRunner) Run(ctx context.Context, req analyze.Request) (*analyze.Result, error) {
	r.calls++
	r.got = req
	return r.result, r.err
}

type fakeReads struct {
	milestones []store.MilestoneIDName
	stats      []models.ResponseStat
	err        error
}

func (r *fakeReads) ListMilestoneIDs(ctx context.Context) ([]store.MilestoneIDName, error) {
	return r.milestones, r.err
}

func (r *fakeReads) GetResponseStats(ctx context.Context, requestID string) ([]models.ResponseStat, error) {
	return r.stats, r.err
}

type fakeKeys struct {
	keys    map[string]*models.APIKey
	touched []int64
}

func (k *fakeKeys) GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error) {
	return k.keys[key], nil
}

func (k *fakeKeys) TouchAPIKey(ctx context.Context, id int64) error {
	k.touched = append(k.touched, id)
	return nil
}

type fakeEnqueuer struct {
	payloads []models.AnalyzeTaskPayload
	err      error
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, payload models.AnalyzeTaskPayload) error {
	e.payloads = append(e.payloads, payload)
	return e.err
}

type fakeResults struct {
	data map[string][]byte
}

func (r *fakeResults) GetResult(ctx context.Context, requestID string) ([]byte, error) {
	return r.data[requestID], nil
}

func validKeys() *fakeKeys {
	return &fakeKeys{keys: map[string]*models.APIKey{
		"good-key":     {ID: 5, Key: "good-key", IsActive: true, CreatedAt: time.Now()},
		"inactive-key": {ID: 6, Key: "inactive-key", IsActive: false, CreatedAt: time.Now()},
	}}
}

func newTestServer(runner *fakeRunner, reads *fakeReads, enqueuer Enqueuer, results ResultReader) (*Server, *fakeKeys) {
	keys := validKeys()
	srv := New(Config{
		Runner:   runner,
		Reads:    reads,
		Keys:     keys,
		Enqueuer: enqueuer,
		Results:  results,
	})
	return srv, keys
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(fileContent)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(&fakeRunner{}, &fakeReads{}, nil, nil)
	handler := srv.Router()

	tests := []struct {
		name     string
		header   func(*http.Request)
		wantCode int
		wantMsg  string
	}{
		{"no key", func(r *http.Request) {}, 401, "No API key provided"},
		{"unknown key", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }, 401, "Invalid API key"},
		{"inactive key", func(r *http.Request) { r.Header.Set("X-API-Key", "inactive-key") }, 401, "API key is inactive"},
		{"bearer form accepted", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-key") }, 200, ""},
		{"x-api-key accepted", func(r *http.Request) { r.Header.Set("X-API-Key", "good-key") }, 200, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/milestone-ids", nil)
			tt.header(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantMsg != "" && !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body = %s, want message %q", rec.Body.String(), tt.wantMsg)
			}
		})
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(&fakeRunner{}, &fakeReads{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func TestHandleAnalyzeSuccess(t *testing.T) {
	runner := &fakeRunner{result: &analyze.Result{
		MilestoneID: 42,
		Result:      true,
		Confidence:  0.9,
		Validators:  []models.ValidatorCheck{{Description: "d", Result: true}},
		Policy:      models.PolicyThreshold{MinValidatorsPassed: 80, MinConfidence: 70},
	}}
	srv, keys := newTestServer(runner, &fakeReads{}, nil, nil)
	handler := srv.Router()

	body, contentType := multipartBody(t,
		map[string]string{"milestoneId": "42"},
		"video", "clip.mp4", []byte("video bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}

	var got analyze.Result
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.MilestoneID != 42 || !got.Result {
		t.Errorf("response = %+v", got)
	}

	if runner.got.MilestoneID != "42" {
		t.Errorf("runner saw milestoneId %q", runner.got.MilestoneID)
	}
	if runner.got.Upload == nil || string(runner.got.Upload.Data) != "video bytes" {
		t.Error("runner did not receive the uploaded bytes")
	}
	if runner.got.Upload.FileName != "clip.mp4" {
		t.Errorf("upload filename = %q", runner.got.Upload.FileName)
	}
	if runner.got.APIKeyID == nil || *runner.got.APIKeyID != 5 {
		t.Error("runner missing the authenticated key id")
	}
	if len(keys.touched) != 1 || keys.touched[0] != 5 {
		t.Error("api key last_used_at not touched")
	}
}

func TestHandleAnalyzeURLOnly(t *testing.T) {
	runner := &fakeRunner{result: &analyze.Result{MilestoneID: 7}}
	srv, _ := newTestServer(runner, &fakeReads{}, nil, nil)

	body, contentType := multipartBody(t,
		map[string]string{"milestoneId": "7", "videoUrl": "https://youtu.be/abc"},
		"", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if runner.got.Upload != nil {
		t.Error("runner should see no upload for a URL request")
	}
	if runner.got.VideoURL != "https://youtu.be/abc" {
		t.Errorf("runner saw videoUrl %q", runner.got.VideoURL)
	}
}

func TestHandleAnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"invalid video", apperr.ErrInvalidVideo, 400, "Invalid or missing video input"},
		{"invalid milestone id", apperr.ErrInvalidMilestoneID, 400, "Invalid or missing milestone ID"},
		{"milestone not found", apperr.ErrMilestoneNotFound, 404, "invalid milestone ID"},
		{"configuration missing", apperr.ErrConfigurationMissing, 500, "Internal server error"},
		{"parse error", apperr.ErrModelResponseParse.WithCause(errors.New("bad json")), 500, "Internal server error"},
		{"uncategorized", errors.New("boom"), 500, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(&fakeRunner{err: tt.err}, &fakeReads{}, nil, nil)

			body, contentType := multipartBody(t, map[string]string{"milestoneId": "1"}, "video", "c.mp4", []byte("v"))
			req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("X-API-Key", "good-key")
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body = %s, want %q", rec.Body.String(), tt.wantMsg)
			}
		})
	}
}

func TestHandleAnalyzeRejectsNonMultipart(t *testing.T) {
	srv, _ := newTestServer(&fakeRunner{}, &fakeReads{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{"milestoneId": 1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAnalyzeResults(t *testing.T) {
	code := "INVALID_VIDEO"
	reads := &fakeReads{stats: []models.ResponseStat{
		{ID: 1, RequestID: "req-1", Status: models.StatusError, HTTPStatus: 400, ErrorCode: &code},
	}}
	srv, _ := newTestServer(&fakeRunner{}, reads, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/analyze-results/req-1", nil)
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []models.ResponseStat
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "req-1" {
		t.Errorf("got %+v", got)
	}
}

func TestHandleAnalyzeResultsNotFound(t *testing.T) {
	srv, _ := newTestServer(&fakeRunner{}, &fakeReads{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/analyze-results/unknown", nil)
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleMilestoneIDs(t *testing.T) {
	reads := &fakeReads{milestones: []store.MilestoneIDName{
		{ID: 1, Name: "Claps hands"},
		{ID: 2, Name: "Waves bye-bye"},
	}}
	srv, _ := newTestServer(&fakeRunner{}, reads, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/milestone-ids", nil)
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []store.MilestoneIDName
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Claps hands" {
		t.Errorf("got %+v", got)
	}
}

func TestHandleAnalyzeAsync(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	srv, _ := newTestServer(&fakeRunner{}, &fakeReads{}, enqueuer, &fakeResults{})

	form := "milestoneId=42&videoUrl=" + "https%3A%2F%2Fyoutu.be%2Fabc"
	req := httptest.NewRequest(http.MethodPost, "/api/analyze/async", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(enqueuer.payloads) != 1 {
		t.Fatalf("enqueued %d payloads, want 1", len(enqueuer.payloads))
	}
	p := enqueuer.payloads[0]
	if p.MilestoneID != "42" || p.VideoURL != "https://youtu.be/abc" {
		t.Errorf("payload = %+v", p)
	}
	if !strings.Contains(rec.Body.String(), p.RequestID) {
		t.Error("response must echo the request id")
	}
}

func TestHandleAnalyzeAsyncRejectsBadURL(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	srv, _ := newTestServer(&fakeRunner{}, &fakeReads{}, enqueuer, &fakeResults{})

	form := "milestoneId=42&videoUrl=https%3A%2F%2Fevil.example.com%2Fa.mp4"
	req := httptest.NewRequest(http.MethodPost, "/api/analyze/async", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(enqueuer.payloads) != 0 {
		t.Error("bad URL must not be enqueued")
	}
}

func TestHandleAsyncResult(t *testing.T) {
	stored := []byte(`{"requestId":"req-9","status":"SUCCESS"}`)
	results := &fakeResults{data: map[string][]byte{"req-9": stored}}
	srv, _ := newTestServer(&fakeRunner{}, &fakeReads{}, &fakeEnqueuer{}, results)

	req := httptest.NewRequest(http.MethodGet, "/api/analyze/async/req-9", nil)
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != string(stored) {
		t.Errorf("body = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/analyze/async/missing", nil)
	req.Header.Set("X-API-Key", "good-key")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing result status = %d, want 404", rec.Code)
	}
}

func TestAsyncRoutesAbsentWithoutQueue(t *testing.T) {
	srv, _ := newTestServer(&fakeRunner{}, &fakeReads{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze/async", nil)
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code == http.StatusAccepted {
		t.Fatal("async route must not exist when no queue is configured")
	}
}
