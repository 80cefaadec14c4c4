// Package provider integrates with the generative model API that performs
// the actual video assessment. All provider-specific request and response
// shaping stays behind the Client so any compatible model API can be
// substituted.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/linkcaring/milestone-analyzer/internal/apperr"
	"github.com/linkcaring/milestone-analyzer/internal/models"
)

// Asset processing poll configuration. Provider-side transcoding of larger
// videos is asynchronous, so uploads are polled until they leave the
// PROCESSING state, bounded by both an attempt cap and a deadline.
const (
	DefaultPollInterval = 1 * time.Second
	DefaultPollTimeout  = 120 * time.Second
	MaxPollAttempts     = 60
)

// defaultInlineLimit is the largest local file sent inline (base64) in the
// request body; larger files go through the provider's asset store.
const defaultInlineLimit = 19 * 1024 * 1024

// Client talks to a Gemini-style generative model API.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	inlineLimit int64
}

// ClientConfig holds provider client configuration.
type ClientConfig struct {
	BaseURL     string // e.g. https://generativelanguage.googleapis.com
	APIKey      string
	Timeout     time.Duration // Default: 5min (video inference is slow)
	InlineLimit int64         // Default: 19MB
}

// NewClient creates a provider client with defaults applied.
func NewClient(config *ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.InlineLimit == 0 {
		config.InlineLimit = defaultInlineLimit
	}
	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		httpClient:  &http.Client{Timeout: config.Timeout},
		inlineLimit: config.InlineLimit,
	}
}

// generateRequest is the outbound generateContent payload. The response
// schema is declared so the provider enforces shape server-side.
type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
	FileData   *fileData   `json:"file_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type fileData struct {
	MimeType string `json:"mime_type,omitempty"`
	FileURI  string `json:"file_uri"`
}

type generationConfig struct {
	ResponseMimeType string          `json:"responseMimeType"`
	ResponseSchema   json.RawMessage `json:"responseSchema"`
}

// responseSchema instructs the model to return exactly the validators array
// plus a confidence number.
var responseSchema = json.RawMessage(`{
	"type": "OBJECT",
	"properties": {
		"validators": {
			"type": "ARRAY",
			"items": {
				"type": "OBJECT",
				"properties": {
					"description": {"type": "STRING"},
					"result": {"type": "BOOLEAN"}
				}
			}
		},
		"confidence": {"type": "NUMBER"}
	},
	"propertyOrdering": ["validators", "confidence"],
	"required": ["validators", "confidence"]
}`)

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		TotalTokenCount int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// providerFile is the asset-store record for an uploaded video.
type providerFile struct {
	Name  string `json:"name"` // "files/<id>"
	URI   string `json:"uri"`
	State string `json:"state"` // PROCESSING, ACTIVE, FAILED
}

type uploadResponse struct {
	File providerFile `json:"file"`
}

// Submit sends the materialized video plus the prompt to the model and
// returns the sanitized response with the total token count when reported.
//
// Remote references are passed through by URL. Local files are inlined when
// small enough; larger files are uploaded to the provider's asset store,
// polled out of PROCESSING, then referenced by URI. Uploaded assets are
// deleted best-effort after the call.
func (c *Client) Submit(ctx context.Context, video models.MaterializedVideo, prompt, modelID string) (models.ModelResponse, *int64, error) {
	videoPart, cleanup, err := c.videoPart(ctx, video)
	if err != nil {
		return models.ModelResponse{}, nil, err
	}
	defer cleanup()

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{videoPart, {Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   responseSchema,
		},
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, modelID)

	start := time.Now()
	var genResp generateResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint, reqBody, &genResp); err != nil {
		return models.ModelResponse{}, nil, err
	}
	log.Printf("[Provider] model %s answered in %.2fs", modelID, time.Since(start).Seconds())

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return models.ModelResponse{}, nil, apperr.ErrModelResponseParse.WithCause(
			fmt.Errorf("response contains no candidates"))
	}

	response, err := SanitizeResponse([]byte(genResp.Candidates[0].Content.Parts[0].Text))
	if err != nil {
		return models.ModelResponse{}, nil, err
	}

	var tokenCount *int64
	if genResp.UsageMetadata != nil {
		tokenCount = &genResp.UsageMetadata.TotalTokenCount
	}
	return response, tokenCount, nil
}

// videoPart builds the video content part for the request. The returned
// cleanup deletes any provider-side asset the call created; it is non-nil
// even on error.
func (c *Client) videoPart(ctx context.Context, video models.MaterializedVideo) (part, func(), error) {
	noop := func() {}

	if video.IsRemote() {
		return part{FileData: &fileData{FileURI: video.RemoteURL}}, noop, nil
	}

	info, err := os.Stat(video.FilePath)
	if err != nil {
		return part{}, noop, apperr.ErrInvalidVideo.WithCause(err)
	}

	if info.Size() <= c.inlineLimit {
		data, err := os.ReadFile(video.FilePath)
		if err != nil {
			return part{}, noop, apperr.ErrInvalidVideo.WithCause(err)
		}
		return part{InlineData: &inlineData{
			MimeType: video.MimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		}}, noop, nil
	}

	asset, err := c.uploadAsset(ctx, video)
	if err != nil {
		return part{}, noop, err
	}
	cleanup := func() { c.deleteAsset(asset.Name) }
	return part{FileData: &fileData{MimeType: video.MimeType, FileURI: asset.URI}}, cleanup, nil
}

// uploadAsset streams the file to the provider's asset store and waits until
// it leaves the PROCESSING state.
func (c *Client) uploadAsset(ctx context.Context, video models.MaterializedVideo) (*providerFile, error) {
	f, err := os.Open(video.FilePath)
	if err != nil {
		return nil, apperr.ErrInvalidVideo.WithCause(err)
	}
	defer f.Close()

	endpoint := fmt.Sprintf("%s/upload/v1beta/files", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", video.MimeType)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asset upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asset upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	var uploaded uploadResponse
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}

	return c.waitForAsset(ctx, uploaded.File)
}

// waitForAsset polls the asset until provider-side transcoding finishes.
// Bounded by MaxPollAttempts and DefaultPollTimeout so a stuck asset never
// blocks a request indefinitely.
func (c *Client) waitForAsset(ctx context.Context, file providerFile) (*providerFile, error) {
	pollCtx, cancel := context.WithTimeout(ctx, DefaultPollTimeout)
	defer cancel()

	for attempt := 1; file.State == "PROCESSING"; attempt++ {
		if attempt > MaxPollAttempts {
			return nil, fmt.Errorf("asset %s still processing after %d polls", file.Name, MaxPollAttempts)
		}

		select {
		case <-pollCtx.Done():
			return nil, fmt.Errorf("asset %s processing wait aborted: %w", file.Name, pollCtx.Err())
		case <-time.After(DefaultPollInterval):
		}

		endpoint := fmt.Sprintf("%s/v1beta/%s", c.baseURL, file.Name)
		if err := c.doJSON(pollCtx, http.MethodGet, endpoint, nil, &file); err != nil {
			return nil, fmt.Errorf("asset status poll failed: %w", err)
		}
	}

	if file.State != "ACTIVE" {
		return nil, fmt.Errorf("asset %s entered state %s", file.Name, file.State)
	}
	return &file, nil
}

// deleteAsset removes an uploaded asset. Best effort: failures are logged,
// never raised to the caller.
func (c *Client) deleteAsset(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1beta/%s", c.baseURL, name)
	if err := c.doJSON(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		log.Printf("[Provider] WARNING: failed to delete asset %s: %v", name, err)
	}
}

// doJSON performs one JSON request against the provider API.
func (c *Client) doJSON(ctx context.Context, method, url string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
