package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"chartscribe/internal/domain"
	"chartscribe/internal/ports"
)

// ClientConfig controls the transcription backend HTTP client.
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	UserID       string
	UserTier     string
	ProbeTimeout time.Duration
}

// Client uploads sealed segments to the transcription backend as multipart
// form data and parses the returned transcript JSON.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:9090"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Client{
		cfg: cfg,
		// No request timeout: a hung upload stalls only its own segment,
		// never the capture pipeline.
		http: &http.Client{},
	}
}

type transcribeResponse struct {
	Transcript         string   `json:"transcript"`
	DiarizedTranscript string   `json:"diarizedTranscript"`
	Utterances         []string `json:"utterances"`
	Confidence         float64  `json:"confidence"`
	Words              []string `json:"words"`
	Paragraphs         []string `json:"paragraphs"`
}

// Transcribe uploads one sealed segment and returns the backend's text.
func (c *Client) Transcribe(ctx context.Context, seg domain.SealedSegment) (ports.TranscriptionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", fmt.Sprintf("segment-%04d.pcm", seg.Sequence))
	if err != nil {
		return ports.TranscriptionResult{}, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(seg.Audio); err != nil {
		return ports.TranscriptionResult{}, fmt.Errorf("failed to write audio payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ports.TranscriptionResult{}, fmt.Errorf("failed to finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), &body)
	if err != nil {
		return ports.TranscriptionResult{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuthHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.TranscriptionResult{}, fmt.Errorf("transcription upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.TranscriptionResult{}, fmt.Errorf("transcription failed: %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.TranscriptionResult{}, fmt.Errorf("failed to read transcription response: %w", err)
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return ports.TranscriptionResult{}, fmt.Errorf("malformed transcription response: %w", err)
	}

	return ports.TranscriptionResult{
		Transcript:         strings.TrimSpace(parsed.Transcript),
		DiarizedTranscript: strings.TrimSpace(parsed.DiarizedTranscript),
		Utterances:         parsed.Utterances,
		Confidence:         parsed.Confidence,
		Words:              parsed.Words,
		Paragraphs:         parsed.Paragraphs,
	}, nil
}

// Probe checks backend reachability with a preflight-style request. A 405 is
// treated as reachable: the endpoint exists even if it rejects OPTIONS.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.endpoint(), nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach transcription service: %w", err)
	}
	defer resp.Body.Close()

	if (resp.StatusCode >= 200 && resp.StatusCode < 300) || resp.StatusCode == http.StatusMethodNotAllowed {
		return nil
	}
	return errors.New("transcription service unavailable: " + resp.Status)
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/transcribe"
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	}
	if c.cfg.UserID != "" {
		req.Header.Set("X-User-Id", c.cfg.UserID)
	} else {
		req.Header.Set("X-Guest-Session", "true")
	}
	if c.cfg.UserTier != "" {
		req.Header.Set("X-User-Tier", c.cfg.UserTier)
	}
}
