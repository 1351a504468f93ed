package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/driftwatch/driftwatch/internal/core"
)

// Element capture parameters. The padding widens the crop around the selected
// element so surrounding context survives in the image.
const (
	ScreenshotPaddingPx   = 189
	ScreenshotJPEGQuality = 80
)

// screenshotTimeout bounds one render-and-capture round trip.
const screenshotTimeout = 30 * time.Second

// maxScreenshotBytes bounds how much image data one capture may return.
const maxScreenshotBytes = 8 * 1024 * 1024

// ScreenshotServiceOptions configures a ScreenshotService.
type ScreenshotServiceOptions struct {
	// Client is the HTTP client for the render service; nil gets a default.
	Client *http.Client
	// Endpoint is the render service's screenshot URL.
	Endpoint string
	// Dir is the local storage root for captured images.
	Dir string
}

// ScreenshotService captures element screenshots through the headless render
// service and stores them under a local directory, one subdirectory per rule.
type ScreenshotService struct {
	client   *http.Client
	endpoint string
	dir      string
}

// NewScreenshotService creates a ScreenshotService with defaulted options.
func NewScreenshotService(opts ScreenshotServiceOptions) *ScreenshotService {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: screenshotTimeout}
	}
	return &ScreenshotService{
		client:   client,
		endpoint: opts.Endpoint,
		dir:      opts.Dir,
	}
}

type screenshotRequest struct {
	URL         string `json:"url"`
	Selector    string `json:"selector"`
	PaddingPx   int    `json:"padding_px"`
	JPEGQuality int    `json:"jpeg_quality"`
}

type screenshotResponse struct {
	// Image is the base64-encoded JPEG of the captured element.
	Image []byte `json:"image"`
}

// Capture renders the element and writes the JPEG to
// <dir>/<ruleID>/<runID>.jpg, returning that path.
func (s *ScreenshotService) Capture(ctx context.Context, req core.ScreenshotRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, screenshotTimeout)
	defer cancel()

	payload, err := json.Marshal(screenshotRequest{
		URL:         req.URL,
		Selector:    req.Selector,
		PaddingPx:   ScreenshotPaddingPx,
		JPEGQuality: ScreenshotJPEGQuality,
	})
	if err != nil {
		return "", fmt.Errorf("marshal screenshot request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build screenshot request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call screenshot service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("screenshot service returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxScreenshotBytes))
	if err != nil {
		return "", fmt.Errorf("read screenshot response: %w", err)
	}
	var decoded screenshotResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode screenshot response: %w", err)
	}
	if len(decoded.Image) == 0 {
		return "", fmt.Errorf("screenshot service returned no image")
	}

	ruleDir := filepath.Join(s.dir, req.RuleID)
	if err := os.MkdirAll(ruleDir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(ruleDir, req.RunID+".jpg")
	if err := os.WriteFile(path, decoded.Image, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

var _ core.ScreenshotCapturer = (*ScreenshotService)(nil)
