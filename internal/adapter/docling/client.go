package docling

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"prospek/internal/pipeline"
)

// Client talks to the docling-compatible conversion service. It submits the
// source file with a rendering preset and a page-break placeholder and gets
// back a single markdown stream plus optional per-page rendered images.
type Client struct {
	baseURL     string
	preset      string
	placeholder string
	dpi         int
	client      *http.Client
}

func NewClient(baseURL, preset, placeholder string, dpi int, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		preset:      preset,
		placeholder: placeholder,
		dpi:         dpi,
		client:      &http.Client{Timeout: timeout},
	}
}

// Placeholder is the page-break token the service was configured with.
func (c *Client) Placeholder() string {
	return c.placeholder
}

type convertResponse struct {
	Markdown string   `json:"markdown"`
	Images   []string `json:"images,omitempty"` // base64 PNG, one per page
}

// Convert uploads the file and returns the markdown stream and decoded
// per-page images. Service and network failures come back untagged so the
// caller's retry policy applies; a malformed payload is permanent.
func (c *Client) Convert(ctx context.Context, filePath string) (*pipeline.Extraction, error) {
	f, err := os.Open(filepath.Clean(filePath))
	if err != nil {
		return nil, pipeline.Permanent(fmt.Errorf("source file unavailable: %w", err))
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	_ = mw.WriteField("preset", c.preset)
	_ = mw.WriteField("page_break_placeholder", c.placeholder)
	_ = mw.WriteField("image_dpi", strconv.Itoa(c.dpi))
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := c.baseURL + "/v1/convert"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	slog.DebugContext(ctx, "submitting document for conversion", "file", filepath.Base(filePath), "preset", c.preset, "dpi", c.dpi)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err // network/timeout: transient
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("conversion service error: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, pipeline.Permanent(fmt.Errorf("conversion rejected: %d: %s", resp.StatusCode, raw))
	}

	var parsed convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, pipeline.Permanent(fmt.Errorf("malformed conversion response: %w", err))
	}

	images := make([][]byte, 0, len(parsed.Images))
	for i, enc := range parsed.Images {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, pipeline.Permanent(fmt.Errorf("malformed page image %d: %w", i, err))
		}
		images = append(images, raw)
	}

	return &pipeline.Extraction{Markdown: parsed.Markdown, Images: images}, nil
}
