package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	transcribePath      = "/transcribe"
	combinePath         = "/combine"
	defaultTimeout      = 30 * time.Second
	maxErrorBodyExcerpt = 512
	// maxResponseBytes caps any service response body.
	maxResponseBytes = 1 << 20
)

// Client calls the transcription service.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customizes a client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http = &http.Client{Timeout: timeout}
		}
	}
}

// New constructs a client rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Transcribe uploads the audio file at path as multipart field "audio".
func (c *Client) Transcribe(ctx context.Context, path string) (Result, error) {
	if c == nil {
		return Result{}, fmt.Errorf("transcribe: nil client")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, fmt.Errorf("transcribe: empty file path")
	}

	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: open audio: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	field, err := writer.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: create file field: %w", err)
	}
	if _, err := io.Copy(field, file); err != nil {
		return Result{}, fmt.Errorf("transcribe: copy audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("transcribe: close multipart writer: %w", err)
	}

	payload, err := c.post(ctx, transcribePath, writer.FormDataContentType(), body)
	if err != nil {
		return Result{}, err
	}
	return decodeResult(payload)
}

type combineRequest struct {
	Texts []string `json:"texts"`
}

type combineResponse struct {
	CombinedText *string `json:"combinedText"`
}

// Combine merges texts into one formatted string, preserving order.
func (c *Client) Combine(ctx context.Context, texts []string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("combine: nil client")
	}
	cleaned := make([]string, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			return "", fmt.Errorf("%w: blank text at position %d", ErrInvalidCombine, len(cleaned))
		}
		cleaned = append(cleaned, text)
	}
	if len(cleaned) < 2 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidCombine, len(cleaned))
	}

	encoded, err := json.Marshal(combineRequest{Texts: cleaned})
	if err != nil {
		return "", fmt.Errorf("combine: encode request: %w", err)
	}
	payload, err := c.post(ctx, combinePath, "application/json", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}

	var parsed combineResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode combine: %w", ErrMalformedResponse, err)
	}
	if parsed.CombinedText == nil || strings.TrimSpace(*parsed.CombinedText) == "" {
		return "", fmt.Errorf("%w: missing combinedText", ErrMalformedResponse)
	}
	return strings.TrimSpace(*parsed.CombinedText), nil
}

// Ping issues a GET against healthPath and reports whether the service answered 2xx.
func (c *Client) Ping(ctx context.Context, healthPath string) error {
	if c == nil {
		return fmt.Errorf("ping: nil client")
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("ping: build request: %w", err)
	}
	resp, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: health status %d", ErrNetwork, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, contentType string, body io.Reader) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", path, err)
	}
	request.Header.Set("Content-Type", contentType)
	request.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response: %w", ErrNetwork, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: unexpected status %d: %s", ErrNetwork, path, resp.StatusCode, excerpt(payload))
	}
	if len(payload) > maxResponseBytes {
		return nil, fmt.Errorf("%w: %s: response exceeds %d bytes", ErrMalformedResponse, path, maxResponseBytes)
	}
	return payload, nil
}

func excerpt(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if len(text) > maxErrorBodyExcerpt {
		return text[:maxErrorBodyExcerpt] + "..."
	}
	return text
}
