// Package transcribe sends audio to a speech-to-text service and renders
// the transcript as WebVTT captions.
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
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyTranscript is returned when neither model produced any text.
var ErrEmptyTranscript = errors.New("empty transcript")

// Segment is a timed piece of a transcript, in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the service's answer.
type Transcript struct {
	Text     string    `json:"text"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	// Model is the model that produced the transcript.
	Model string `json:"-"`
}

// Empty reports whether the transcript has no words.
func (t Transcript) Empty() bool {
	return strings.TrimSpace(t.Text) == ""
}

// Config locates the service and names the models.
type Config struct {
	URL           string
	APIKey        string
	Model         string
	FallbackModel string
	Timeout       time.Duration
}

// Client calls the speech-to-text service.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// New returns a Client.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}, log: log}
}

// Transcribe uploads the audio file at path to the primary model and, when
// that returns no text, to the fallback model.
func (c *Client) Transcribe(ctx context.Context, path string) (Transcript, error) {
	t, err := c.request(ctx, path, c.cfg.Model)
	if err != nil {
		return Transcript{}, err
	}
	if !t.Empty() || c.cfg.FallbackModel == "" || c.cfg.FallbackModel == c.cfg.Model {
		if t.Empty() {
			return t, ErrEmptyTranscript
		}
		return t, nil
	}

	c.log.Info("primary model returned no text, trying fallback",
		zap.String("path", path),
		zap.String("model", c.cfg.Model),
		zap.String("fallback", c.cfg.FallbackModel),
	)
	t, err = c.request(ctx, path, c.cfg.FallbackModel)
	if err != nil {
		return Transcript{}, fmt.Errorf("fallback model: %w", err)
	}
	if t.Empty() {
		return t, ErrEmptyTranscript
	}
	return t, nil
}

func (c *Client) request(ctx context.Context, path, model string) (Transcript, error) {
	body, contentType, err := multipartBody(path, model)
	if err != nil {
		return Transcript{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, body)
	if err != nil {
		return Transcript{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcribe %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Transcript{}, fmt.Errorf("transcribe %s: status %d: %s", filepath.Base(path), resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var t Transcript
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript: %w", err)
	}
	t.Model = model
	return t, nil
}

func multipartBody(path, model string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, "", err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
