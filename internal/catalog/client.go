// Package catalog is the client of the catalog reference service, which
// issues inventory numbers and stores the published file records.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/signing"
)

var (
	// ErrUnauthorized is returned when the service rejects the token.
	ErrUnauthorized = errors.New("catalog rejected credentials")
	// ErrUnexpectedStatus wraps any other non-2xx answer.
	ErrUnexpectedStatus = errors.New("unexpected catalog response")
)

// Client talks to the catalog service over HTTP.
type Client struct {
	base   *url.URL
	http   *http.Client
	signer *signing.Signer
	log    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a client for the service rooted at baseURL.
func New(baseURL string, secret []byte, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse catalog url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("catalog url %q must be absolute", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 30 * time.Second},
		signer: signing.NewSigner(secret),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// File is the record published for one processed item.
type File struct {
	Code        string            `json:"code"`
	Collection  string            `json:"collection"`
	Type        string            `json:"type"`
	Folder      string            `json:"folder,omitempty"`
	Hash        string            `json:"hash,omitempty"`
	Pages       int               `json:"pages,omitempty"`
	StorageKeys map[string]string `json:"storageKeys,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// FileFromItem converts a processed item into its catalog record.
func FileFromItem(collection string, it model.ProcessingItem) File {
	return File{
		Code:        it.Code,
		Collection:  collection,
		Type:        string(it.Type),
		Folder:      it.Folder,
		Hash:        it.Hash,
		Pages:       it.Pages,
		StorageKeys: it.StorageKeys,
		Fields:      it.Fields,
	}
}

type nextNumberResponse struct {
	Next int `json:"next"`
}

// NextInventoryNumber asks for the first unused number of prefix.
func (c *Client) NextInventoryNumber(ctx context.Context, prefix string) (int, error) {
	var out nextNumberResponse
	q := url.Values{"prefix": {prefix}}
	if err := c.do(ctx, http.MethodGet, "/inventory/next", q, nil, &out); err != nil {
		return 0, err
	}
	if out.Next < 1 || out.Next > model.MaxInventoryNumber {
		return 0, fmt.Errorf("%w: next number %d out of range", ErrUnexpectedStatus, out.Next)
	}
	return out.Next, nil
}

// InsertFiles publishes file records in one request.
func (c *Client) InsertFiles(ctx context.Context, files []File) error {
	if len(files) == 0 {
		return nil
	}
	body := struct {
		Files []File `json:"files"`
	}{files}
	return c.do(ctx, http.MethodPost, "/files", nil, body, nil)
}

// DeleteImport removes every catalog row of the import whose first code
// is code.
func (c *Client) DeleteImport(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodGet, "/imports/delete", url.Values{"code": {code}}, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	// The token embeds the current time and is only valid briefly.
	req.Header.Set("Authorization", "Token "+c.signer.Token())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("catalog request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedStatus, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
