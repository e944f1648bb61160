// Package listing talks to the remote file-listing service (an AList
// compatible API) that holds the media library.
package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
)

// Entry is one immediate child of a listed directory.
type Entry struct {
	Name     string    `json:"name"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Lister lists the immediate entries of a remote directory.
type Lister interface {
	List(ctx context.Context, dir string) ([]Entry, error)
}

// Resolver turns a remote file path into a directly playable URL.
type Resolver interface {
	RawURL(ctx context.Context, filePath string) (string, error)
}

// ErrStatus reports a non-success answer from the listing service, either
// at the HTTP level or in the response envelope.
type ErrStatus struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *ErrStatus) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("listing %s: status %d: %s", e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("listing %s: status %d", e.Path, e.StatusCode)
}

// Client is an HTTP client for the listing service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

var (
	_ Lister   = (*Client)(nil)
	_ Resolver = (*Client)(nil)
)

// New creates a listing client. token is sent verbatim in the Authorization
// header and may be empty for public instances.
func New(baseURL, token string, logger *slog.Logger) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("listing base url required")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With(slog.String("component", "listing")),
	}, nil
}

// Join builds a remote path from a root and a child name.
func Join(root, name string) string {
	return path.Join("/", root, name)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listData struct {
	Content []Entry `json:"content"`
	Total   int     `json:"total"`
}

type getData struct {
	Name   string `json:"name"`
	IsDir  bool   `json:"is_dir"`
	RawURL string `json:"raw_url"`
}

// List returns the entries of dir in the order the service reports them.
func (c *Client) List(ctx context.Context, dir string) ([]Entry, error) {
	req := map[string]any{
		"path":     dir,
		"password": "",
		"page":     1,
		"per_page": 0,
		"refresh":  false,
	}
	var data listData
	if err := c.post(ctx, "/api/fs/list", dir, req, &data); err != nil {
		return nil, err
	}
	if data.Content == nil {
		return []Entry{}, nil
	}
	return data.Content, nil
}

// RawURL returns the direct URL of a file.
func (c *Client) RawURL(ctx context.Context, filePath string) (string, error) {
	var data getData
	if err := c.post(ctx, "/api/fs/get", filePath, map[string]any{"path": filePath, "password": ""}, &data); err != nil {
		return "", err
	}
	if data.IsDir {
		return "", fmt.Errorf("%s is a directory", filePath)
	}
	if data.RawURL == "" {
		return "", &ErrStatus{Path: filePath, StatusCode: http.StatusNotFound, Message: "no raw url"}
	}
	return data.RawURL, nil
}

func (c *Client) post(ctx context.Context, endpoint, remotePath string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	c.logger.Debug("requesting", slog.String("endpoint", endpoint), slog.String("path", remotePath))

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL built from configured base
	if err != nil {
		return fmt.Errorf("listing %s: %w", remotePath, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ErrStatus{Path: remotePath, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&env); err != nil {
		return fmt.Errorf("decoding listing response: %w", err)
	}
	if env.Code != http.StatusOK {
		return &ErrStatus{Path: remotePath, StatusCode: env.Code, Message: env.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding listing data: %w", err)
	}
	return nil
}

// Dirs filters entries down to directories, keeping order.
func Dirs(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			out = append(out, e)
		}
	}
	return out
}
