package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// DefaultTimeout bounds a single request when the caller's context has no
// deadline
const DefaultTimeout = 30 * time.Second

// Client implements ports.RemoteBackend against a Server
type Client struct {
	baseURL string
	http    *http.Client
}

// Ensure Client implements RemoteBackend
var _ ports.RemoteBackend = (*Client)(nil)

// NewClient creates a client for the server at baseURL. A nil httpClient
// uses one with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// FetchDocumentVersion returns the remote last-modified timestamp
func (c *Client) FetchDocumentVersion(ctx context.Context, mindmapID string) (time.Time, error) {
	var out versionJSON
	if err := c.do(ctx, http.MethodGet, docPath(mindmapID, "version"), nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.UpdatedAt.UTC(), nil
}

// FetchDocument returns the full remote document
func (c *Client) FetchDocument(ctx context.Context, mindmapID string) (*domain.Snapshot, error) {
	var out snapshotJSON
	if err := c.do(ctx, http.MethodGet, docPath(mindmapID, ""), nil, &out); err != nil {
		return nil, err
	}
	return out.snapshot(), nil
}

// UploadChanges sends a change set and returns the new remote timestamp
func (c *Client) UploadChanges(ctx context.Context, mindmapID string, changes domain.ChangeSet) (time.Time, error) {
	var out versionJSON
	if err := c.do(ctx, http.MethodPost, docPath(mindmapID, "changes"), toChangesJSON(changes), &out); err != nil {
		return time.Time{}, err
	}
	return out.UpdatedAt.UTC(), nil
}

// Replace overwrites the remote copy of a mindmap
func (c *Client) Replace(ctx context.Context, snap *domain.Snapshot) (time.Time, error) {
	var out versionJSON
	if err := c.do(ctx, http.MethodPut, docPath(snap.Document.ID, ""), toSnapshotJSON(snap), &out); err != nil {
		return time.Time{}, err
	}
	return out.UpdatedAt.UTC(), nil
}

func docPath(mindmapID, suffix string) string {
	p := "/documents/" + url.PathEscape(mindmapID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// StatusError is returned for non-2xx responses other than 404
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ports.ErrNoRemoteCopy, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorJSON
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Message: e.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
