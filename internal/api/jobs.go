package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/mlahtinen/syncwatch/internal/job"
)

// startJobResponse is the job-initiation response.
type startJobResponse struct {
	SessionID string `json:"sessionId"`
}

// StartJob uploads a catalog file and starts a synchronization job,
// returning the opaque session id the server assigned. The file is read
// into memory so retries replay an identical multipart body.
func (c *Client) StartJob(ctx context.Context, catalogPath string) (string, error) {
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return "", fmt.Errorf("api: reading catalog file: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filepath.Base(catalogPath))
	if err != nil {
		return "", fmt.Errorf("api: building multipart body: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("api: building multipart body: %w", err)
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("api: building multipart body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/sync/start", buf.Bytes(), mw.FormDataContentType(), true)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	var out startJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("api: decoding start job response: %w", err)
	}

	if out.SessionID == "" {
		return "", fmt.Errorf("api: start job response missing sessionId")
	}

	return out.SessionID, nil
}

// Cancel asks the server to cancel the given job. Acknowledge-only.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/sync/"+url.PathEscape(sessionID)+"/cancel", nil, nil)
}

// Resume asks the server to resume a paused or interrupted job.
// Acknowledge-only; follow up with a stream attach to watch progress.
func (c *Client) Resume(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/sync/"+url.PathEscape(sessionID)+"/resume", nil, nil)
}

// SkipFailed asks the server to drop the job's failed items and continue.
// Acknowledge-only.
func (c *Client) SkipFailed(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/sync/"+url.PathEscape(sessionID)+"/skip-failed", nil, nil)
}

// ActiveJob asks the server whether a job is currently running for this
// user. Returns nil with no error when there is none — the server answers
// with a JSON null body in that case.
func (c *Client) ActiveJob(ctx context.Context) (*job.OrphanedSession, error) {
	var out *job.OrphanedSession
	if err := c.doJSON(ctx, http.MethodGet, "/sync/active", nil, &out); err != nil {
		return nil, err
	}

	if out != nil && out.SessionID == "" {
		return nil, fmt.Errorf("api: active job response missing sessionId")
	}

	return out, nil
}
