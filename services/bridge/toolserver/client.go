// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolserver owns the authenticated session with the remote
// tool-execution service.
//
// The ToolServer authenticates by cookie: Open performs a handshake against
// /get_cookie and every later call rides the same session. A single session
// is assumed per client instance; the session is read by every call and
// must not be mutated mid-flight.
//
// Infrastructure operations (file transfer, workspace enumeration) are
// single authenticated exchanges with fixed timeouts. They are not part of
// the retry state machine; transport failures propagate to the caller.
package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("toolbridge.toolserver")

// ErrNotSelfHosted is returned by Open when the service is not configured
// for a direct self-hosted connection. There is no fallback mode.
var ErrNotSelfHosted = errors.New("toolserver: only self-hosted connections are supported")

// Timeouts per endpoint class. Tool execution and full-workspace download
// are unbounded because the server decides how long a job may run.
const (
	metadataTimeout = 10 * time.Second
	retrieveTimeout = 20 * time.Second
)

// Config configures the ToolServer connection.
type Config struct {
	// SelfHosted must be true; connecting through a managed gateway is
	// not implemented.
	SelfHosted bool

	// URL is the base URL of the self-hosted ToolServer.
	URL string

	// DownloadDir is where downloaded files and workspace archives are
	// saved. Defaults to the current directory.
	DownloadDir string

	// Logger for session lifecycle events. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is the authenticated session with the ToolServer.
//
// Thread Safety: safe for concurrent use after Open; the cookie jar and
// base URL are not mutated after the handshake.
type Client struct {
	baseURL     string
	downloadDir string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Open establishes the authenticated session.
//
// Description:
//
//	Validates that the service is configured for a direct self-hosted
//	connection, then performs the /get_cookie handshake. The returned
//	session cookie is held in the client's jar and attached to every
//	subsequent call.
//
// Inputs:
//
//	ctx - Context for the handshake round trip.
//	cfg - Connection configuration.
//
// Outputs:
//
//	*Client - The connected client. Call Close() during teardown.
//	error - ErrNotSelfHosted if no direct connection is configured, or
//	  the transport error from the handshake.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	if !cfg.SelfHosted || cfg.URL == "" {
		return nil, ErrNotSelfHosted
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		baseURL:     strings.TrimSuffix(cfg.URL, "/"),
		downloadDir: cfg.DownloadDir,
		httpClient:  &http.Client{Jar: jar},
		logger:      logger,
	}
	if c.downloadDir == "" {
		c.downloadDir = "."
	}

	logger.Info("connecting to toolserver", "url", c.baseURL)
	httpStatus, _, err := c.Post(ctx, "/get_cookie", nil, metadataTimeout)
	if err != nil {
		return nil, fmt.Errorf("toolserver handshake: %w", err)
	}
	if httpStatus != http.StatusOK {
		return nil, fmt.Errorf("toolserver handshake: unexpected status %d", httpStatus)
	}
	logger.Info("toolserver session established")
	return c, nil
}

// Close tears down the session.
//
// Close is best-effort: it runs during teardown, so failures are logged
// and never returned as a hard error to the caller.
func (c *Client) Close(ctx context.Context) {
	_, _, err := c.Post(ctx, "/close_session", nil, metadataTimeout)
	if err != nil {
		c.logger.Warn("toolserver session close failed", "error", err.Error())
		return
	}
	c.logger.Info("toolserver session closed")
}

// BaseURL returns the ToolServer base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Post issues one authenticated JSON exchange against an endpoint.
//
// Description:
//
//	Serializes the payload (nil sends an empty JSON object), POSTs it
//	with the session cookie, and reads the full response body. A zero
//	timeout means unbounded; the ToolServer itself bounds long-running
//	jobs and signals timeouts through HTTP 450.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	endpoint - Endpoint path, e.g. "/execute_tool".
//	payload - JSON-serializable request body, or nil.
//	timeout - Per-call deadline; 0 disables it.
//
// Outputs:
//
//	int - HTTP status code.
//	[]byte - Response body.
//	error - Transport-level failure only; non-2xx statuses are returned
//	  as data for the caller to classify.
func (c *Client) Post(ctx context.Context, endpoint string, payload any, timeout time.Duration) (int, []byte, error) {
	ctx, span := tracer.Start(ctx, "ToolServer.Post")
	defer span.End()
	span.SetAttributes(attribute.String("toolserver.endpoint", endpoint))

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("serialize request for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("toolserver call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response from %s: %w", endpoint, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, respBody, nil
}

// UploadFile sends a local file to the ToolServer workspace.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	path - Local file to upload.
//
// Outputs:
//
//	map[string]any - The server's upload receipt.
//	error - Transport or non-200 failure.
func (c *Client) UploadFile(ctx context.Context, path string) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "ToolServer.UploadFile")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy upload payload: %w", err)
	}
	if err := writer.WriteField("filename", filepath.Base(path)); err != nil {
		return nil, fmt.Errorf("build multipart form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload_file", &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload file: unexpected status %d", resp.StatusCode)
	}
	var receipt map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode upload receipt: %w", err)
	}
	return receipt, nil
}

// DownloadFile fetches one remote file by workspace path and saves it under
// the download directory, mirroring the remote path.
//
// Outputs:
//
//	string - The local save path.
//	error - Transport or non-200 failure.
func (c *Client) DownloadFile(ctx context.Context, remotePath string) (string, error) {
	ctx, span := tracer.Start(ctx, "ToolServer.DownloadFile")
	defer span.End()

	payload := map[string]any{"file_path": remotePath}
	httpStatus, body, err := c.Post(ctx, "/download_file", payload, metadataTimeout)
	if err != nil {
		return "", err
	}
	if httpStatus != http.StatusOK {
		return "", fmt.Errorf("download file %s: unexpected status %d", remotePath, httpStatus)
	}

	savePath := filepath.Join(c.downloadDir, remotePath)
	if err := os.MkdirAll(filepath.Dir(savePath), 0750); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	if err := os.WriteFile(savePath, body, 0640); err != nil {
		return "", fmt.Errorf("save downloaded file: %w", err)
	}
	return savePath, nil
}

// DownloadAllFiles fetches the full workspace archive.
//
// The call is unbounded; archive size is up to the server. The archive is
// saved as workspace.zip under the download directory.
//
// Outputs:
//
//	string - The local archive path.
//	error - Transport or non-200 failure.
func (c *Client) DownloadAllFiles(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "ToolServer.DownloadAllFiles")
	defer span.End()

	httpStatus, body, err := c.Post(ctx, "/download_workspace", nil, 0)
	if err != nil {
		return "", err
	}
	if httpStatus != http.StatusOK {
		return "", fmt.Errorf("download workspace: unexpected status %d", httpStatus)
	}

	savePath := filepath.Join(c.downloadDir, "workspace.zip")
	if err := os.MkdirAll(filepath.Dir(savePath), 0750); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	if err := os.WriteFile(savePath, body, 0640); err != nil {
		return "", fmt.Errorf("save workspace archive: %w", err)
	}
	return savePath, nil
}

// GetWorkspaceStructure lists the remote workspace tree.
//
// Outputs:
//
//	map[string]any - The workspace tree as returned by the server.
//	error - Transport or non-200 failure.
func (c *Client) GetWorkspaceStructure(ctx context.Context) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "ToolServer.GetWorkspaceStructure")
	defer span.End()

	httpStatus, body, err := c.Post(ctx, "/get_workspace_structure", nil, metadataTimeout)
	if err != nil {
		return nil, err
	}
	if httpStatus != http.StatusOK {
		return nil, fmt.Errorf("get workspace structure: unexpected status %d", httpStatus)
	}

	var tree map[string]any
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("decode workspace structure: %w", err)
	}
	return tree, nil
}

// MetadataTimeout returns the fixed timeout for metadata endpoints.
func MetadataTimeout() time.Duration { return metadataTimeout }

// RetrieveTimeout returns the fixed timeout for the tool retrieval endpoint.
func RetrieveTimeout() time.Duration { return retrieveTimeout }
