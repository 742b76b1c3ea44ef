package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"signsync/internal/services"
)

// StatusResumeIncomplete is the blob store's "308 Resume Incomplete".
const StatusResumeIncomplete = http.StatusPermanentRedirect

// UploadLinkRequest describes a file the client wants to upload.
type UploadLinkRequest struct {
	Path         string
	MD5          string
	FileSize     int64
	TutorialMode bool
}

// RequestUploadLink asks the server for a blob upload target.
func (c *Client) RequestUploadLink(ctx context.Context, token string, req UploadLinkRequest) (string, error) {
	values := url.Values{}
	values.Set("path", req.Path)
	values.Set("md5", req.MD5)
	values.Set("file_size", strconv.FormatInt(req.FileSize, 10))
	values.Set("tutorial_mode", strconv.FormatBool(req.TutorialMode))

	var payload struct {
		UploadLink string `json:"uploadLink"`
	}
	if err := c.postFormJSON(ctx, "upload", token, values, &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.UploadLink) == "" {
		return "", services.Wrap(services.ErrTransient, "server", "upload", "response missing uploadLink", nil)
	}
	return payload.UploadLink, nil
}

// StartSession opens a resumable upload session and returns its URL.
func (c *Client) StartSession(ctx context.Context, uploadLink, md5Base64, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadLink, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.ContentLength = 0
	req.Header.Set("X-Goog-Resumable", "start")
	req.Header.Set("Content-MD5", md5Base64)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.transfer.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "blob", "start session", "request failed", err)
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return "", classifyStatus("start session", resp)
	}
	location := strings.TrimSpace(resp.Header.Get("Location"))
	if location == "" {
		return "", services.Wrap(services.ErrProtocol, "blob", "start session", "response missing Location header", nil)
	}
	return location, nil
}

// SessionState is what the blob store has accepted so far.
type SessionState struct {
	Complete bool
	// Committed is the number of bytes persisted from offset 0.
	Committed int64
}

// QuerySession probes a session with a zero-length PUT.
func (c *Client) QuerySession(ctx context.Context, sessionLink string, total int64) (SessionState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionLink, http.NoBody)
	if err != nil {
		return SessionState{}, fmt.Errorf("build probe request: %w", err)
	}
	req.ContentLength = 0
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))

	resp, err := c.transfer.Do(req)
	if err != nil {
		return SessionState{}, services.Wrap(services.ErrTransient, "blob", "probe session", "request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case isSuccess(resp.StatusCode):
		return SessionState{Complete: true, Committed: total}, nil
	case resp.StatusCode == StatusResumeIncomplete:
		committed, err := ParseCommittedRange(resp.Header.Get("Range"))
		if err != nil {
			return SessionState{}, err
		}
		if committed > total {
			return SessionState{}, services.Wrap(services.ErrProtocol, "blob", "probe session",
				fmt.Sprintf("server holds %d bytes of a %d byte file", committed, total), nil)
		}
		return SessionState{Committed: committed}, nil
	default:
		return SessionState{}, classifyStatus("probe session", resp)
	}
}

// ParseCommittedRange turns a "bytes=0-K" Range header into K+1. An absent
// header means nothing was persisted. Ranges not starting at 0 violate the
// protocol.
func ParseCommittedRange(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, services.Wrap(services.ErrProtocol, "blob", "parse range", fmt.Sprintf("unexpected unit in %q", header), nil)
	}
	startRaw, endRaw, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, services.Wrap(services.ErrProtocol, "blob", "parse range", fmt.Sprintf("malformed range %q", header), nil)
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startRaw), 10, 64)
	if err != nil {
		return 0, services.Wrap(services.ErrProtocol, "blob", "parse range", fmt.Sprintf("malformed range %q", header), err)
	}
	if start != 0 {
		return 0, services.Wrap(services.ErrProtocol, "blob", "parse range", fmt.Sprintf("range %q does not start at byte 0", header), nil)
	}
	end, err := strconv.ParseInt(strings.TrimSpace(endRaw), 10, 64)
	if err != nil || end < start {
		return 0, services.Wrap(services.ErrProtocol, "blob", "parse range", fmt.Sprintf("malformed range %q", header), err)
	}
	return end + 1, nil
}

// UploadRange streams body as bytes [start, total) of the session in one PUT.
// Only a 2xx response counts as completion.
func (c *Client) UploadRange(ctx context.Context, sessionLink string, body io.Reader, start, total int64) error {
	length := total - start
	if length < 0 {
		return services.Wrap(services.ErrProtocol, "blob", "upload", fmt.Sprintf("start %d beyond size %d", start, total), nil)
	}
	if length == 0 {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionLink, body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = length
	if length == 0 {
		req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
	} else {
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, total-1, total))
	}

	resp, err := c.transfer.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "blob", "upload", "request failed", err)
	}
	defer resp.Body.Close()
	if isSuccess(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return classifyStatus("upload", resp)
}

// VerifyResult is the server's integrity verdict for an uploaded blob.
type VerifyResult struct {
	Verified     bool
	FileNotFound bool
}

// Verify asks the server whether the blob at path matches md5.
func (c *Client) Verify(ctx context.Context, token, path, md5 string) (VerifyResult, error) {
	values := url.Values{}
	values.Set("path", path)
	values.Set("md5", md5)
	resp, err := c.postForm(ctx, c.client, "verify", token, values)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusServiceUnavailable {
			var body struct {
				FileNotFound bool `json:"fileNotFound"`
			}
			if json.Unmarshal([]byte(statusErr.Body), &body) == nil && body.FileNotFound {
				return VerifyResult{FileNotFound: true}, nil
			}
		}
		return VerifyResult{}, err
	}
	defer resp.Body.Close()
	var body struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return VerifyResult{}, services.Wrap(services.ErrTransient, "server", "verify", "decode response", err)
	}
	return VerifyResult{Verified: body.Verified}, nil
}
