package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	requestMaxAttempts = 3
	requestRetryDelay  = 500 * time.Millisecond
	maxResponseBytes   = 2 << 20
)

// sendRequest calls an arbitrary HTTP API with bounded retries on
// transient failures (429, 5xx, timeouts).
func (r *Registry) sendRequest(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	method, err := stringArg(args, "method")
	if err != nil {
		return nil, err
	}
	target, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	headers := optionalMapArg(args, "headers")
	jsonBody := args["json_body"]

	client := &http.Client{Timeout: r.cfg.RequestTimeout}

	var lastErr error
	for attempt := 1; attempt <= requestMaxAttempts; attempt++ {
		out, retry, err := r.doRequest(ctx, client, method, target, headers, jsonBody)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retry || attempt == requestMaxAttempts {
			break
		}
		r.logger.Printf("send_request %s %s attempt %d/%d failed: %v", method, target, attempt, requestMaxAttempts, err)
		select {
		case <-time.After(requestRetryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("request to %s failed: %w", target, lastErr)
}

func (r *Registry) doRequest(ctx context.Context, client *http.Client, method, target string, headers map[string]interface{}, jsonBody interface{}) (interface{}, bool, error) {
	var body io.Reader
	if jsonBody != nil {
		raw, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, false, fmt.Errorf("encoding json_body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, false, err
	}
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		// url.Error covers timeouts and transport failures
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("http status %d", resp.StatusCode)
	}

	var parsed interface{}
	if json.Unmarshal(raw, &parsed) != nil {
		parsed = nil
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"json":        parsed,
		"text":        string(raw),
	}, false, nil
}

// downloadFile fetches a file into the job workspace and returns its
// local path so later run_code calls can read it.
func (r *Registry) downloadFile(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	target, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: r.cfg.DownloadTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: http status %d", target, resp.StatusCode)
	}

	if err := os.MkdirAll(r.workdir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	name := downloadName(target)
	dest := filepath.Join(r.workdir, name)
	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", dest, err)
	}
	defer f.Close()
	written, err := io.Copy(f, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", dest, err)
	}

	r.logger.Printf("job %s: downloaded %s (%d bytes) to %s", r.jobID, target, written, dest)
	return map[string]interface{}{
		"path":  dest,
		"bytes": written,
	}, nil
}

func downloadName(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}
