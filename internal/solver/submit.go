package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// SubmitResult is the quiz endpoint's verdict on one submission.
type SubmitResult struct {
	Correct bool   `json:"correct"`
	URL     string `json:"url"`
	Reason  string `json:"reason"`
}

// SubmitError reports a submission that the endpoint rejected or that
// never reached it.
type SubmitError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *SubmitError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submitting to %s: http status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submitting to %s: %v", e.URL, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// SubmissionPipeline POSTs answer payloads to the quiz endpoint. It
// enforces the payload size cap and retries once on transient failures
// only; a definitive rejection (4xx) is never retried.
type SubmissionPipeline struct {
	client          *http.Client
	maxPayloadBytes int
	logger          *log.Logger
}

const submitMaxAttempts = 2

// NewSubmissionPipeline builds a pipeline with the given payload cap.
func NewSubmissionPipeline(timeout time.Duration, maxPayloadBytes int) *SubmissionPipeline {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = 1 << 20
	}
	return &SubmissionPipeline{
		client:          &http.Client{Timeout: timeout},
		maxPayloadBytes: maxPayloadBytes,
		logger:          log.New(log.Writer(), "[SUBMIT] ", log.LstdFlags),
	}
}

// Submit sends the payload to submitURL and parses the verdict.
// Oversized payloads are collapsed rather than dropped: the answer is
// replaced by a truncated string rendering so a best-effort submission
// still goes out.
func (p *SubmissionPipeline) Submit(ctx context.Context, submitURL string, payload map[string]interface{}) (*SubmitResult, error) {
	raw, err := p.encode(payload)
	if err != nil {
		return nil, &SubmitError{URL: submitURL, Err: err}
	}

	p.logger.Printf("submitting %d bytes to %s", len(raw), submitURL)

	var lastErr error
	for attempt := 1; attempt <= submitMaxAttempts; attempt++ {
		result, retry, err := p.post(ctx, submitURL, raw)
		if err == nil {
			if result.Correct {
				p.logger.Printf("answer accepted")
			} else {
				p.logger.Printf("answer rejected: %s", result.Reason)
			}
			return result, nil
		}
		lastErr = err
		if !retry || attempt == submitMaxAttempts {
			break
		}
		p.logger.Printf("submit attempt %d/%d failed: %v", attempt, submitMaxAttempts, err)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if se, ok := lastErr.(*SubmitError); ok {
		return nil, se
	}
	return nil, &SubmitError{URL: submitURL, Err: lastErr}
}

func (p *SubmissionPipeline) encode(payload map[string]interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	if len(raw) <= p.maxPayloadBytes {
		return raw, nil
	}

	p.logger.Printf("payload is %d bytes, collapsing to fit %d byte cap", len(raw), p.maxPayloadBytes)

	// Rebuild from scratch: only the identity fields and a truncated
	// answer survive. Whatever other field blew the cap is dropped.
	collapsed := make(map[string]interface{}, 4)
	for _, k := range []string{"email", "secret", "url"} {
		if v, ok := payload[k]; ok {
			collapsed[k] = v
		}
	}
	answerRaw, err := json.Marshal(payload["answer"])
	if err != nil {
		answerRaw = []byte(fmt.Sprintf("%v", payload["answer"]))
	}
	// leave headroom for the other fields
	limit := p.maxPayloadBytes - 4096
	if limit < 1 {
		limit = 1
	}
	if len(answerRaw) > limit {
		answerRaw = answerRaw[:limit]
	}
	collapsed["answer"] = string(answerRaw)

	raw, err = json.Marshal(collapsed)
	if err != nil {
		return nil, fmt.Errorf("encoding collapsed payload: %w", err)
	}
	return raw, nil
}

func (p *SubmissionPipeline) post(ctx context.Context, submitURL string, raw []byte) (*SubmitResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(raw))
	if err != nil {
		return nil, false, &SubmitError{URL: submitURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "TDS-Quiz-Solver/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, &SubmitError{URL: submitURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, &SubmitError{URL: submitURL, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, &SubmitError{URL: submitURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("transient failure")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, &SubmitError{URL: submitURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(body))}
	}

	var result SubmitResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, false, &SubmitError{URL: submitURL, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &result, false, nil
}
