package solver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitParsesVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		if payload["email"] != "student@example.com" {
			t.Errorf("unexpected email %v", payload["email"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"correct":true,"url":"https://quiz.example.com/q/2","reason":""}`))
	}))
	defer srv.Close()

	p := NewSubmissionPipeline(5*time.Second, 1<<20)
	result, err := p.Submit(context.Background(), srv.URL, map[string]interface{}{
		"email":  "student@example.com",
		"answer": 4,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Correct {
		t.Fatal("expected correct verdict")
	}
	if result.URL != "https://quiz.example.com/q/2" {
		t.Fatalf("unexpected next url %q", result.URL)
	}
}

func TestSubmitRetriesTransientFailureOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"correct":false,"url":"","reason":"wrong value"}`))
	}))
	defer srv.Close()

	p := NewSubmissionPipeline(5*time.Second, 1<<20)
	result, err := p.Submit(context.Background(), srv.URL, map[string]interface{}{"answer": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if result.Reason != "wrong value" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestSubmitDoesNotRetryRejection(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("malformed submission"))
	}))
	defer srv.Close()

	p := NewSubmissionPipeline(5*time.Second, 1<<20)
	_, err := p.Submit(context.Background(), srv.URL, map[string]interface{}{"answer": 1})
	if err == nil {
		t.Fatal("expected error")
	}
	var se *SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %T", err)
	}
	if se.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", se.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("definitive rejection must not be retried, got %d attempts", got)
	}
}

func TestSubmitGivesUpAfterTwoTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewSubmissionPipeline(5*time.Second, 1<<20)
	_, err := p.Submit(context.Background(), srv.URL, map[string]interface{}{"answer": 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := hits.Load(); got != submitMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", submitMaxAttempts, got)
	}
}

func TestSubmitCollapsesOversizedPayload(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		received, _ = io.ReadAll(req.Body)
		w.Write([]byte(`{"correct":false,"url":"","reason":"truncated"}`))
	}))
	defer srv.Close()

	maxBytes := 64 * 1024
	p := NewSubmissionPipeline(5*time.Second, maxBytes)
	_, err := p.Submit(context.Background(), srv.URL, map[string]interface{}{
		"email":  "student@example.com",
		"secret": "s3cret",
		"url":    "https://quiz.example.com/q/1",
		"answer": strings.Repeat("z", 200*1024),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(received) > maxBytes {
		t.Fatalf("collapsed payload still %d bytes, cap %d", len(received), maxBytes)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(received, &payload); err != nil {
		t.Fatalf("collapsed payload not valid JSON: %v", err)
	}
	if payload["email"] != "student@example.com" {
		t.Fatal("identity fields must survive the collapse")
	}
	if _, ok := payload["answer"].(string); !ok {
		t.Fatalf("expected collapsed answer to be a string, got %T", payload["answer"])
	}
}

func TestSubmitCollapseDropsOversizedExtraField(t *testing.T) {
	// A bloated field other than the answer blew the cap: the collapse
	// rebuilds the payload from the identity fields and the answer, so
	// the oversized extra never reaches the wire.
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		received, _ = io.ReadAll(req.Body)
		w.Write([]byte(`{"correct":true,"url":"","reason":""}`))
	}))
	defer srv.Close()

	maxBytes := 64 * 1024
	p := NewSubmissionPipeline(5*time.Second, maxBytes)
	_, err := p.Submit(context.Background(), srv.URL, map[string]interface{}{
		"email":      "student@example.com",
		"secret":     "s3cret",
		"url":        "https://quiz.example.com/q/1",
		"answer":     42,
		"scratchpad": strings.Repeat("z", 2<<20),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(received) > maxBytes {
		t.Fatalf("collapsed payload still %d bytes, cap %d", len(received), maxBytes)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(received, &payload); err != nil {
		t.Fatalf("collapsed payload not valid JSON: %v", err)
	}
	if _, ok := payload["scratchpad"]; ok {
		t.Fatal("oversized extra field must be dropped by the collapse")
	}
	if payload["email"] != "student@example.com" || payload["secret"] != "s3cret" {
		t.Fatalf("identity fields must survive the collapse: %v", payload)
	}
	if payload["answer"] != "42" {
		t.Fatalf("answer must survive the collapse, got %v", payload["answer"])
	}
}
