package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Darunesh1/tds-quiz-solver/config"
	"github.com/Darunesh1/tds-quiz-solver/internal/browser"
	"github.com/Darunesh1/tds-quiz-solver/internal/deadline"
	"github.com/Darunesh1/tds-quiz-solver/internal/llm"
)

func testToolsConfig(t *testing.T) config.ToolsConfig {
	t.Helper()
	return config.ToolsConfig{
		RunCodeTimeout:  5 * time.Second,
		DownloadTimeout: 5 * time.Second,
		RequestTimeout:  5 * time.Second,
		MaxResultChars:  1500,
		PythonBin:       "python3",
	}
}

type stubLoader struct {
	page *browser.Page
	err  error

	lastURL      string
	lastSelector string
}

func (s *stubLoader) Load(_ context.Context, pageURL, selector string) (*browser.Page, error) {
	s.lastURL = pageURL
	s.lastSelector = selector
	return s.page, s.err
}

type stubSummarizer struct {
	response string
	err      error
}

func (s *stubSummarizer) Generate(_ context.Context, _ llm.GenerateRequest, _ *deadline.Controller) (string, error) {
	return s.response, s.err
}

func newTestRegistry(t *testing.T, loader PageLoader, summarizer Summarizer) *Registry {
	t.Helper()
	d := deadline.New(170 * time.Second)
	d.Start()
	return New("job-1", t.TempDir(), d, loader, summarizer, testToolsConfig(t))
}

func TestExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	_, err := r.Execute(context.Background(), Call{Name: "teleport"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	r.register("boom", "boom(): always panics.", func(context.Context, map[string]interface{}) (interface{}, error) {
		panic("kaboom")
	})
	_, err := r.Execute(context.Background(), Call{Name: "boom"})
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", err)
	}
}

func TestExecuteTruncatesLongResults(t *testing.T) {
	long := strings.Repeat("x", 5000)
	r := newTestRegistry(t, nil, &stubSummarizer{response: long})
	out, err := r.Execute(context.Background(), Call{
		Name: "summarize_text",
		Args: map[string]interface{}{"text": "anything"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) > 1500+len("... [truncated]") {
		t.Fatalf("result not truncated: %d chars", len(out))
	}
	if !strings.HasSuffix(out, "... [truncated]") {
		t.Fatalf("expected truncation marker, got suffix %q", out[len(out)-30:])
	}
}

func TestGetTimeRemaining(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	out, err := r.Execute(context.Background(), Call{Name: "get_time_remaining"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"remaining"`) {
		t.Fatalf("expected remaining field in %q", out)
	}
}

func TestWebScraperUsesLoader(t *testing.T) {
	loader := &stubLoader{page: &browser.Page{
		FinalURL: "https://quiz.example.com/q/1",
		Text:     "What is 2+2?",
		Links:    []string{"https://quiz.example.com/data.csv"},
	}}
	r := newTestRegistry(t, loader, nil)
	out, err := r.Execute(context.Background(), Call{
		Name: "web_scraper",
		Args: map[string]interface{}{"url": "https://quiz.example.com/q/1", "selector": "#question"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loader.lastSelector != "#question" {
		t.Fatalf("selector not forwarded: %q", loader.lastSelector)
	}
	if !strings.Contains(out, "What is 2+2?") {
		t.Fatalf("expected page text in observation, got %q", out)
	}
}

func TestSendRequestRetriesTransientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := newTestRegistry(t, nil, nil)
	out, err := r.Execute(context.Background(), Call{
		Name: "send_request",
		Args: map[string]interface{}{"method": "get", "url": srv.URL},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if !strings.Contains(out, `"status_code":200`) {
		t.Fatalf("expected status 200 in %q", out)
	}
}

func TestSendRequestGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newTestRegistry(t, nil, nil)
	_, err := r.Execute(context.Background(), Call{
		Name: "send_request",
		Args: map[string]interface{}{"method": "GET", "url": srv.URL},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := hits.Load(); got != requestMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", requestMaxAttempts, got)
	}
}

func TestSendRequestDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such quiz"))
	}))
	defer srv.Close()

	r := newTestRegistry(t, nil, nil)
	out, err := r.Execute(context.Background(), Call{
		Name: "send_request",
		Args: map[string]interface{}{"method": "GET", "url": srv.URL},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
	if !strings.Contains(out, `"status_code":404`) {
		t.Fatalf("expected status 404 in %q", out)
	}
}

func TestDownloadFileWritesWorkspace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("a,b\n1,2\n"))
	}))
	defer srv.Close()

	workdir := t.TempDir()
	d := deadline.New(170 * time.Second)
	d.Start()
	r := New("job-1", workdir, d, nil, nil, testToolsConfig(t))

	out, err := r.Execute(context.Background(), Call{
		Name: "download_file",
		Args: map[string]interface{}{"url": srv.URL + "/data.csv"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dest := filepath.Join(workdir, "data.csv")
	if !strings.Contains(out, dest) {
		t.Fatalf("expected path %s in %q", dest, out)
	}
	content, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading download: %v", err)
	}
	if string(content) != "a,b\n1,2\n" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestDescribeForPromptListsAllTools(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	desc := r.DescribeForPrompt()
	for _, name := range []string{
		"add_dependencies", "download_file", "send_request", "run_code",
		"web_scraper", "list_installed_packages", "get_time_remaining", "summarize_text",
	} {
		if !strings.Contains(desc, name) {
			t.Fatalf("description missing %s:\n%s", name, desc)
		}
	}
}

func TestStringSliceArgCoercesJSONLists(t *testing.T) {
	args := map[string]interface{}{"packages": []interface{}{"pandas", "numpy"}}
	out, err := stringSliceArg(args, "packages")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0] != "pandas" || out[1] != "numpy" {
		t.Fatalf("unexpected slice %v", out)
	}

	if _, err := stringSliceArg(map[string]interface{}{"packages": []interface{}{1, 2}}, "packages"); err == nil {
		t.Fatal("expected error for non-string list")
	}
}
