package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/Darunesh1/tds-quiz-solver/config"
	"github.com/Darunesh1/tds-quiz-solver/internal/browser"
	"github.com/Darunesh1/tds-quiz-solver/internal/deadline"
	"github.com/Darunesh1/tds-quiz-solver/internal/llm"
)

// ErrToolNotFound indicates a tool name the registry does not know.
var ErrToolNotFound = fmt.Errorf("tool not found")

// Call is a single tool invocation requested by the reasoning model.
type Call struct {
	Name string
	Args map[string]interface{}
}

// Handler executes one tool. The returned value is rendered to JSON
// before it reaches the model.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// PageLoader renders a page and returns its content. Satisfied by
// browser.Loader.
type PageLoader interface {
	Load(ctx context.Context, pageURL, selector string) (*browser.Page, error)
}

// Summarizer produces text completions. Satisfied by llm.Client.
type Summarizer interface {
	Generate(ctx context.Context, req llm.GenerateRequest, d *deadline.Controller) (string, error)
}

type toolEntry struct {
	handler     Handler
	description string
}

// Registry exposes the tools one solving job can call. Each registry is
// bound to a job workspace and that job's deadline.
type Registry struct {
	jobID    string
	workdir  string
	deadline *deadline.Controller
	loader   PageLoader
	llm      Summarizer
	cfg      config.ToolsConfig
	logger   *log.Logger

	tools map[string]toolEntry
}

// New builds a registry for one job. loader and summarizer may be nil
// for jobs that never scrape or summarize; the corresponding tools then
// return an error instead of panicking.
func New(jobID, workdir string, d *deadline.Controller, loader PageLoader, summarizer Summarizer, cfg config.ToolsConfig) *Registry {
	r := &Registry{
		jobID:    jobID,
		workdir:  workdir,
		deadline: d,
		loader:   loader,
		llm:      summarizer,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
		tools:    make(map[string]toolEntry),
	}
	r.register("add_dependencies", "add_dependencies(packages: [string]): install Python packages needed for analysis.", r.addDependencies)
	r.register("download_file", "download_file(url: string): download a file (CSV, JSON, PDF, image, ...) into the job workspace and return its local path.", r.downloadFile)
	r.register("send_request", "send_request(method: string, url: string, headers: object, json_body: object): call any HTTP API and return status, headers and body.", r.sendRequest)
	r.register("run_code", "run_code(code: string): execute Python code in the job workspace; downloaded files are readable by relative path.", r.runCode)
	r.register("web_scraper", "web_scraper(url: string, selector: string): render a page (JS supported) and return its text, HTML and links; selector is optional.", r.webScraper)
	r.register("list_installed_packages", "list_installed_packages(): list installed Python packages so you avoid reinstalling.", r.listInstalledPackages)
	r.register("get_time_remaining", "get_time_remaining(): seconds left before the answer must be submitted.", r.getTimeRemaining)
	r.register("summarize_text", "summarize_text(text: string, max_words: int): condense long text before reasoning about it.", r.summarizeText)
	return r
}

func (r *Registry) register(name, description string, h Handler) {
	r.tools[name] = toolEntry{handler: h, description: description}
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DescribeForPrompt renders the tool catalogue for the reasoning prompt.
func (r *Registry) DescribeForPrompt() string {
	var b strings.Builder
	for _, name := range r.Names() {
		b.WriteString("- ")
		b.WriteString(r.tools[name].description)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Execute runs one tool call and returns its observation text. A failed
// or panicking tool yields an error, never a crash of the solving loop.
// Long results are truncated to the configured limit.
func (r *Registry) Execute(ctx context.Context, call Call) (result string, err error) {
	entry, ok := r.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Name, rec)
		}
	}()

	r.logger.Printf("job %s: executing %s", r.jobID, call.Name)
	out, err := entry.handler(ctx, call.Args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", call.Name, err)
	}
	return r.render(out), nil
}

func (r *Registry) render(out interface{}) string {
	var text string
	switch v := out.(type) {
	case string:
		text = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(raw)
		}
	}
	max := r.cfg.MaxResultChars
	if max > 0 && len(text) > max {
		text = text[:max] + "... [truncated]"
	}
	return text
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func optionalStringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func stringSliceArg(args map[string]interface{}, key string) ([]string, error) {
	v, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", key)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("argument %q must be a list of strings", key)
	}
}

func optionalMapArg(args map[string]interface{}, key string) map[string]interface{} {
	if v, ok := args[key]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

func optionalIntArg(args map[string]interface{}, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}
