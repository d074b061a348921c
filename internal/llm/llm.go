package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/Darunesh1/tds-quiz-solver/config"
	"github.com/Darunesh1/tds-quiz-solver/internal/deadline"
)

// GenerateRequest is a single completion request.
type GenerateRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider is the interface all reasoning backends must satisfy.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ProviderStatus reflects the outcome of the most recent call attempt
// against a provider. It feeds the health surface only; routing always
// walks the configured order regardless of recorded status.
type ProviderStatus struct {
	Available bool   `json:"available"`
	LastError string `json:"last_error,omitempty"`
}

// ReasoningError reports that no provider produced a completion.
type ReasoningError struct {
	Last error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("reasoning failed after retries and fallback: %v", e.Last)
}

func (e *ReasoningError) Unwrap() error { return e.Last }

// ErrInsufficientTime aborts a reasoning call that could not complete
// before the question deadline.
var ErrInsufficientTime = errors.New("insufficient time remaining for a reasoning call")

// HTTPError carries a non-2xx provider response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client sends completion requests to the primary provider, retrying
// transient failures with backoff and falling back to the remaining
// providers in a fixed order.
type Client struct {
	primary         string
	fallbackEnabled bool
	providers       map[string]Provider
	order           []string
	maxAttempts     int
	backoff         []time.Duration
	logger          *log.Logger

	mu     sync.Mutex
	status map[string]ProviderStatus
}

// New builds a client from configuration, constructing one provider per
// configured entry.
func New(cfg config.LLMConfig) (*Client, error) {
	providers := make([]Provider, 0, len(cfg.Providers))
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, err := newProvider(name, cfg.Providers[name], cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("building provider %s: %w", name, err)
		}
		providers = append(providers, p)
	}
	c := NewWithProviders(cfg.Primary, cfg.FallbackEnabled, providers)
	if cfg.MaxAttempts > 0 {
		c.maxAttempts = cfg.MaxAttempts
	}
	return c, nil
}

// NewWithProviders builds a client around pre-constructed providers.
func NewWithProviders(primary string, fallbackEnabled bool, providers []Provider) *Client {
	c := &Client{
		primary:         primary,
		fallbackEnabled: fallbackEnabled,
		providers:       make(map[string]Provider, len(providers)),
		maxAttempts:     4,
		backoff:         []time.Duration{0, 500 * time.Millisecond, time.Second, 2 * time.Second},
		logger:          log.New(log.Writer(), "[LLM] ", log.LstdFlags),
		status:          make(map[string]ProviderStatus),
	}
	for _, p := range providers {
		c.providers[p.Name()] = p
		if p.Name() != primary {
			c.order = append(c.order, p.Name())
		}
	}
	sort.Strings(c.order)
	return c
}

func newProvider(name string, cfg config.LLMProviderConfig, defaultTimeout time.Duration) (Provider, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	switch cfg.Type {
	case "gemini":
		return NewGemini(name, cfg, timeout), nil
	case "aipipe":
		return NewAIPipe(name, cfg, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}

// Primary returns the name of the primary provider.
func (c *Client) Primary() string { return c.primary }

// Status returns a snapshot of per-provider availability for the
// health surface.
func (c *Client) Status() map[string]ProviderStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ProviderStatus, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

func (c *Client) setStatus(name string, available bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ProviderStatus{Available: available}
	if err != nil {
		st.LastError = err.Error()
	}
	c.status[name] = st
}

// Generate runs the request against providers in order. It returns the
// first successful completion, or a ReasoningError when every provider
// fails. A nil deadline disables time-pressure checks.
func (c *Client) Generate(ctx context.Context, req GenerateRequest, d *deadline.Controller) (string, error) {
	if tooLate(d) {
		return "", &ReasoningError{Last: ErrInsufficientTime}
	}

	var last error
	for _, name := range c.providerOrder() {
		p, ok := c.providers[name]
		if !ok {
			continue
		}
		text, err := c.generateWith(ctx, p, req, d)
		if err == nil {
			c.setStatus(name, true, nil)
			return text, nil
		}
		last = err
		c.setStatus(name, false, err)
		c.logger.Printf("provider %s failed: %v", name, err)
		if errors.Is(err, ErrInsufficientTime) {
			// No provider can finish in time; do not keep burning budget.
			break
		}
	}
	return "", &ReasoningError{Last: last}
}

// providerOrder is primary first, then the fixed fallback order when
// fallback is enabled.
func (c *Client) providerOrder() []string {
	order := []string{c.primary}
	if c.fallbackEnabled {
		order = append(order, c.order...)
	}
	return order
}

// generateWith retries one provider with the backoff schedule.
// Transient errors (429, 5xx, timeouts, transport failures) are
// retried; anything else is fatal for the provider and short-circuits
// the remaining attempts.
func (c *Client) generateWith(ctx context.Context, p Provider, req GenerateRequest, d *deadline.Controller) (string, error) {
	var last error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if tooLate(d) {
			return "", ErrInsufficientTime
		}
		if wait := c.backoffFor(attempt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := p.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		last = err
		if !retriable(err) {
			break
		}
		c.logger.Printf("provider %s attempt %d/%d: %v", p.Name(), attempt+1, c.maxAttempts, err)
	}
	return "", last
}

func (c *Client) backoffFor(attempt int) time.Duration {
	if len(c.backoff) == 0 {
		return 0
	}
	if attempt >= len(c.backoff) {
		return c.backoff[len(c.backoff)-1]
	}
	return c.backoff[attempt]
}

func tooLate(d *deadline.Controller) bool {
	return d != nil && d.Remaining() < deadline.MinCallWindow
}

// retriable reports whether an error is transient: rate limits, server
// errors, timeouts, and transport-level failures. Everything else
// (auth failures, bad requests, malformed responses) is permanent for
// the provider that produced it.
func retriable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == 429 || (he.StatusCode >= 500 && he.StatusCode < 600)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
