package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/Darunesh1/tds-quiz-solver/internal/llm"
)

// webScraper renders a page through the headless browser and returns
// its readable text plus the links it contains.
func (r *Registry) webScraper(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if r.loader == nil {
		return nil, fmt.Errorf("page loader not configured")
	}
	target, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}
	selector := optionalStringArg(args, "selector")

	page, err := r.loader.Load(ctx, target, selector)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"final_url": page.FinalURL,
		"text":      page.Text,
		"links":     page.Links,
	}, nil
}

// getTimeRemaining exposes the deadline to the model so it can decide
// when to stop exploring and answer.
func (r *Registry) getTimeRemaining(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if r.deadline == nil {
		return nil, fmt.Errorf("deadline not configured")
	}
	return r.deadline.Status(), nil
}

// summarizeText condenses long content through the reasoning model so
// it fits the context log.
func (r *Registry) summarizeText(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if r.llm == nil {
		return nil, fmt.Errorf("summarizer not configured")
	}
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	maxWords := optionalIntArg(args, "max_words", 300)

	prompt := fmt.Sprintf("Summarize the following text in at most %d words.\nFocus only on information that might be relevant for solving a data-science quiz question.\n\nTEXT:\n%s\n", maxWords, text)
	summary, err := r.llm.Generate(ctx, llm.GenerateRequest{
		System: "You summarize text concisely.",
		Prompt: prompt,
	}, r.deadline)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(summary), nil
}
