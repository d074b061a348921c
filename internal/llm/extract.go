package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON indicates that no parseable JSON object could be located in
// a model response.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON locates a JSON object inside model output. Models answer
// with pure JSON, JSON fenced in a code block, or JSON surrounded by
// prose; the strategies are tried in that order. All three failing is a
// hard parse failure, never a silent empty result.
func ExtractJSON(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrNoJSON
	}

	if isJSONObject(trimmed) {
		return trimmed, nil
	}

	if fenced := extractFenced(trimmed); fenced != "" && isJSONObject(fenced) {
		return fenced, nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		span := trimmed[start : end+1]
		if isJSONObject(span) {
			return span, nil
		}
	}

	return "", ErrNoJSON
}

// Unmarshal extracts a JSON object from model output and decodes it.
func Unmarshal(text string, out any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func isJSONObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	return json.Valid([]byte(s))
}

// extractFenced returns the body of the first ``` code fence, with an
// optional language tag stripped.
func extractFenced(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	body := rest[:end]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{}") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body)
}
