package solver

import (
	"fmt"
	"strings"
	"time"
)

// Entry kinds recorded in the context log.
const (
	entryPlan        = "PLAN"
	entryThought     = "THOUGHT"
	entryObservation = "OBSERVATION"
	entryError       = "ERROR"
	entryFinal       = "FINAL"
)

// ContextLog accumulates the running transcript of one question:
// thoughts, tool observations and errors, in order. When the log grows
// past maxBytes it is trimmed back to at most trimBytes by dropping the
// oldest entries. Entries are only ever dropped whole, so the model
// never sees half an observation.
type ContextLog struct {
	maxBytes  int
	trimBytes int
	now       func() time.Time
	entries   []string
	size      int
}

// NewContextLog creates a log with the given byte bounds.
func NewContextLog(maxBytes, trimBytes int) *ContextLog {
	if maxBytes <= 0 {
		maxBytes = 12000
	}
	if trimBytes <= 0 || trimBytes > maxBytes {
		trimBytes = maxBytes * 2 / 3
	}
	return &ContextLog{maxBytes: maxBytes, trimBytes: trimBytes, now: time.Now}
}

// Append records one timestamped entry of the given kind.
func (l *ContextLog) Append(kind, text string) {
	entry := fmt.Sprintf("%s %s: %s\n", l.now().UTC().Format(time.TimeOnly), kind, text)
	l.entries = append(l.entries, entry)
	l.size += len(entry)
	l.trim()
}

func (l *ContextLog) trim() {
	if l.size <= l.maxBytes {
		return
	}
	drop := 0
	for l.size > l.trimBytes && drop < len(l.entries)-1 {
		l.size -= len(l.entries[drop])
		drop++
	}
	l.entries = l.entries[drop:]
}

// String renders the transcript for prompts.
func (l *ContextLog) String() string {
	return strings.Join(l.entries, "")
}

// Len reports the current transcript size in bytes.
func (l *ContextLog) Len() int { return l.size }

// Entries reports how many entries are retained.
func (l *ContextLog) Entries() int { return len(l.entries) }
