package solver

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestContextLogKeepsEverythingUnderCap(t *testing.T) {
	l := NewContextLog(12000, 8000)
	l.Append(entryPlan, "understand the question")
	l.Append(entryThought, "download the data")
	l.Append(entryObservation, "from download_file: {\"path\":\"data.csv\"}")

	out := l.String()
	for _, want := range []string{"PLAN:", "THOUGHT:", "OBSERVATION:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log:\n%s", want, out)
		}
	}
	if l.Entries() != 3 {
		t.Fatalf("expected 3 entries, got %d", l.Entries())
	}
}

func TestContextLogTrimsOldestWholeEntries(t *testing.T) {
	l := NewContextLog(1000, 600)
	for i := 0; i < 20; i++ {
		l.Append(entryObservation, fmt.Sprintf("entry-%02d %s", i, strings.Repeat("x", 90)))
	}

	if l.Len() > 1000 {
		t.Fatalf("log size %d exceeds cap", l.Len())
	}
	out := l.String()
	if strings.Contains(out, "entry-00") {
		t.Fatal("oldest entry should have been dropped")
	}
	if !strings.Contains(out, "entry-19") {
		t.Fatal("newest entry must be retained")
	}
	// every retained entry is whole
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if !strings.Contains(line, "OBSERVATION: entry-") {
			t.Fatalf("partial entry retained: %q", line)
		}
		if !strings.HasSuffix(line, strings.Repeat("x", 90)) {
			t.Fatalf("entry truncated mid-way: %q", line)
		}
	}
}

func TestContextLogTimestampsEntries(t *testing.T) {
	l := NewContextLog(12000, 8000)
	l.now = func() time.Time {
		return time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)
	}
	l.Append(entryThought, "check the page")

	if got := l.String(); !strings.HasPrefix(got, "09:26:53 THOUGHT: check the page") {
		t.Fatalf("expected timestamped entry, got %q", got)
	}
}

func TestContextLogRetainsSingleOversizedEntry(t *testing.T) {
	l := NewContextLog(100, 60)
	l.Append(entryObservation, strings.Repeat("y", 500))
	if l.Entries() != 1 {
		t.Fatalf("expected the oversized entry to survive, got %d entries", l.Entries())
	}
}

func TestContextLogDerivesTrimWhenUnset(t *testing.T) {
	l := NewContextLog(0, 0)
	if l.maxBytes != 12000 {
		t.Fatalf("expected default max 12000, got %d", l.maxBytes)
	}
	if l.trimBytes <= 0 || l.trimBytes > l.maxBytes {
		t.Fatalf("derived trim %d out of range", l.trimBytes)
	}
}
