package chunker

import (
	"strings"
	"testing"
)

func TestSplit_EmptyInput(t *testing.T) {
	result := Split("  \n ", DefaultOptions())
	if result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestSplit_ShortContent(t *testing.T) {
	text := "The invoice total is due on the first of the month."
	result := Split(text, DefaultOptions())
	if len(result) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result))
	}
	if result[0].Text != text {
		t.Errorf("expected %q, got %q", text, result[0].Text)
	}
	if result[0].StartLine != 1 || result[0].Page != 1 || result[0].Seq != 0 {
		t.Errorf("unexpected position: %+v", result[0])
	}
}

func TestSplit_TracksSections(t *testing.T) {
	text := "# Intro\n\nHello world.\n\n# Usage\n\nRun it."
	result := Split(text, DefaultOptions())
	if len(result) != 2 {
		t.Fatalf("expected one chunk per section, got %d", len(result))
	}
	if result[0].Section != "Intro" || result[1].Section != "Usage" {
		t.Errorf("sections = %q, %q", result[0].Section, result[1].Section)
	}
	if result[1].Seq != 1 {
		t.Errorf("expected seq 1, got %d", result[1].Seq)
	}
	if result[1].StartLine != 5 {
		t.Errorf("expected second chunk to start on line 5, got %d", result[1].StartLine)
	}
}

func TestSplit_PageBreaks(t *testing.T) {
	result := Split("alpha\n\fbeta", DefaultOptions())
	if len(result) != 2 {
		t.Fatalf("expected 2 chunks across a page break, got %d", len(result))
	}
	if result[0].Page != 1 || result[1].Page != 2 {
		t.Errorf("pages = %d, %d", result[0].Page, result[1].Page)
	}
	if strings.Contains(result[1].Text, "\f") {
		t.Error("form feed should be stripped from chunk text")
	}
}

func TestSplit_RespectsMaxSize(t *testing.T) {
	opts := Options{TargetSize: 200, MaxSize: 300}
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "This is a line of text that is about fifty characters long.")
	}
	result := Split(strings.Join(lines, "\n"), opts)
	if len(result) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result))
	}
	for _, c := range result {
		if len(c.Text) > opts.MaxSize {
			t.Errorf("chunk %d has %d chars, max %d", c.Seq, len(c.Text), opts.MaxSize)
		}
	}
}

func TestSplit_MergesParagraphsWithinSection(t *testing.T) {
	text := "# Notes\n\nFirst.\n\n\nSecond."
	result := Split(text, DefaultOptions())
	if len(result) != 1 {
		t.Fatalf("expected 1 merged chunk, got %d", len(result))
	}
	if !strings.Contains(result[0].Text, "First.") || !strings.Contains(result[0].Text, "Second.") {
		t.Errorf("merged chunk missing paragraphs: %q", result[0].Text)
	}
}
