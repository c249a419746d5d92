package contextbuilder

import (
	"context"
	"strings"
	"testing"
)

func TestMarkupRetrieverSplitsOnHeadings(t *testing.T) {
	retriever := NewMarkupRetriever()
	sections, err := retriever.Retrieve(context.Background(), "# A\n\nalpha\n\n# B\n\nbeta")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %+v", sections)
	}
	if !strings.HasPrefix(sections[1].Text, "# B") || sections[1].Position != 1 {
		t.Fatalf("unexpected second section %+v", sections[1])
	}
}

func TestMarkupRetrieverScoresExercisesHigher(t *testing.T) {
	retriever := NewMarkupRetriever()
	sections, _ := retriever.Retrieve(context.Background(),
		"# Intro\n\nSome history.\n\n# Problems\n\n1. Solve $x+1=2$.\n2. Prove $a^2 \\ge 0$.")
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if sections[1].Score <= sections[0].Score {
		t.Fatalf("expected problem section to outscore intro, got %.1f <= %.1f", sections[1].Score, sections[0].Score)
	}
}

func TestMarkupRetrieverPacksParagraphsBySize(t *testing.T) {
	retriever := &MarkupRetriever{maxSectionRunes: 10}
	sections, _ := retriever.Retrieve(context.Background(), "aaaaaa\n\nbbbbbb\n\ncc")
	if len(sections) != 2 {
		t.Fatalf("expected 2 packed sections, got %+v", sections)
	}
	if sections[1].Text != "bbbbbb\n\ncc" {
		t.Fatalf("unexpected packing %q", sections[1].Text)
	}
}
