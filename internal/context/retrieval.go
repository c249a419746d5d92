package contextbuilder

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Section is a contiguous block of document markup.
type Section struct {
	ID       string
	Position int
	Text     string
	Score    float64
}

type Retriever interface {
	Retrieve(ctx context.Context, markup string) ([]Section, error)
}

// MarkupRetriever splits converted markup on headings and blank lines and
// scores each block by how exercise-like it looks.
type MarkupRetriever struct {
	maxSectionRunes int
}

func NewMarkupRetriever() *MarkupRetriever {
	return &MarkupRetriever{maxSectionRunes: 1200}
}

var (
	headingPattern    = regexp.MustCompile(`^(#{1,6}\s|\\(sub)*section\*?\{)`)
	numberedPattern   = regexp.MustCompile(`(?m)^\s*(\d+|[a-z])[.)]\s`)
	exerciseKeywords  = []string{"exercise", "problem", "question", "solve", "prove", "compute", "find", "evaluate", "exercício", "questão", "ejercicio"}
	repeatedSpaceExpr = regexp.MustCompile(`\s+`)
)

func (r *MarkupRetriever) Retrieve(_ context.Context, markup string) ([]Section, error) {
	blocks := splitBlocks(markup, r.maxSectionRunes)
	sections := make([]Section, 0, len(blocks))
	for index, block := range blocks {
		sections = append(sections, Section{
			ID:       fmt.Sprintf("section-%d", index+1),
			Position: index,
			Text:     block,
			Score:    scoreBlock(index, block),
		})
	}
	return sections, nil
}

// splitBlocks starts a new block at each heading and packs paragraphs into
// blocks of at most maxRunes. A single oversized paragraph stays whole and
// repeated body paragraphs are kept once.
func splitBlocks(markup string, maxRunes int) []string {
	paragraphs := strings.Split(strings.ReplaceAll(markup, "\r\n", "\n"), "\n\n")
	seen := make(map[string]struct{}, len(paragraphs))

	blocks := make([]string, 0)
	current := strings.Builder{}
	currentRunes := 0
	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			blocks = append(blocks, text)
		}
		current.Reset()
		currentRunes = 0
	}

	for _, paragraph := range paragraphs {
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" {
			continue
		}
		heading := headingPattern.MatchString(trimmed)
		if !heading {
			key := fingerprint(trimmed)
			if _, exists := seen[key]; exists {
				continue
			}
			seen[key] = struct{}{}
		}
		runes := len([]rune(trimmed))
		if heading || currentRunes+runes > maxRunes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(trimmed)
		currentRunes += runes
	}
	flush()
	return blocks
}

func scoreBlock(position int, block string) float64 {
	score := 100.0 - float64(position)*0.5
	lowered := strings.ToLower(block)

	for _, keyword := range exerciseKeywords {
		if strings.Contains(lowered, keyword) {
			score += 6
		}
	}
	score += float64(len(numberedPattern.FindAllStringIndex(block, -1))) * 3

	mathMarkers := strings.Count(block, "$")
	if mathMarkers > 0 {
		score += float64(min(mathMarkers, 20))
	}
	if score < 1 {
		score = 1
	}
	return score
}

func fingerprint(value string) string {
	return repeatedSpaceExpr.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), " ")
}
