package contextbuilder

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
)

type BuildInput struct {
	DocumentID     string
	Markup         string
	MaxInputTokens int
	MaxSections    int
}

type BuildOutput struct {
	ContextText string
	Sections    []Section
	TokenCount  int
	Truncated   bool
}

type cachedBuild struct {
	output    BuildOutput
	expiresAt time.Time
}

// Builder selects the highest scoring sections of a document that fit the
// token budget and renders them back in document order.
type Builder struct {
	retriever Retriever

	cacheMu    sync.Mutex
	cache      map[uint64]cachedBuild
	cacheTTL   time.Duration
	cacheLimit int
}

func NewBuilder(retriever Retriever) *Builder {
	return &Builder{
		retriever:  retriever,
		cache:      make(map[uint64]cachedBuild),
		cacheTTL:   5 * time.Minute,
		cacheLimit: 256,
	}
}

func (b *Builder) Build(ctx context.Context, input BuildInput) (BuildOutput, error) {
	if b.retriever == nil {
		return BuildOutput{}, errors.New("retriever is required")
	}
	if strings.TrimSpace(input.Markup) == "" {
		return BuildOutput{}, errors.New("markup is required")
	}
	if input.MaxInputTokens <= 0 {
		input.MaxInputTokens = 6000
	}
	if input.MaxSections <= 0 {
		input.MaxSections = 40
	}

	key := cacheKey(input)
	if cached, ok := b.cacheGet(key); ok {
		return cached, nil
	}

	sections, err := b.retriever.Retrieve(ctx, input.Markup)
	if err != nil {
		return BuildOutput{}, fmt.Errorf("retrieve sections: %w", err)
	}
	sections = dedupeSections(sections)

	ranked := append([]Section(nil), sections...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score == ranked[j].Score {
			return ranked[i].Position < ranked[j].Position
		}
		return ranked[i].Score > ranked[j].Score
	})

	selected := make([]Section, 0, len(ranked))
	totalTokens := 0
	for _, section := range ranked {
		tokens := estimateTokens(section.Text)
		if tokens == 0 || totalTokens+tokens > input.MaxInputTokens {
			continue
		}
		selected = append(selected, section)
		totalTokens += tokens
		if len(selected) == input.MaxSections {
			break
		}
	}
	if len(selected) == 0 {
		return BuildOutput{}, errors.New("no section fits the token budget")
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Position < selected[j].Position })

	texts := make([]string, 0, len(selected))
	for _, section := range selected {
		texts = append(texts, section.Text)
	}
	output := BuildOutput{
		ContextText: strings.Join(texts, "\n\n"),
		Sections:    selected,
		TokenCount:  totalTokens,
		Truncated:   len(selected) < len(sections),
	}
	b.cachePut(key, output)
	return output, nil
}

func cacheKey(input BuildInput) uint64 {
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(input.DocumentID))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(fmt.Sprintf("%d|%d", input.MaxInputTokens, input.MaxSections)))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(input.Markup))
	return hash.Sum64()
}

func (b *Builder) cacheGet(key uint64) (BuildOutput, bool) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	entry, ok := b.cache[key]
	if !ok {
		return BuildOutput{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(b.cache, key)
		return BuildOutput{}, false
	}
	return cloneOutput(entry.output), true
}

func (b *Builder) cachePut(key uint64, output BuildOutput) {
	now := time.Now()

	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	if len(b.cache) >= b.cacheLimit {
		for existing, entry := range b.cache {
			if now.After(entry.expiresAt) {
				delete(b.cache, existing)
			}
		}
	}
	if len(b.cache) >= b.cacheLimit {
		var (
			oldestKey uint64
			oldestAt  time.Time
			found     bool
		)
		for existing, entry := range b.cache {
			if !found || entry.expiresAt.Before(oldestAt) {
				oldestKey, oldestAt, found = existing, entry.expiresAt, true
			}
		}
		delete(b.cache, oldestKey)
	}
	b.cache[key] = cachedBuild{output: cloneOutput(output), expiresAt: now.Add(b.cacheTTL)}
}

func cloneOutput(output BuildOutput) BuildOutput {
	output.Sections = append([]Section(nil), output.Sections...)
	return output
}

func dedupeSections(sections []Section) []Section {
	seen := make(map[string]struct{}, len(sections))
	result := make([]Section, 0, len(sections))
	for _, section := range sections {
		key := fingerprint(section.Text)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, section)
	}
	return result
}

func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	return max(len([]rune(trimmed))/4, 1)
}
