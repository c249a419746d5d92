package service

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"text/template"

	"github.com/iago/mathdoc-back/internal/ai"
	"github.com/iago/mathdoc-back/internal/cache"
	contextbuilder "github.com/iago/mathdoc-back/internal/context"
	"github.com/iago/mathdoc-back/internal/domain"
	"github.com/iago/mathdoc-back/internal/quality"
)

const promptVersion = "v1"

//go:embed prompts/*.tmpl
var promptFS embed.FS

var (
	// ErrGenerationFailed is returned when the generator produced nothing
	// usable. It is never papered over with placeholder content.
	ErrGenerationFailed = errors.New("generation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DocumentLookup resolves a stored document by its listed name.
type DocumentLookup interface {
	Resolve(ctx context.Context, ownerID, fileName string) (domain.DocumentRecord, error)
}

type ExerciseDependencies struct {
	Router    *ai.ModelRouter
	Client    ai.TextGenerator
	Builder   *contextbuilder.Builder
	Cache     *cache.GenerationCache
	Validator *quality.OutputValidator
	Documents DocumentLookup
	Logger    *log.Logger

	MaxInputTokens int
}

type ExercisesInput struct {
	OwnerID    string
	DocumentID string
	Content    string
}

type ExercisesResult struct {
	DocumentID string             `json:"document_id,omitempty"`
	Exercises  []quality.Exercise `json:"exercises"`
	ModelID    string             `json:"model_id"`
	Truncated  bool               `json:"truncated"`
	Cached     bool               `json:"cached"`
}

type SolutionResult struct {
	quality.Solution
	ModelID string `json:"model_id"`
	Cached  bool   `json:"cached"`
}

// ExerciseService extracts exercises from converted documents and solves
// single exercises through the configured text generator.
type ExerciseService struct {
	router         *ai.ModelRouter
	client         ai.TextGenerator
	builder        *contextbuilder.Builder
	cache          *cache.GenerationCache
	validator      *quality.OutputValidator
	documents      DocumentLookup
	logger         *log.Logger
	maxInputTokens int
	templates      *template.Template
}

func NewExerciseService(deps ExerciseDependencies) (*ExerciseService, error) {
	templates, err := template.ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	if deps.Router == nil {
		deps.Router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	if deps.Builder == nil {
		deps.Builder = contextbuilder.NewBuilder(contextbuilder.NewMarkupRetriever())
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewGenerationCache(cache.GenerationCacheConfig{})
	}
	if deps.Validator == nil {
		deps.Validator = quality.NewOutputValidator()
	}
	if deps.MaxInputTokens <= 0 {
		deps.MaxInputTokens = 6000
	}

	return &ExerciseService{
		router:         deps.Router,
		client:         deps.Client,
		builder:        deps.Builder,
		cache:          deps.Cache,
		validator:      deps.Validator,
		documents:      deps.Documents,
		logger:         deps.Logger,
		maxInputTokens: deps.MaxInputTokens,
		templates:      templates,
	}, nil
}

func (s *ExerciseService) GenerateExercises(ctx context.Context, input ExercisesInput) (ExercisesResult, error) {
	title, markup, err := s.sourceMarkup(ctx, input)
	if err != nil {
		return ExercisesResult{}, err
	}

	built, err := s.builder.Build(ctx, contextbuilder.BuildInput{
		DocumentID:     firstNonBlank(input.DocumentID, title),
		Markup:         markup,
		MaxInputTokens: s.maxInputTokens,
	})
	if err != nil {
		return ExercisesResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	profile := s.router.Select(ai.TaskExercises)
	key := cache.GenerationKey(string(ai.TaskExercises), promptVersion, profile.PrimaryModel, built.ContextText)
	if cached, ok := s.cache.Get(key); ok {
		var result ExercisesResult
		if err := json.Unmarshal(cached.Body, &result); err == nil {
			result.DocumentID = input.DocumentID
			result.Cached = true
			return result, nil
		}
	}

	prompt, err := s.renderPrompt("exercises.tmpl", map[string]any{
		"Title":     title,
		"Context":   built.ContextText,
		"Truncated": built.Truncated,
	})
	if err != nil {
		return ExercisesResult{}, err
	}

	text, modelID, err := s.generateText(ctx, profile, prompt)
	if err != nil {
		s.logf("exercise generation failed document_id=%s err=%v", input.DocumentID, err)
		return ExercisesResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	set, err := s.validator.Exercises(text)
	if err != nil {
		s.logf("exercise output rejected document_id=%s model=%s err=%v", input.DocumentID, modelID, err)
		return ExercisesResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	result := ExercisesResult{
		DocumentID: input.DocumentID,
		Exercises:  set.Exercises,
		ModelID:    modelID,
		Truncated:  built.Truncated,
	}
	s.remember(key, result, modelID)
	s.logf("exercises generated document_id=%s model=%s count=%d tokens=%d", input.DocumentID, modelID, len(set.Exercises), built.TokenCount)
	return result, nil
}

func (s *ExerciseService) SolveExercise(ctx context.Context, exercise string) (SolutionResult, error) {
	exercise = strings.TrimSpace(exercise)
	if exercise == "" {
		return SolutionResult{}, fmt.Errorf("%w: exercise is required", ErrInvalidInput)
	}

	profile := s.router.Select(ai.TaskSolution)
	key := cache.GenerationKey(string(ai.TaskSolution), promptVersion, profile.PrimaryModel, exercise)
	if cached, ok := s.cache.Get(key); ok {
		var result SolutionResult
		if err := json.Unmarshal(cached.Body, &result); err == nil {
			result.Cached = true
			return result, nil
		}
	}

	prompt, err := s.renderPrompt("solution.tmpl", map[string]any{"Exercise": exercise})
	if err != nil {
		return SolutionResult{}, err
	}
	text, modelID, err := s.generateText(ctx, profile, prompt)
	if err != nil {
		s.logf("solution generation failed err=%v", err)
		return SolutionResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	solution, err := s.validator.Solution(text)
	if err != nil {
		s.logf("solution output rejected model=%s err=%v", modelID, err)
		return SolutionResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	result := SolutionResult{Solution: solution, ModelID: modelID}
	s.remember(key, result, modelID)
	return result, nil
}

func (s *ExerciseService) sourceMarkup(ctx context.Context, input ExercisesInput) (string, string, error) {
	if content := strings.TrimSpace(input.Content); content != "" {
		return "Untitled", content, nil
	}
	if strings.TrimSpace(input.DocumentID) == "" {
		return "", "", fmt.Errorf("%w: document_id or content is required", ErrInvalidInput)
	}
	if s.documents == nil {
		return "", "", ErrDocumentNotFound
	}
	record, err := s.documents.Resolve(ctx, input.OwnerID, input.DocumentID)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(record.Content) == "" {
		return "", "", fmt.Errorf("%w: document %s has no content", ErrInvalidInput, input.DocumentID)
	}
	return record.Title, record.Content, nil
}

// generateText tries the primary model and then the fallback, if it differs.
func (s *ExerciseService) generateText(ctx context.Context, profile ai.ModelProfile, prompt string) (string, string, error) {
	if s.client == nil || !s.client.Available() {
		return "", "", ai.ErrProviderUnavailable
	}

	request := ai.GenerateRequest{
		Model:           profile.PrimaryModel,
		Instructions:    "Return only valid JSON. Do not use markdown code fences.",
		Input:           prompt,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSONOutput:      true,
	}
	primary, err := s.client.Generate(ctx, request)
	if err == nil {
		return primary.Text, firstNonBlank(primary.ModelID, profile.PrimaryModel), nil
	}

	if strings.TrimSpace(profile.FallbackModel) == "" || profile.FallbackModel == profile.PrimaryModel {
		return "", "", err
	}
	s.logf("primary model failed model=%s err=%v", profile.PrimaryModel, err)

	request.Model = profile.FallbackModel
	fallback, fallbackErr := s.client.Generate(ctx, request)
	if fallbackErr != nil {
		return "", "", fmt.Errorf("primary model failed: %v; fallback failed: %w", err, fallbackErr)
	}
	return fallback.Text, firstNonBlank(fallback.ModelID, profile.FallbackModel), nil
}

func (s *ExerciseService) renderPrompt(name string, data any) (string, error) {
	buffer := bytes.NewBuffer(nil)
	if err := s.templates.ExecuteTemplate(buffer, name, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buffer.String(), nil
}

func (s *ExerciseService) remember(key string, value any, modelID string) {
	body, err := json.Marshal(value)
	if err != nil {
		return
	}
	s.cache.Put(key, body, modelID)
}

func (s *ExerciseService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
