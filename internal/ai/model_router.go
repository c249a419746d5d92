package ai

import "strings"

type TaskKind string

const (
	TaskExercises TaskKind = "exercises"
	TaskSolution  TaskKind = "solution"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

type ModelRouterConfig struct {
	ExercisesPrimary  string
	ExercisesFallback string

	SolutionPrimary  string
	SolutionFallback string
}

// ModelRouter picks models and sampling settings per generation task.
type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	config.ExercisesPrimary = defaultModel(config.ExercisesPrimary, "gpt-4.1-mini")
	config.ExercisesFallback = defaultModel(config.ExercisesFallback, "gpt-4.1-nano")
	config.SolutionPrimary = defaultModel(config.SolutionPrimary, "gpt-4.1")
	config.SolutionFallback = defaultModel(config.SolutionFallback, "gpt-4.1-mini")
	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	switch task {
	case TaskSolution:
		return ModelProfile{
			PrimaryModel:    r.config.SolutionPrimary,
			FallbackModel:   r.config.SolutionFallback,
			Temperature:     0.1,
			MaxOutputTokens: 1800,
		}
	default:
		return ModelProfile{
			PrimaryModel:    r.config.ExercisesPrimary,
			FallbackModel:   r.config.ExercisesFallback,
			Temperature:     0.2,
			MaxOutputTokens: 2400,
		}
	}
}

func defaultModel(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
