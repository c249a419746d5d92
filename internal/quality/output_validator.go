package quality

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparsableOutput marks generator output that is missing or is not the
// expected JSON object. Callers treat it as a hard failure.
var ErrUnparsableOutput = errors.New("generated output is missing or unparsable")

const maxExercises = 60

type Exercise struct {
	Number     string `json:"number"`
	Statement  string `json:"statement"`
	Topic      string `json:"topic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

type ExerciseSet struct {
	Exercises []Exercise `json:"exercises"`
}

type SolutionStep struct {
	Explanation string `json:"explanation"`
	Math        string `json:"math,omitempty"`
}

type Solution struct {
	Steps  []SolutionStep `json:"steps"`
	Hints  []string       `json:"hints"`
	Answer string         `json:"answer"`
}

// OutputValidator decodes the two generator response shapes and tidies them.
// It checks structure only, never the mathematics.
type OutputValidator struct{}

func NewOutputValidator() *OutputValidator {
	return &OutputValidator{}
}

func (v *OutputValidator) Exercises(raw string) (ExerciseSet, error) {
	var decoded ExerciseSet
	if err := decodeObject(raw, &decoded); err != nil {
		return ExerciseSet{}, err
	}

	seen := make(map[string]struct{}, len(decoded.Exercises))
	exercises := make([]Exercise, 0, len(decoded.Exercises))
	for _, item := range decoded.Exercises {
		statement := strings.TrimSpace(item.Statement)
		if statement == "" {
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(statement), " "))
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}

		number := strings.TrimSpace(item.Number)
		if number == "" {
			number = fmt.Sprintf("%d", len(exercises)+1)
		}
		exercises = append(exercises, Exercise{
			Number:     number,
			Statement:  statement,
			Topic:      strings.TrimSpace(item.Topic),
			Difficulty: normalizeDifficulty(item.Difficulty),
		})
		if len(exercises) == maxExercises {
			break
		}
	}
	return ExerciseSet{Exercises: exercises}, nil
}

func (v *OutputValidator) Solution(raw string) (Solution, error) {
	var decoded Solution
	if err := decodeObject(raw, &decoded); err != nil {
		return Solution{}, err
	}

	solution := Solution{
		Steps:  make([]SolutionStep, 0, len(decoded.Steps)),
		Hints:  make([]string, 0, len(decoded.Hints)),
		Answer: strings.TrimSpace(decoded.Answer),
	}
	for _, step := range decoded.Steps {
		explanation := strings.TrimSpace(step.Explanation)
		math := strings.TrimSpace(step.Math)
		if explanation == "" && math == "" {
			continue
		}
		solution.Steps = append(solution.Steps, SolutionStep{Explanation: explanation, Math: math})
	}
	for _, hint := range decoded.Hints {
		if trimmed := strings.TrimSpace(hint); trimmed != "" {
			solution.Hints = append(solution.Hints, trimmed)
		}
	}
	if solution.Answer == "" && len(solution.Steps) == 0 {
		return Solution{}, fmt.Errorf("%w: solution has neither steps nor answer", ErrUnparsableOutput)
	}
	return solution, nil
}

// decodeObject accepts a bare JSON object, optionally wrapped in a Markdown
// code fence.
func decodeObject(raw string, target any) error {
	body := strings.TrimSpace(raw)
	if body == "" {
		return fmt.Errorf("%w: empty body", ErrUnparsableOutput)
	}
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}
	if !strings.HasPrefix(body, "{") {
		return fmt.Errorf("%w: body is not a json object", ErrUnparsableOutput)
	}

	decoder := json.NewDecoder(strings.NewReader(body))
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparsableOutput, err)
	}
	return nil
}

func normalizeDifficulty(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "easy", "basic":
		return "easy"
	case "hard", "advanced":
		return "hard"
	case "":
		return ""
	default:
		return "medium"
	}
}
