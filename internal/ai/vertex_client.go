package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

type VertexClientConfig struct {
	ProjectID string
	Region    string
}

// VertexClient generates text with Gemini models on Vertex AI.
type VertexClient struct {
	client *genai.Client
}

func NewVertexClient(ctx context.Context, config VertexClientConfig) (*VertexClient, error) {
	if config.ProjectID == "" || config.Region == "" {
		return nil, errors.New("vertex project id and region are required")
	}
	client, err := genai.NewClient(ctx, config.ProjectID, config.Region)
	if err != nil {
		return nil, fmt.Errorf("create vertex client: %w", err)
	}
	return &VertexClient{client: client}, nil
}

func (c *VertexClient) Available() bool {
	return c != nil && c.client != nil
}

func (c *VertexClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	model := c.client.GenerativeModel(request.Model)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr(float32(request.Temperature)),
		MaxOutputTokens: genai.Ptr(int32(request.MaxOutputTokens)),
	}
	if request.JSONOutput {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if instructions := strings.TrimSpace(request.Instructions); instructions != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instructions)}}
	}

	response, err := model.GenerateContent(ctx, genai.Text(request.Input))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("vertex generate content: %w", err)
	}
	text := vertexText(response)
	if text == "" {
		return GenerateResult{}, errors.New("vertex response without text output")
	}

	result := GenerateResult{Text: text, ModelID: request.Model}
	if response.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  int(response.UsageMetadata.PromptTokenCount),
			OutputTokens: int(response.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(response.UsageMetadata.TotalTokenCount),
		}
	}
	return result, nil
}

func (c *VertexClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func vertexText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var builder strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	return strings.TrimSpace(builder.String())
}
