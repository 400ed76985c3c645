package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/sift/internal/types"
)

type GeneratorConfig struct {
	Provider       string // "ollama" or "mock"
	Model          string
	BaseURL        string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
}

// NewGenerator resolves the configured answer-generation variant once at
// startup. Callers only ever see the Generator interface.
func NewGenerator(config GeneratorConfig) (types.Generator, error) {
	switch config.Provider {
	case "", "mock":
		return &MockGenerator{}, nil
	case "ollama":
		return newOllamaGenerator(config)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", config.Provider)
	}
}

// formatContexts numbers and delimits retrieved chunks so the model can
// tell them apart.
func formatContexts(contexts []string) string {
	if len(contexts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(contexts))
	for i, c := range contexts {
		parts = append(parts, fmt.Sprintf("[Context %d]\n%s", i+1, c))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

type ollamaGenerator struct {
	config GeneratorConfig
	llm    llms.Model
}

func newOllamaGenerator(config GeneratorConfig) (*ollamaGenerator, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant. Answer the question using only the provided context."
	}

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ollamaGenerator{config: config, llm: model}, nil
}

func (g *ollamaGenerator) GenerateAnswer(ctx context.Context, question string, contexts []string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, g.config.SystemTemplate),
		llms.TextParts(schema.ChatMessageTypeHuman, formatContexts(contexts)),
		llms.TextParts(schema.ChatMessageTypeHuman, question),
	}

	resp, err := g.llm.GenerateContent(ctx, content,
		llms.WithTemperature(g.config.Temperature),
		llms.WithMaxTokens(g.config.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	return resp.Choices[0].Content, nil
}

// MockGenerator answers without a model server, for local development and
// tests.
type MockGenerator struct{}

func (g *MockGenerator) GenerateAnswer(_ context.Context, question string, contexts []string) (string, error) {
	if len(contexts) == 0 {
		return fmt.Sprintf("No relevant context found for: %s", question), nil
	}
	return fmt.Sprintf("Based on %d context fragment(s): %s", len(contexts), contexts[0]), nil
}
