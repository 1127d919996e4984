// Package assist generates natural-language explanations of debugger steps.
// It is an external collaborator with a narrow contract: given the program
// source and the delta one step produced (executed line, surrounding
// listing, captured calls), return one novice-friendly sentence.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/codestep/stepd/internal/config"
	"github.com/codestep/stepd/internal/errors"
	"github.com/codestep/stepd/pkg/types"
)

// Explainer turns a step delta into a human explanation
type Explainer interface {
	Explain(ctx context.Context, source string, delta types.StepDelta) (string, error)
}

// Disabled is the Explainer used when no API key is configured. Every call
// returns a typed error so clients get a clear message instead of a hang.
type Disabled struct{}

// Explain implements Explainer
func (Disabled) Explain(context.Context, string, types.StepDelta) (string, error) {
	return "", errors.ExplainDisabled()
}

// OpenAI explains steps through the chat completions API
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// New builds an Explainer from configuration. Missing API key yields the
// Disabled implementation.
func New(cfg config.AssistantConfig) Explainer {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return Disabled{}
	}
	return &OpenAI{
		client:      openai.NewClient(option.WithAPIKey(key)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Explain implements Explainer
func (o *OpenAI) Explain(ctx context.Context, source string, delta types.StepDelta) (string, error) {
	prompt, err := buildPrompt(source, delta)
	if err != nil {
		return "", err
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(o.temperature),
		MaxTokens:   openai.Int(o.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

const explainRules = `You are a helpful assistant that explains debugger execution steps to a programming novice. Make complex code behavior understandable using simple, clear language.

Core rule: describe ONLY the effect of the single executed line. Do not mention lines that have not executed yet, and do not speculate about future results.

Guidelines:
- Use simple words and avoid technical jargon
- Keep the explanation to one short sentence whenever possible
- Explain the impact of the step, not just the syntax
- Drop unnecessary subjects when the action is clear: "Stored the number 10 into x"
- When a function call happens, mention the action in plain words and include key input values if they are short
- When an error occurs, emphasize the error first, summarize its message in plain words, and mention where it was stored`

func buildPrompt(source string, delta types.StepDelta) (string, error) {
	calls, err := json.MarshalIndent(delta.CapturedCalls, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal captured calls: %w", err)
	}

	var b strings.Builder
	b.WriteString(explainRules)
	b.WriteString("\n\n## Full program\n```python\n")
	b.WriteString(source)
	b.WriteString("\n```\n\n## Executed line\n```python\n")
	b.WriteString(delta.ExecutedCode)
	b.WriteString("\n```\n\n## Source context around the line\n```\n")
	b.WriteString(delta.Context)
	b.WriteString("\n```\n\n## Calls captured while the line ran\n```json\n")
	b.Write(calls)
	b.WriteString("\n```\n\nExplain this step.")
	return b.String(), nil
}
