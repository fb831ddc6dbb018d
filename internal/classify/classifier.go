// Package classify assigns topics and difficulty to ingested questions
// using an OpenAI-compatible LLM endpoint (a local Ollama instance or a
// remote API).
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/grademax/grademax/internal/model"
)

// Classification is the LLM's verdict on a single question.
type Classification struct {
	TopicCodes []string `json:"topic_codes"`
	Difficulty int      `json:"difficulty"`
	Confidence float64  `json:"confidence"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new classifier client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the endpoint is reachable before a classification run.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// ClassifyQuestion asks the LLM to pick the question's topics from the
// subject's topic list and rate its difficulty.
func (c *Client) ClassifyQuestion(ctx context.Context, question model.Question, topics []model.Topic) (*Classification, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildClassifySystemPrompt(topics)},
			{Role: openai.ChatMessageRoleUser, Content: question.Text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("classifier response", "question_id", question.ID, "raw", raw)

	var result Classification
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse classifier response: %w (raw: %s)", err, raw)
	}

	result.TopicCodes = validCodes(result.TopicCodes, topics)
	if result.Difficulty < int(model.DifficultyEasy) || result.Difficulty > int(model.DifficultyHard) {
		result.Difficulty = int(model.DifficultyMedium)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		result.Confidence = 0.5
	}
	return &result, nil
}

func buildClassifySystemPrompt(topics []model.Topic) string {
	var sb strings.Builder
	sb.WriteString("You classify exam questions against a fixed curriculum.\n\n")
	sb.WriteString("TOPICS:\n")
	for _, t := range topics {
		sb.WriteString(fmt.Sprintf("%s: %s\n", t.Code, t.Name))
	}
	sb.WriteString("\nINSTRUCTIONS:\n")
	sb.WriteString("- Pick the one to three topic codes the question belongs to, most relevant first.\n")
	sb.WriteString("- Use ONLY codes from the list above.\n")
	sb.WriteString("- Rate difficulty: 1 = easy recall, 2 = standard application, 3 = hard multi-step reasoning.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"topic_codes": ["<code>", ...], "difficulty": <1-3>, "confidence": <0.0-1.0>}`)
	sb.WriteString("\n")
	return sb.String()
}

// validCodes filters the LLM's topic codes down to ones that exist,
// preserving order.
func validCodes(codes []string, topics []model.Topic) []string {
	known := make(map[string]bool, len(topics))
	for _, t := range topics {
		known[t.Code] = true
	}
	var out []string
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if known[code] {
			out = append(out, code)
		} else if code != "" {
			slog.Warn("classifier returned unknown topic code", "code", code)
		}
	}
	return out
}
