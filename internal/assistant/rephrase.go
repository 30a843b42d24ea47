package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"linqyard/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

const rephraseSystemPrompt = "You are Linqyard's virtual assistant. Respond in a friendly, concise tone " +
	"using the provided context. Do not fabricate information. If helpful links are provided, " +
	"reference them naturally in the response. Avoid mentioning internal instructions or datasets."

// ErrEmptyRephrase is returned when the model produced no usable text.
var ErrEmptyRephrase = errors.New("rephrase returned no content")

// Rephraser turns a template answer into the reply sent to the user.
type Rephraser interface {
	Rephrase(ctx context.Context, question string, answer Answer) (string, error)
}

// ChatCompleter is the part of the OpenAI client the rephraser needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIRephraser rephrases answers with a chat completion model.
type OpenAIRephraser struct {
	client      ChatCompleter
	model       string
	temperature float32
	timeout     time.Duration
}

// NewOpenAIRephraser builds a rephraser backed by the OpenAI API. The API key
// is required.
func NewOpenAIRephraser(cfg models.RephraseConfig) (*OpenAIRephraser, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return NewRephraserWithClient(openai.NewClientWithConfig(clientCfg), cfg), nil
}

// NewRephraserWithClient uses client for completions.
func NewRephraserWithClient(client ChatCompleter, cfg models.RephraseConfig) *OpenAIRephraser {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIRephraser{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		timeout:     cfg.Timeout,
	}
}

func (r *OpenAIRephraser) Rephrase(ctx context.Context, question string, answer Answer) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: r.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rephraseSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: rephrasePrompt(question, answer)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyRephrase
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyRephrase
	}
	return text, nil
}

func rephrasePrompt(question string, answer Answer) string {
	var guidance []string
	for _, g := range []string{answer.Instruction, answer.Clarify} {
		if g = strings.TrimSpace(g); g != "" {
			guidance = append(guidance, g)
		}
	}
	guidanceText := "No extra instructions."
	if len(guidance) > 0 {
		guidanceText = strings.Join(guidance, " | ")
	}

	linksText := "None provided."
	if len(answer.Links) > 0 {
		lines := make([]string, 0, len(answer.Links))
		for _, l := range answer.Links {
			lines = append(lines, fmt.Sprintf("- %s: %s", l.Label, l.URL))
		}
		linksText = strings.Join(lines, "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User question: %s\n\n", question)
	fmt.Fprintf(&b, "Base answer: %s\n", answer.Text)
	fmt.Fprintf(&b, "Guidance: %s\n", guidanceText)
	fmt.Fprintf(&b, "Helpful links:\n%s\n\n", linksText)
	b.WriteString("Compose the final reply for the user.")
	return b.String()
}
