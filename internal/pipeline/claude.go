package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultClaudeModel is used when ClaudeConfig.Model is empty.
const DefaultClaudeModel = "claude-3-5-haiku-latest"

// messageCreator is the part of the Anthropic client the stages use.
type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ClaudeConfig configures the Claude-backed stages.
type ClaudeConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

type claudeClient struct {
	messages  messageCreator
	model     string
	maxTokens int64
}

func newClaudeClient(cfg ClaudeConfig) (*claudeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultClaudeModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &claudeClient{
		messages:  &client.Messages,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (c *claudeClient) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to call anthropic API: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// ClaudeTranslator translates through the Anthropic Messages API.
type ClaudeTranslator struct {
	client *claudeClient
}

// NewClaudeTranslator creates a translator from cfg.
func NewClaudeTranslator(cfg ClaudeConfig) (*ClaudeTranslator, error) {
	client, err := newClaudeClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ClaudeTranslator{client: client}, nil
}

func (t *ClaudeTranslator) Translate(ctx context.Context, text, src, tgt string) (*Translation, error) {
	if strings.TrimSpace(text) == "" {
		return &Translation{DetectedSource: src}, nil
	}
	if tgt == "" {
		tgt = TargetLanguage
	}

	from := "the source language"
	if src != "" {
		from = fmt.Sprintf("language code %q", src)
	}
	prompt := fmt.Sprintf(
		"Translate the following transcript from %s into language code %q. "+
			"Reply with the translation only.\n\n%s", from, tgt, text)

	out, err := t.client.complete(ctx, prompt)
	if err != nil {
		return nil, Failed(StageTranslate, err)
	}
	return &Translation{TranslatedText: out, DetectedSource: src}, nil
}

// ClaudeSummarizer summarizes through the Anthropic Messages API.
type ClaudeSummarizer struct {
	client *claudeClient
}

// NewClaudeSummarizer creates a summarizer from cfg.
func NewClaudeSummarizer(cfg ClaudeConfig) (*ClaudeSummarizer, error) {
	client, err := newClaudeClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ClaudeSummarizer{client: client}, nil
}

const summaryPrompt = `Summarize the following transcript in a short paragraph.
Then write a line containing only "Highlights:" followed by up to five key points,
one per line, each starting with "- ".

%s`

func (s *ClaudeSummarizer) Summarize(ctx context.Context, text string) (*Summary, error) {
	if strings.TrimSpace(text) == "" {
		return &Summary{Highlights: []string{}}, nil
	}

	out, err := s.client.complete(ctx, fmt.Sprintf(summaryPrompt, text))
	if err != nil {
		return nil, Failed(StageSummarize, err)
	}
	return parseSummary(out), nil
}

// parseSummary splits a model reply into the summary paragraph and the
// bullet list that follows a "Highlights:" line.
func parseSummary(reply string) *Summary {
	summary := &Summary{Highlights: []string{}}

	var body []string
	inHighlights := false
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.EqualFold(strings.TrimSuffix(trimmed, ":"), "highlights") {
			inHighlights = true
			continue
		}
		if inHighlights {
			if item, ok := strings.CutPrefix(trimmed, "- "); ok && item != "" {
				summary.Highlights = append(summary.Highlights, item)
			}
			continue
		}
		body = append(body, line)
	}
	summary.Summary = strings.TrimSpace(strings.Join(body, "\n"))
	return summary
}
