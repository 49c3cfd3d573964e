// Package recipe hands the fused text bundle to a chat-completion model and
// returns its structured recipe text.
package recipe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"cookclip/internal/fusion"
	"cookclip/internal/llm"
	"cookclip/internal/logging"
	"cookclip/internal/tokenutil"
)

var (
	// ErrNoContent means the bundle had no text to parse.
	ErrNoContent = errors.New("no recipe content detected")
	// ErrNoRecipe means the model found no recipe in the text.
	ErrNoRecipe = errors.New("model found no recipe")
)

const noRecipeMarker = "NO_RECIPE"

const systemPrompt = `You turn the text gathered from a cooking video into a recipe.
The input has up to three sections: the author's description, the spoken transcript and on-screen text.
They overlap and may contain noise from speech or OCR errors.
Reply with a title line, an "Ingredients" list with quantities and an ordered "Steps" list.
Only use information present in the input. If the input contains no recipe, reply with exactly ` + noRecipeMarker + `.`

// API is the go-openai surface the parser uses.
type API interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config tunes the parser.
type Config struct {
	Model          string  `mapstructure:"model"`
	MaxInputTokens int     `mapstructure:"max_input_tokens"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float32 `mapstructure:"temperature"`
}

// Parser calls the recipe-structuring model.
type Parser struct {
	api    API
	cfg    Config
	guard  *llm.Guard
	logger logging.Logger
}

// New creates a parser.
func New(api API, cfg Config, guard *llm.Guard, logger logging.Logger) *Parser {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = 6000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1200
	}
	return &Parser{api: api, cfg: cfg, guard: guard, logger: logging.OrNop(logger)}
}

// Parse returns recipe text for bundle. title is the video title, if known.
func (p *Parser) Parse(ctx context.Context, title string, bundle fusion.Bundle) (string, error) {
	if bundle.IsEmpty() {
		return "", ErrNoContent
	}
	input := bundle.TruncatedText(p.cfg.MaxInputTokens)
	if title = strings.TrimSpace(title); title != "" {
		input = "Video title: " + title + "\n\n" + input
	}
	p.logger.Debug("parsing bundle: ~%d tokens", tokenutil.CountTokens(input))

	req := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
	}
	call := func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return p.api.CreateChatCompletion(ctx, req)
	}

	var (
		resp openai.ChatCompletionResponse
		err  error
	)
	if p.guard != nil {
		resp, err = llm.Call(ctx, p.guard, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("parse recipe: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("parse recipe: empty response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" || strings.EqualFold(strings.Trim(text, ".` "), noRecipeMarker) {
		return "", ErrNoRecipe
	}
	return text, nil
}
