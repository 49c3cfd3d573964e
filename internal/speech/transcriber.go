// Package speech turns an extracted audio track into transcript text through
// an OpenAI-compatible transcription endpoint.
package speech

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"cookclip/internal/llm"
	"cookclip/internal/logging"
)

// API is the go-openai surface the transcriber uses.
type API interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Config selects the model.
type Config struct {
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
	Prompt   string `mapstructure:"prompt"`
}

// Transcriber calls the speech-to-text service under a guard.
type Transcriber struct {
	api    API
	cfg    Config
	guard  *llm.Guard
	logger logging.Logger
}

// New creates a transcriber.
func New(api API, cfg Config, guard *llm.Guard, logger logging.Logger) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	return &Transcriber{api: api, cfg: cfg, guard: guard, logger: logging.OrNop(logger)}
}

// Transcribe returns the spoken text of audioPath. Silence yields "" and no
// error; callers treat any error as an absent transcript.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	req := openai.AudioRequest{
		Model:    t.cfg.Model,
		FilePath: audioPath,
		Language: t.cfg.Language,
		Prompt:   t.cfg.Prompt,
		Format:   openai.AudioResponseFormatJSON,
	}
	call := func(ctx context.Context) (openai.AudioResponse, error) {
		return t.api.CreateTranscription(ctx, req)
	}

	var (
		resp openai.AudioResponse
		err  error
	)
	if t.guard != nil {
		resp, err = llm.Call(ctx, t.guard, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", audioPath, err)
	}
	text := strings.TrimSpace(resp.Text)
	t.logger.Debug("transcribed %s: %d chars", audioPath, len(text))
	return text, nil
}
