package llm

import (
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ClientConfig addresses an OpenAI-compatible endpoint.
type ClientConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NewClient builds a go-openai client. An empty BaseURL keeps the OpenAI
// default.
func NewClient(cfg ClientConfig) *openai.Client {
	conf := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		conf.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	conf.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(conf)
}
