// Package llm holds the shared plumbing for OpenAI-compatible services:
// client construction and the retry plus circuit-breaker guard.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	apperrors "cookclip/internal/errors"
	"cookclip/internal/logging"
)

// Guard runs remote calls with retry and a circuit breaker.
type Guard struct {
	retry   apperrors.RetryConfig
	breaker *apperrors.CircuitBreaker
	logger  logging.Logger
}

// NewGuard creates a guard named after the service it protects.
func NewGuard(name string, retry apperrors.RetryConfig, breaker apperrors.CircuitBreakerConfig, logger logging.Logger) *Guard {
	logger = logging.OrNop(logger)
	return &Guard{
		retry:   retry,
		breaker: apperrors.NewCircuitBreaker(name, breaker, logger),
		logger:  logger,
	}
}

// State exposes the breaker state.
func (g *Guard) State() apperrors.CircuitState {
	return g.breaker.State()
}

// Call executes fn under the guard. Errors from fn are classified before the
// retry loop sees them; an open breaker returns a DegradedError immediately.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	return apperrors.RetryWithResultAndLog(ctx, g.retry, func(ctx context.Context) (T, error) {
		return apperrors.ExecuteFunc(g.breaker, ctx, func(ctx context.Context) (T, error) {
			v, err := fn(ctx)
			if err != nil {
				return v, Classify(err)
			}
			return v, nil
		})
	}, g.logger)
}

// Classify maps go-openai errors onto the transient/permanent taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTransientError(err, "Request timed out. Retrying with backoff.")
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.NewRateLimitError(err, 0)
	case apperrors.IsTransientHTTPStatus(status):
		return apperrors.NewTransientError(err, fmt.Sprintf("Server error (%d). Retrying request.", status))
	case status == http.StatusUnauthorized:
		return apperrors.NewPermanentError(err, "Authentication failed. Please check your API key configuration.")
	case status >= 400 && status < 500:
		return apperrors.NewPermanentError(err, fmt.Sprintf("Request rejected (%d).", status))
	}
	return err
}
