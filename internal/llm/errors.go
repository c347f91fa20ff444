package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

var (
	ErrTimeout       = errors.New("generation timed out")
	ErrRateLimited   = errors.New("rate limited")
	ErrProviderError = errors.New("provider error")
)

// classify wraps a provider error with one of ErrTimeout, ErrRateLimited or
// ErrProviderError.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", provider, kindOf(err), err)
}

func kindOf(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusKind(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusKind(reqErr.HTTPStatusCode)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return statusKind(gErr.Code)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "429"):
		return ErrRateLimited
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ErrTimeout
	}
	return ErrProviderError
}

func statusKind(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	}
	return ErrProviderError
}

// Code names the classification of err for diagnostics.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	default:
		return "ProviderError"
	}
}
