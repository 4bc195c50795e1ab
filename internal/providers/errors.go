package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

// mapOpenAIError converts SDK errors into the pipeline error taxonomy so the
// invoker can decide what to retry.
func mapOpenAIError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &pipeline.TransientProviderError{Provider: provider, Err: err}
	}

	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return &pipeline.ThrottlingError{Provider: provider, RetryAfter: retryAfter, Err: errors.New(msg)}
	case apiErr.StatusCode >= 500,
		apiErr.StatusCode == http.StatusRequestTimeout,
		apiErr.StatusCode == http.StatusConflict:
		return &pipeline.TransientProviderError{Provider: provider, StatusCode: apiErr.StatusCode, Err: errors.New(msg)}
	default:
		return &pipeline.ValidationError{
			Field:  "request",
			Reason: fmt.Sprintf("%s rejected request (status %d): %s", provider, apiErr.StatusCode, msg),
		}
	}
}

// parseRetryAfter accepts either delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
