// internal/llmclient/retry.go
package llmclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// maxRetries bounds provider calls to one extra attempt after a transient failure.
const maxRetries = 1

// newBackOff is swapped in tests to avoid real sleeps.
var newBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// retry runs op with the package backoff policy, stopping early when ctx is done
// or the provider rejected the request itself.
func retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && (ctx.Err() != nil || isClientError(err)) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// providerStatus extracts the HTTP status carried by a provider SDK error, or 0.
func providerStatus(err error) int {
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr != nil {
		return gErrPtr.Code
	}
	return 0
}

// isClientError reports a 4xx rejection that a repeat would not fix.
// Timeouts and rate limits stay retryable.
func isClientError(err error) bool {
	status := providerStatus(err)
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

// attemptContext bounds a single provider call. A zero timeout leaves ctx unchanged.
func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
