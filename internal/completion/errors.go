package completion

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Error taxonomy surfaced by the completion client. Handlers map these onto
// user-facing responses; raw upstream error text never reaches callers.
var (
	// ErrContentFiltered reports a safety-policy block on the submitted or
	// generated content.
	ErrContentFiltered = errors.New("content blocked by safety policy")

	// ErrRateLimited reports quota or rate-limit exhaustion.
	ErrRateLimited = errors.New("rate limited")

	// ErrForbidden reports a genuine authorization denial.
	ErrForbidden = errors.New("permission denied")

	// ErrUpstream covers every other remote-service failure.
	ErrUpstream = errors.New("upstream completion failure")
)

// classifyError maps SDK errors onto the package taxonomy.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if code, ok := apiErr.Code.(string); ok && code == "content_filter" {
		return fmt.Errorf("%w: %v", ErrContentFiltered, err)
	}

	switch apiErr.HTTPStatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case http.StatusForbidden, http.StatusUnauthorized:
		if isQuotaExhaustion(apiErr) {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
}

// isQuotaExhaustion distinguishes quota exhaustion from a genuine
// authorization failure on permission-denied responses.
//
// The upstream API reports both through the same status code, so the only
// available signal is the error message text. TODO: switch to the structured
// error code once the provider exposes one on quota errors.
func isQuotaExhaustion(apiErr *openai.APIError) bool {
	if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit")
}
