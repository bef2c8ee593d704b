package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
)

// DownstreamErrorResponse mirrors the error envelope returned by the
// fulfillment service's downstream dependencies (inventory, payment,
// shipping, notification). It is used to parse structured error bodies.
type DownstreamErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and classifies
// it for the saga orchestrator: 4xx responses are permanent failures that
// trigger compensation, 5xx and 429 responses are transient and retryable.
//
// The caller should only invoke this when resp.StatusCode indicates an error
// (i.e., not 2xx). The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return apperrors.Transient(fmt.Sprintf("%s returned status %d (failed to read body: %v)", serviceName, resp.StatusCode, err))
	}

	code := ""
	message := string(bodyBytes)
	var downstream DownstreamErrorResponse
	if json.Unmarshal(bodyBytes, &downstream) == nil && downstream.Error != nil {
		code = downstream.Error.Code
		message = downstream.Error.Message
	}

	return classify(resp.StatusCode, code, message, serviceName)
}

// classify maps a downstream status code onto the saga failure taxonomy.
func classify(status int, code, message, serviceName string) error {
	qualifiedMsg := fmt.Sprintf("%s: %s", serviceName, message)
	if code != "" {
		qualifiedMsg = fmt.Sprintf("%s [%s]: %s", serviceName, code, message)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.Transient(qualifiedMsg)
	case status >= 500:
		return apperrors.Transient(fmt.Sprintf("%s server error (%d): %s", serviceName, status, message))
	case status >= 400:
		return apperrors.Permanent(qualifiedMsg)
	default:
		return &apperrors.AppError{
			Code:    code,
			Message: qualifiedMsg,
			Status:  status,
		}
	}
}

// IsRetryableStatus reports whether a downstream status code should be
// retried rather than compensated.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
