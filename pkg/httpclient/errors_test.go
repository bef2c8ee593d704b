package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
)

func makeResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func TestParseResponseError_ServerErrorIsTransient(t *testing.T) {
	resp := makeResponse(http.StatusInternalServerError, `{"error":{"code":"DB_DOWN","message":"database unavailable"}}`)

	err := ParseResponseError(resp, "payment")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.False(t, apperrors.IsPermanent(err))
	assert.Contains(t, err.Error(), "payment")
}

func TestParseResponseError_TooManyRequestsIsTransient(t *testing.T) {
	resp := makeResponse(http.StatusTooManyRequests, `{"error":{"code":"RATE_LIMITED","message":"slow down"}}`)

	err := ParseResponseError(resp, "inventory")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func TestParseResponseError_ClientErrorIsPermanent(t *testing.T) {
	resp := makeResponse(http.StatusUnprocessableEntity, `{"error":{"code":"CARD_DECLINED","message":"card declined"}}`)

	err := ParseResponseError(resp, "payment")
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))
	assert.False(t, apperrors.IsTransient(err))
	assert.Contains(t, err.Error(), "CARD_DECLINED")
}

func TestParseResponseError_BadRequestIsPermanent(t *testing.T) {
	resp := makeResponse(http.StatusBadRequest, `{"error":{"code":"INVALID_SKU","message":"unknown sku"}}`)

	err := ParseResponseError(resp, "inventory")
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))
}

func TestParseResponseError_UnstructuredBody(t *testing.T) {
	resp := makeResponse(http.StatusBadGateway, "upstream timeout")

	err := ParseResponseError(resp, "shipping")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Contains(t, err.Error(), "shipping")
	assert.Contains(t, err.Error(), "502")
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, IsRetryableStatus(http.StatusInternalServerError))
	assert.True(t, IsRetryableStatus(http.StatusServiceUnavailable))
	assert.True(t, IsRetryableStatus(http.StatusTooManyRequests))
	assert.False(t, IsRetryableStatus(http.StatusBadRequest))
	assert.False(t, IsRetryableStatus(http.StatusUnprocessableEntity))
	assert.False(t, IsRetryableStatus(http.StatusOK))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(http.StatusBadRequest))
	assert.True(t, IsClientError(http.StatusNotFound))
	assert.False(t, IsClientError(http.StatusInternalServerError))
	assert.False(t, IsClientError(http.StatusOK))
}
