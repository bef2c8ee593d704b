package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/httpclient"
)

// downstream wraps the circuit-breaker HTTP client for one downstream
// service. All adapter calls funnel through post so idempotency keys and
// error classification are applied uniformly.
type downstream struct {
	client  *httpclient.CircuitBreakerClient
	baseURL string
	service string
}

func newDownstream(client *httpclient.CircuitBreakerClient, baseURL, service string) downstream {
	return downstream{client: client, baseURL: baseURL, service: service}
}

// post sends a JSON request with the given idempotency key and returns the
// response body. Transport failures, open circuits and 5xx/429 responses come
// back as transient errors; other 4xx responses as permanent.
func (d downstream) post(ctx context.Context, path, idempotencyKey string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", d.service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", d.service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := d.client.Do(ctx, req)
	if err != nil {
		if errors.Is(err, httpclient.ErrCircuitOpen) {
			return nil, apperrors.TransientWrap(err, d.service+" circuit open")
		}
		return nil, apperrors.TransientWrap(err, d.service+" request failed")
	}

	if resp.StatusCode >= 400 {
		return nil, httpclient.ParseResponseError(resp, d.service)
	}

	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.TransientWrap(err, d.service+" response read failed")
	}
	return data, nil
}
