// Package taxjar talks to the remote sales tax calculation API.
package taxjar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-tax/internal/obs"
)

var (
	// ErrTransport marks failures where no HTTP answer was obtained.
	ErrTransport = errors.New("taxjar: transport failure")
	// ErrQuotaExceeded is returned when the outbound request quota is spent.
	ErrQuotaExceeded = fmt.Errorf("%w: outbound quota exceeded", ErrTransport)
)

const taxesPath = "/v2/taxes"

// Response is the raw remote answer.
type Response struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// OK reports whether the remote answered with 200.
func (r Response) OK() bool { return r.StatusCode == http.StatusOK }

// Sender sends a serialised calculation request.
type Sender interface {
	Send(ctx context.Context, body []byte) (Response, error)
}

// Doer executes HTTP requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// OverrideFunc can answer a request before any network call. Returning
// false falls through to the remote API.
type OverrideFunc func(ctx context.Context, body []byte) (Response, bool)

// Client calls the remote taxes endpoint.
type Client struct {
	BaseURL  string
	Token    string
	Plugin   string
	HTTP     Doer
	Override OverrideFunc
	// Quota, when set, bounds outbound calls. The key is shared by all callers.
	Quota  *limiter.Limiter
	Logger zerolog.Logger
}

// Send posts body to the taxes endpoint. HTTP error statuses are returned as
// responses; only failures to obtain an answer return an error, and those
// wrap ErrTransport.
func (c *Client) Send(ctx context.Context, body []byte) (Response, error) {
	if c.Override != nil {
		if resp, ok := c.Override(ctx, body); ok {
			c.Logger.Debug().Int("status", resp.StatusCode).Msg("tax_remote_override")
			return resp, nil
		}
	}
	if c.HTTP == nil {
		return Response{}, fmt.Errorf("%w: http client not configured", ErrTransport)
	}
	if err := c.checkQuota(ctx); err != nil {
		return Response{}, err
	}

	url := strings.TrimRight(c.BaseURL, "/") + taxesPath
	ctx, span := otel.Tracer("taxjar").Start(ctx, "taxjar.taxes")
	defer span.End()
	span.SetAttributes(attribute.String("http.url", url))

	c.Logger.Debug().Str("url", url).RawJSON("payload", body).Msg("tax_remote_request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if c.Plugin != "" {
		req.Header.Set("User-Agent", "TaxJar/"+c.Plugin)
	}

	start := time.Now()
	httpResp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		obs.ObserveRemoteRequest("error", obs.DurationMillis(time.Since(start)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.Logger.Warn().Err(err).Str("url", url).Msg("tax_remote_transport_error")
		return Response{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = httpResp.Body.Close() }()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		obs.ObserveRemoteRequest("error", obs.DurationMillis(time.Since(start)))
		return Response{}, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	obs.ObserveRemoteRequest(strconv.Itoa(httpResp.StatusCode), obs.DurationMillis(time.Since(start)))
	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))

	resp := Response{StatusCode: httpResp.StatusCode, Body: data}
	if !resp.OK() {
		c.Logger.Warn().Int("status", resp.StatusCode).Bytes("body", data).Msg("tax_remote_non_success")
	} else {
		c.Logger.Debug().Bytes("body", data).Msg("tax_remote_response")
	}
	return resp, nil
}

func (c *Client) checkQuota(ctx context.Context) error {
	if c.Quota == nil {
		return nil
	}
	lctx, err := c.Quota.Get(ctx, "taxjar:taxes")
	if err != nil {
		// a broken quota store must not block calculations
		c.Logger.Warn().Err(err).Msg("tax_quota_unavailable")
		return nil
	}
	if lctx.Reached {
		c.Logger.Warn().Int64("limit", lctx.Limit).Time("reset", time.Unix(lctx.Reset, 0)).Msg("tax_quota_exceeded")
		return ErrQuotaExceeded
	}
	return nil
}
