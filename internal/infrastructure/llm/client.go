// Package llm is the OpenAI-compatible HTTP client used by the chat
// engine. Every request passes the egress policy before any network
// write; denials surface as EgressDenied without opening a connection.
package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/chat"
	"github.com/hackare/hackare/internal/infrastructure/egress"
)

// Options tunes the client's transport behavior.
type Options struct {
	ConnectTimeout time.Duration // default 5s
	ReadIdle       time.Duration // default 60s
}

// Client posts chat completion requests to a single OpenAI-compatible
// endpoint. The base URL, key, and egress policy are supplied per call so
// live config changes take effect without rebuilding the client.
type Client struct {
	client  *http.Client
	options Options
	logger  *zap.Logger
}

// NewClient builds a client with conservative transport settings:
// bounded dial, generous response-header window for slow first tokens,
// pooled keep-alive connections.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadIdle <= 0 {
		opts.ReadIdle = 60 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		client:  &http.Client{Transport: transport},
		options: opts,
		logger:  logger.With(zap.String("component", "llm")),
	}
}

// Target identifies where and how a completion request is sent.
type Target struct {
	BaseURL string
	APIKey  string
	Policy  egress.Policy
}

func (c *Client) post(ctx context.Context, target Target, body []byte, stream bool) (*http.Response, error) {
	endpoint := strings.TrimRight(target.BaseURL, "/") + "/chat/completions"

	if err := target.Policy.Permit(endpoint); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, chat.WrapError(chat.KindTransport, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if target.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+target.APIKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, chat.WrapError(chat.KindCancelled, "request cancelled", ctx.Err())
		}
		return nil, chat.WrapError(chat.KindTransport, "request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, statusError(resp.StatusCode, respBody)
	}
	return resp, nil
}

// Complete runs a non-streaming completion.
func (c *Client) Complete(ctx context.Context, target Target, req *Request) (*StreamResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, chat.WrapError(chat.KindParseFailed, "marshal request", err)
	}

	resp, err := c.post(ctx, target, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chat.WrapError(chat.KindTransport, "read response", err)
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, chat.WrapError(chat.KindParseFailed, "parse response", err)
	}
	if apiResp.Error != nil {
		return nil, chat.NewError(chat.KindServer, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, chat.NewError(chat.KindServer, "empty response: no choices")
	}

	choice := apiResp.Choices[0]
	result := &StreamResult{
		Content:      choice.Message.Content,
		ModelUsed:    apiResp.Model,
		TokensUsed:   apiResp.Usage.Total(),
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, chat.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}

// Stream runs a streaming completion, delivering content deltas to
// onDelta in wire order. Cancellation through ctx force-closes the body
// so a blocked read wakes promptly.
func (c *Client) Stream(ctx context.Context, target Target, req *Request, onDelta func(string)) (*StreamResult, error) {
	body, err := json.Marshal(StreamRequest{Request: req, Stream: true})
	if err != nil {
		return nil, chat.WrapError(chat.KindParseFailed, "marshal request", err)
	}

	resp, err := c.post(ctx, target, body, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Watchdog: close the body on cancellation so the scanner unblocks.
	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.logger.Debug("Context cancelled, closing SSE stream", zap.Error(ctx.Err()))
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	result, err := ParseSSEStream(ctx, resp.Body, c.options.ReadIdle, onDelta, c.logger)
	close(streamDone)

	// The watchdog's body close surfaces to the scanner as an ordinary
	// read error, so a cancelled stream can come back looking like a
	// transport drop or a clean truncation. The context is authoritative:
	// report cancellation, keeping the partial result for the caller.
	if ctx.Err() != nil {
		return result, chat.WrapError(chat.KindCancelled, "request cancelled", ctx.Err())
	}
	return result, err
}

func statusError(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var apiResp Response
	if json.Unmarshal(body, &apiResp) == nil && apiResp.Error != nil {
		message = apiResp.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return chat.NewError(chat.KindAuth, fmt.Sprintf("authentication failed (%d): %s", status, message))
	case status == http.StatusTooManyRequests:
		return chat.NewError(chat.KindRateLimited, fmt.Sprintf("rate limited (%d): %s", status, message))
	case status >= 500:
		return chat.NewError(chat.KindServer, fmt.Sprintf("server error (%d): %s", status, message))
	default:
		return chat.NewError(chat.KindTransport, fmt.Sprintf("unexpected status %d: %s", status, message))
	}
}
