// Package decider talks to the external decision service. The client owns
// transport concerns only: retries on transport and 429/5xx failures,
// circuit breaking across consecutive outages, payload dumping, and the
// persisted decision log. Semantic validation lives in internal/decision.
package decider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tandem/internal/decision"
	"tandem/internal/logger"
	"tandem/internal/pkg/circuit"
	"tandem/internal/pkg/retry"
	"tandem/internal/store/model"
)

// LogSink persists decision traffic. Implemented by gormstore.Store.
type LogSink interface {
	InsertDecisionLog(ctx context.Context, rec *model.DecisionLogModel) error
}

// Options configures a Client. Zero values fall back to sane defaults.
type Options struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	ExtraHeaders map[string]string
	Policy       retry.Policy
	Breaker      *circuit.Breaker
	Sink         LogSink
}

// Client is an HTTP decision.Decider.
type Client struct {
	url     string
	apiKey  string
	headers map[string]string
	httpc   *http.Client
	policy  retry.Policy
	breaker *circuit.Breaker
	sink    LogSink
}

var _ decision.Decider = (*Client)(nil)

// NewClient normalizes the base URL so configs carrying the full decide
// path do not produce a duplicated segment.
func NewClient(opts Options) *Client {
	url := strings.TrimRight(opts.BaseURL, "/")
	url = strings.TrimSuffix(url, "/v1/decide")
	url += "/v1/decide"

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	policy := opts.Policy
	if policy.Attempts == 0 {
		policy = retry.DefaultPolicy()
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = circuit.NewBreaker("decider", 5, 2*time.Minute)
	}
	return &Client{
		url:     url,
		apiKey:  opts.APIKey,
		headers: opts.ExtraHeaders,
		httpc:   &http.Client{Timeout: timeout},
		policy:  policy,
		breaker: breaker,
		sink:    opts.Sink,
	}
}

// Decide posts the request and validates the response document. A response
// that fails schema validation is returned with the parse error so the
// caller can apply its malformed-response rule; transport exhaustion
// surfaces as retry.ErrExternalUnavailable.
func (c *Client) Decide(ctx context.Context, req decision.Request) (decision.Response, error) {
	if !c.breaker.Allow() {
		return decision.Response{}, fmt.Errorf("%w: decider circuit open", retry.ErrExternalUnavailable)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return decision.Response{}, fmt.Errorf("decider: marshal request: %w", err)
	}
	trace := uuid.NewString()
	logger.LogDecisionRequest(string(req.Role), req.Instrument, string(req.Conversation), string(payload))

	var raw string
	err = c.policy.Do(ctx, "decider", func(ctx context.Context) error {
		body, err := c.post(ctx, payload)
		if err != nil {
			return err
		}
		raw = body
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure()
		c.record(ctx, trace, req, payload, "", "", err)
		return decision.Response{}, err
	}
	c.breaker.RecordSuccess()
	logger.LogDecisionResponse(string(req.Role), req.Instrument, raw)

	resp, perr := decision.ParseResponse(req.Role, raw)
	if perr != nil {
		c.record(ctx, trace, req, payload, raw, "", perr)
		return decision.Response{Raw: raw}, perr
	}
	c.record(ctx, trace, req, payload, raw, resp.Action, nil)
	return resp, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("decider: post: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("decider: read body: %w", err)
	}
	switch {
	case resp.StatusCode/100 == 2:
		return string(body), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
		return "", fmt.Errorf("decider: status %s: %s", resp.Status, truncate(string(body), 200))
	default:
		// 4xx other than 429 will not improve on retry.
		return "", retry.Permanent(fmt.Errorf("decider: status %s: %s", resp.Status, truncate(string(body), 200)))
	}
}

func (c *Client) record(ctx context.Context, trace string, req decision.Request, payload []byte, raw, action string, cause error) {
	if c.sink == nil {
		return
	}
	rec := &model.DecisionLogModel{
		TraceID:      trace,
		Role:         string(req.Role),
		Instrument:   req.Instrument,
		AgentID:      req.AgentID,
		ProfileID:    req.ProfileID,
		Conversation: string(req.Conversation),
		RequestJSON:  payload,
		RawResponse:  raw,
		Action:       action,
		TSUnix:       time.Now().Unix(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := c.sink.InsertDecisionLog(ctx, rec); err != nil {
		logger.Errorf("decider: decision log write failed trace=%s: %v", trace, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
