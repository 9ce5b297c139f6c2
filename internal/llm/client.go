// # internal/llm/client.go
// HTTP client for OpenAI-compatible chat completion endpoints. Wraps resty
// with response caching, request throttling, classified retries, and an
// adaptive max_tokens budget that shrinks when the provider rejects a
// request for context overflow.
package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/observability"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/util"
)

// minMaxTokens is the floor for the adaptive completion budget. Below this
// the model cannot emit a useful verdict, so shrinking further only burns
// request quota.
const minMaxTokens = 2048

type Client struct {
	httpc    *resty.Client
	provider Provider
	model    string
	retries  int
	delay    time.Duration
	limiter  *rate.Limiter
	cache    *Cache

	mu        sync.Mutex
	maxTokens int
	nextSlot  time.Time

	// sleep is swapped out in tests so retries do not wait in real time.
	sleep func(ctx context.Context, d time.Duration) error
}

// New resolves the provider from cfg and creds and returns a ready client.
// cache may be nil to disable response caching.
func New(cfg config.LLM, creds config.Credentials, cache *Cache) (*Client, error) {
	prov, err := ResolveProvider(cfg.Provider, creds)
	if err != nil {
		return nil, err
	}
	baseURL := prov.BaseURL
	if strings.TrimSpace(cfg.BaseURL) != "" {
		baseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	}

	httpc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(prov.Key).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	// Burst of one: the point is spacing requests out, not banking tokens.
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		httpc:     httpc,
		provider:  prov,
		model:     cfg.Model,
		retries:   cfg.Retries,
		delay:     cfg.RequestDelay,
		limiter:   limiter,
		cache:     cache,
		maxTokens: cfg.MaxTokens,
		sleep:     sleepContext,
	}, nil
}

// ProviderName reports the resolved provider, for logs and reports.
func (c *Client) ProviderName() string {
	return c.provider.Name
}

// Complete runs one prompt through the provider and returns the raw
// assistant text. Responses are served from cache when available. Transient
// failures retry per the backoff policy; context overflow shrinks the
// completion budget before the retry.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		req.Model = c.model
	}

	key := cacheKey(c.provider.Name, req)
	if c.cache != nil {
		if hit, ok := c.cache.Get(ctx, key); ok {
			observability.LLMCacheHitsTotal.Inc()
			return hit, nil
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.throttle(ctx); err != nil {
			return "", err
		}

		content, class, err := c.send(ctx, req)
		if class == ErrClassNone {
			observability.LLMRequestsTotal.WithLabelValues("success").Inc()
			if c.cache != nil {
				if cerr := c.cache.Put(ctx, key, req.Model, content); cerr != nil {
					slog.Debug("llm cache write failed", "error", cerr)
				}
			}
			return content, nil
		}

		lastErr = err
		if class == ErrClassTokenLimit {
			req.MaxTokens = c.shrinkMaxTokens(req.MaxTokens)
			slog.Warn("llm request exceeded token limit, shrinking completion budget",
				"max_tokens", req.MaxTokens)
		}

		decision := Decide(attempt, class, c.retries)
		if !decision.Retry {
			observability.LLMRequestsTotal.WithLabelValues(string(class)).Inc()
			return "", lastErr
		}

		observability.LLMRetriesTotal.Inc()
		slog.Warn("llm request failed, retrying",
			"provider", c.provider.Name,
			"class", string(class),
			"attempt", attempt+1,
			"backoff", decision.After,
			"error", err)
		if serr := c.sleep(ctx, decision.After); serr != nil {
			return "", serr
		}
	}
}

// send issues a single chat completion request and classifies the outcome.
func (c *Client) send(ctx context.Context, req Request) (string, ErrClass, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.currentMaxTokens()
	}

	body := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.User})

	start := time.Now()
	var out chatResponse
	resp, err := c.httpc.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/chat/completions")
	observability.LLMRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		class := Classify(err, 0, "")
		return "", class, fmt.Errorf("chat completion transport: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		bodyText := string(resp.Body())
		class := Classify(nil, resp.StatusCode(), bodyText)
		return "", class, fmt.Errorf("chat completion status %d: %s",
			resp.StatusCode(), util.Truncate(bodyText, 300))
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", ErrClassServer, fmt.Errorf("chat completion provider error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrClassEmpty, fmt.Errorf("chat completion returned no content")
	}
	return out.Choices[0].Message.Content, ErrClassNone, nil
}

// throttle enforces the optional global rate limit and the per-client
// inter-request cooldown. Concurrent callers reserve spaced slots so a burst
// never collapses onto the provider at once.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if c.delay <= 0 {
		return nil
	}

	c.mu.Lock()
	now := time.Now()
	slot := c.nextSlot
	if slot.Before(now) {
		slot = now
	}
	c.nextSlot = slot.Add(c.delay)
	c.mu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		return c.sleep(ctx, wait)
	}
	return nil
}

func (c *Client) currentMaxTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxTokens
}

// shrinkMaxTokens halves the completion budget down to the floor. When the
// request carried an explicit budget the halved request value is returned;
// otherwise the client-wide default shrinks so later requests inherit it.
func (c *Client) shrinkMaxTokens(requested int) int {
	if requested > 0 {
		return halveTokens(requested)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxTokens = halveTokens(c.maxTokens)
	return 0
}

func halveTokens(n int) int {
	half := n / 2
	if half < minMaxTokens {
		return minMaxTokens
	}
	return half
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cacheKey hashes the full request identity. Length prefixes keep distinct
// (system, user) splits from colliding.
func cacheKey(provider string, req Request) string {
	h := xxhash.New()
	for _, part := range []string{provider, req.Model, req.System, req.User} {
		fmt.Fprintf(h, "%d:", len(part))
		io.WriteString(h, part)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
