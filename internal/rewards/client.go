package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      uint64
	RetryInterval   time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client calls the gamification service's points endpoint.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker
	maxRetries    uint64
	retryInterval time.Duration
}

// statusError is a non-2xx answer. 4xx answers are the caller's fault and
// are neither retried nor counted against the breaker.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (e *statusError) clientFault() bool {
	return e.code >= 400 && e.code < 500
}

func NewClient(cfg ClientConfig) *Client {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gamification",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || (errors.As(err, &se) && se.clientFault())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.FromContext(context.Background()).Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		baseURL:       cfg.BaseURL,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		breaker:       breaker,
		maxRetries:    cfg.MaxRetries,
		retryInterval: interval,
	}
}

type pointsPayload struct {
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	Amount    string `json:"amount"`
	Points    int64  `json:"points"`
	Reference string `json:"reference,omitempty"`
}

func (c *Client) AwardPoints(ctx context.Context, award Award) error {
	body, err := json.Marshal(pointsPayload{
		UserID:    award.UserID.String(),
		Action:    string(award.Action),
		Amount:    award.Amount.StringFixed(2),
		Points:    award.Points,
		Reference: award.Reference,
	})
	if err != nil {
		return fmt.Errorf("AwardPoints: marshal: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval

	op := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.send(ctx, body)
		})
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
			(errors.As(err, &se) && se.clientFault()) {
			return backoff.Permanent(err)
		}
		return err
	}

	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		return fmt.Errorf("AwardPoints: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, body []byte) error {
	log := logging.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/points", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	log.Debug("gamification response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(respBody)}
	}
	return nil
}
