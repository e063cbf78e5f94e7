// Package broker holds the clients for the core's external collaborators:
// the account/market feed, the position manager, and the streaming equity
// feed. Every call is bounded by a timeout and guarded by a circuit breaker
// so a degraded collaborator degrades to skipped cycles, never to blocking.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/domain"
)

// AccountFeed supplies point-in-time account state per executor
type AccountFeed interface {
	GetAccountState(ctx context.Context, executorID string) (*domain.AccountState, error)
}

// PositionManager executes protective close requests
type PositionManager interface {
	ClosePosition(ctx context.Context, symbol string, urgency domain.Urgency) error
	CloseAllPositions(ctx context.Context, urgency domain.Urgency) error
}

// Client is the HTTP implementation of both collaborator interfaces
type Client struct {
	cfg     config.BrokerConfig
	http    *http.Client
	breaker *cb.CircuitBreaker
	limiter *rate.Limiter
}

// NewClient builds the collaborator client from config
func NewClient(cfg config.BrokerConfig) *Client {
	settings := cb.Settings{Name: "broker"}
	settings.Interval = 60 * time.Second
	settings.Timeout = 30 * time.Second
	settings.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: cb.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
	}
}

// GetAccountState fetches one executor's account snapshot
func (c *Client) GetAccountState(ctx context.Context, executorID string) (*domain.AccountState, error) {
	u := fmt.Sprintf("%s/accounts/%s", c.cfg.AccountFeedURL, url.PathEscape(executorID))

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("account state fetch for %s: %w", executorID, err)
	}

	var state domain.AccountState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("account state decode for %s: %w", executorID, err)
	}
	state.ExecutorID = executorID
	return &state, nil
}

// ClosePosition asks the position manager to unwind one symbol
func (c *Client) ClosePosition(ctx context.Context, symbol string, urgency domain.Urgency) error {
	u := fmt.Sprintf("%s/positions/%s/close", c.cfg.PositionManagerURL, url.PathEscape(symbol))
	return c.post(ctx, u, map[string]string{"urgency": string(urgency)})
}

// CloseAllPositions asks the position manager to flatten the book
func (c *Client) CloseAllPositions(ctx context.Context, urgency domain.Urgency) error {
	u := fmt.Sprintf("%s/positions/close-all", c.cfg.PositionManagerURL)
	return c.post(ctx, u, map[string]string{"urgency": string(urgency)})
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) post(ctx context.Context, u string, payload interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("request encode: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	})
	return err
}
