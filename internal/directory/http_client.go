package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/models"
)

// HTTPClient talks to the account service over its REST surface. Calls go
// through a circuit breaker so a dead account service degrades lookups
// instead of piling up goroutines.
type HTTPClient struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    32,
		IdleConnTimeout: 90 * time.Second,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "directory",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &HTTPClient{
		base:    baseURL,
		http:    &http.Client{Transport: tr, Timeout: timeout},
		breaker: cb,
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.breaker.Execute(func() (any, error) {
		var b []byte
		op := func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return backoff.Permanent(errs.ErrNotFound)
			case resp.StatusCode >= 500:
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("directory: status %d", resp.StatusCode)
			case resp.StatusCode != http.StatusOK:
				return backoff.Permanent(fmt.Errorf("directory: status %d", resp.StatusCode))
			}
			b, err = io.ReadAll(resp.Body)
			return err
		}
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 3 * time.Second
		if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
			return nil, err
		}
		return b, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(body.([]byte), out)
}

func (c *HTTPClient) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := c.getJSON(ctx, "/v1/users/"+id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *HTTPClient) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	var out struct {
		Blocked bool `json:"blocked"`
	}
	if err := c.getJSON(ctx, "/v1/users/"+a+"/blocked/"+b, &out); err != nil {
		return false, err
	}
	return out.Blocked, nil
}

func (c *HTTPClient) Contacts(ctx context.Context, id string) ([]string, error) {
	var out struct {
		Contacts []string `json:"contacts"`
	}
	if err := c.getJSON(ctx, "/v1/users/"+id+"/contacts", &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}
