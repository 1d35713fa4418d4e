// Package apiclient es el cliente HTTP tipado de la API del engine.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBase = "http://localhost:8080"

	// Por debajo del límite por IP del servidor (20/s por defecto).
	defaultRatePerSec = 15
	defaultBurst      = 5

	maxRetries    = 3
	baseRetryWait = 250 * time.Millisecond
)

// APIError es una respuesta 4xx/5xx. Unwrap devuelve el error de dominio
// equivalente al status, así los callers usan errors.Is igual que en local.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	msg := strings.ToLower(e.Message)
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusBadRequest:
		if strings.HasPrefix(msg, domain.ErrInvalidAccount.Error()) {
			return domain.ErrInvalidAccount
		}
		if strings.HasPrefix(msg, domain.ErrInvalidConfig.Error()) {
			return domain.ErrInvalidConfig
		}
		return domain.ErrInvalidAmount
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// el mensaje empieza por el texto del sentinel
		for _, target := range []error{
			domain.ErrMarketClosed, domain.ErrSettlementInProgress, domain.ErrWindowExpired,
			domain.ErrMarketNotResolvable, domain.ErrSlippageExceeded, domain.ErrDepositTooLow,
			domain.ErrInsufficientBalance, domain.ErrInsufficientReserve, domain.ErrNotEligible,
		} {
			if strings.HasPrefix(msg, target.Error()) {
				return target
			}
		}
	}
	return nil
}

// Client habla con la API con rate limiting y retries.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
	sleepFn func(ctx context.Context, attempt int)
}

// Option ajusta el Client.
type Option func(*Client)

// WithHTTPClient reemplaza el http.Client (timeouts, transport de tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRate cambia el límite de peticiones por segundo.
func WithRate(perSec float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSec), burst) }
}

// WithBackoff reemplaza la espera entre reintentos.
func WithBackoff(fn func(ctx context.Context, attempt int)) Option {
	return func(c *Client) { c.sleepFn = fn }
}

// New crea un Client contra base. Si base está vacío usa localhost:8080.
func New(base string, opts ...Option) *Client {
	if base == "" {
		base = defaultBase
	}
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    strings.TrimRight(base, "/"),
		limiter: rate.NewLimiter(defaultRatePerSec, defaultBurst),
	}
	c.sleepFn = c.sleep
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get hace un GET con rate limiting y retries. Los GET son idempotentes:
// se reintentan errores de red y 5xx.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doWithRetry(ctx, true, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// post hace un POST JSON. Solo se reintenta el 429: un 5xx o un error de red
// pueden llegar después de que el engine haya aplicado la operación.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var b []byte
	if body != nil {
		var err error
		if b, err = json.Marshal(body); err != nil {
			return fmt.Errorf("apiclient: marshal body: %w", err)
		}
	}
	return c.doWithRetry(ctx, false, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta fn con backoff exponencial.
func (c *Client) doWithRetry(ctx context.Context, idempotent bool, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("apiclient: rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if !idempotent || attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("apiclient: request failed after %d attempts: %w", attempt+1, err)
			}
			c.sleepFn(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			if attempt == maxRetries {
				return &APIError{Status: resp.StatusCode, Message: "rate limit exceeded"}
			}
			slog.Warn("apiclient: rate limited by API", "attempt", attempt+1)
			c.sleepFn(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 && idempotent && attempt < maxRetries {
			resp.Body.Close()
			c.sleepFn(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			return decodeError(resp)
		}

		defer resp.Body.Close()
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("apiclient: decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("apiclient: exhausted %d retries", maxRetries)
}

func decodeError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// IsStatus indica si err es un APIError con ese status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
