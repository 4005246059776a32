package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultGammaBase = "https://gamma-api.polymarket.com"
	defaultDataBase  = "https://data-api.polymarket.com"
	defaultCLOBBase  = "https://clob.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// Gamma /markets: 300/10s → 180/10s → 18/s
	gammaRatePerSec = 18
	// Data API /trades: generosa, limitamos a 30/s para no llamar la atención
	dataRatePerSec = 30
	// CLOB /price y /markets: 9000/10s → 5400/10s → 540/s
	clobRatePerSec = 540

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// BackoffPolicy mapea número de intento → espera antes del siguiente.
type BackoffPolicy func(attempt int) time.Duration

// ExponentialJitter devuelve la política por defecto: base × 2^attempt más
// jitter uniforme de hasta el 50%.
func ExponentialJitter(base time.Duration) BackoffPolicy {
	return func(attempt int) time.Duration {
		wait := time.Duration(math.Pow(2, float64(attempt))) * base
		return wait + time.Duration(rand.Int63n(int64(wait)/2 + 1))
	}
}

// Client es el HTTP client de Polymarket con rate limiting, retries con
// backoff y un circuit breaker compartido para cortar en caliente cuando el
// venue degrada.
type Client struct {
	http         *http.Client
	gammaBase    string
	dataBase     string
	clobBase     string
	gammaLimiter *rate.Limiter
	dataLimiter  *rate.Limiter
	clobLimiter  *rate.Limiter
	backoff      BackoffPolicy
	breaker      *gobreaker.CircuitBreaker
}

// NewClient crea un Client con los base URLs dados. Los vacíos usan los URLs
// de producción.
func NewClient(gammaBase, dataBase, clobBase string) *Client {
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	if dataBase == "" {
		dataBase = defaultDataBase
	}
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "polymarket",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("venue breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		gammaBase:    gammaBase,
		dataBase:     dataBase,
		clobBase:     clobBase,
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
		dataLimiter:  rate.NewLimiter(dataRatePerSec, 10),
		clobLimiter:  rate.NewLimiter(clobRatePerSec, 50),
		backoff:      ExponentialJitter(baseRetryWait),
		breaker:      breaker,
	}
}

// get hace un GET JSON con rate limiting, breaker y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.doWithRetry(ctx, limiter, url, out)
	})
	if err != nil {
		return err
	}
	return nil
}

// doWithRetry ejecuta el GET con backoff en 429/5xx/timeout.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera según la política de backoff, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	select {
	case <-time.After(c.backoff(attempt)):
	case <-ctx.Done():
	}
}
