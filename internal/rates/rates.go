package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/subtally/subtally/pkg/logger"
)

// RatesResponse represents the exchange rate document served at the
// configured URL: one unit of the base currency expressed in every quoted
// currency.
type RatesResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Service fetches and caches exchange rates against a base currency and
// refreshes them periodically.
type Service struct {
	logger  *logger.Logger
	baseURL string
	base    string
	client  *http.Client

	// In-memory cache
	cacheMutex sync.RWMutex
	rates      map[string]float64

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a rate service for the given document URL and base
// currency.
func NewService(baseURL, base string, logger *logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		logger:  logger,
		baseURL: baseURL,
		base:    base,
		rates:   make(map[string]float64),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Base returns the base currency of the cached rates.
func (s *Service) Base() string {
	return s.base
}

// FetchAndUpdateRates fetches the rate document and replaces the cache.
func (s *Service) FetchAndUpdateRates() error {
	url := fmt.Sprintf("%s?base=%s", s.baseURL, s.base)

	resp, err := s.client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var ratesResp RatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&ratesResp); err != nil {
		return fmt.Errorf("failed to decode rates response: %w", err)
	}

	if ratesResp.Base != "" && ratesResp.Base != s.base {
		return fmt.Errorf("rate document base %q does not match configured base %q", ratesResp.Base, s.base)
	}

	// Update the cache atomically
	s.cacheMutex.Lock()
	s.rates = ratesResp.Rates
	s.cacheMutex.Unlock()

	s.logger.Info(fmt.Sprintf("Successfully cached %d exchange rates", len(ratesResp.Rates)))
	return nil
}

// Rate returns how many units of the given currency one unit of the base
// currency buys.
func (s *Service) Rate(currency string) (float64, error) {
	if currency == s.base {
		return 1, nil
	}

	s.cacheMutex.RLock()
	defer s.cacheMutex.RUnlock()

	rate, ok := s.rates[currency]
	if !ok {
		return 0, fmt.Errorf("no rate for currency %q", currency)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("invalid rate %v for currency %q", rate, currency)
	}
	return rate, nil
}

// Convert converts an amount from the given currency into the base
// currency.
func (s *Service) Convert(amount float64, from string) (float64, error) {
	rate, err := s.Rate(from)
	if err != nil {
		return 0, err
	}
	return amount / rate, nil
}

// StartPeriodicUpdate starts a goroutine that refreshes rates periodically.
func (s *Service) StartPeriodicUpdate() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Initial fetch with retry logic
		backoff := 5 * time.Second
		maxBackoff := 5 * time.Minute

		for {
			if err := s.FetchAndUpdateRates(); err != nil {
				s.logger.Error("Failed to fetch rates on startup, retrying...", "error", err, "retry_in", backoff)

				// Wait with context cancellation support
				select {
				case <-time.After(backoff):
					backoff = backoff * 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
					continue
				case <-s.ctx.Done():
					s.logger.Info("Rate service stopped during initial fetch")
					return
				}
			}
			s.logger.Info("Successfully loaded initial exchange rates")
			break
		}

		// Update every hour
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.FetchAndUpdateRates(); err != nil {
					s.logger.Error("Failed to fetch rates during periodic update", "error", err)
				}
			case <-s.ctx.Done():
				s.logger.Info("Rate service periodic update stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the rate service.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}
