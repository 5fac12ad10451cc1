package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"

	"subletsync/models"
)

// RateService fetches exchange rates and converts between stored USD prices
// and display-currency amounts. Snapshots are cached per base currency for
// the lifetime of the service; rates are refreshed only across restarts.
type RateService struct {
	client  *http.Client
	baseURL string

	mu    sync.Mutex
	cache map[string]*models.RateSnapshot
}

func NewRateService(client *http.Client, baseURL string) *RateService {
	return &RateService{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   make(map[string]*models.RateSnapshot),
	}
}

// Rates returns the snapshot for a base currency, fetching it on first use.
func (s *RateService) Rates(ctx context.Context, base string) (*models.RateSnapshot, error) {
	base = strings.ToUpper(base)

	s.mu.Lock()
	if snap, ok := s.cache[base]; ok {
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	snap, err := s.fetch(ctx, base)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[base] = snap
	s.mu.Unlock()
	return snap, nil
}

func (s *RateService) fetch(ctx context.Context, base string) (*models.RateSnapshot, error) {
	url := fmt.Sprintf("%s/v6/latest/%s", s.baseURL, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rates: status %d", resp.StatusCode)
	}

	var payload models.ExchangeRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	if payload.Result != "success" {
		return nil, fmt.Errorf("rate API result %q", payload.Result)
	}

	return &models.RateSnapshot{
		Base:  payload.BaseCode,
		Rates: payload.Rates,
	}, nil
}

// ToUSD converts a display-currency amount to the stored integer USD price.
// The fraction is truncated, matching how submitted prices are normalized.
func ToUSD(amount float64, rate float64) int {
	if rate <= 0 {
		rate = 1
	}
	return int(amount / rate)
}

// DisplayPrice converts a stored USD price to the display currency, rounded
// to two decimals.
func DisplayPrice(priceUSD int, rate float64) float64 {
	if rate <= 0 {
		rate = 1
	}
	return math.Round(float64(priceUSD)*rate*100) / 100
}
