package models

// ExchangeRateResponse is the payload of GET /v6/latest/{base}.
type ExchangeRateResponse struct {
	Result   string             `json:"result"`
	BaseCode string             `json:"base_code"`
	Rates    map[string]float64 `json:"rates"`
}

// RateSnapshot is an in-memory exchange-rate table relative to a base
// currency. It lives only for the session, never persisted.
type RateSnapshot struct {
	Base  string
	Rates map[string]float64
}

// Rate returns the multiplier for a currency code, defaulting to 1 for the
// base currency or an unknown code.
func (s *RateSnapshot) Rate(code string) float64 {
	if s == nil || code == s.Base {
		return 1
	}
	if r, ok := s.Rates[code]; ok && r > 0 {
		return r
	}
	return 1
}
