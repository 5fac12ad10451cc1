package httputil

import (
	"net/http"
	"time"
)

type Clients struct {
	Rates *http.Client // exchange rate API
}

func NewClients() *Clients {
	return &Clients{
		Rates: &http.Client{Timeout: 15 * time.Second},
	}
}
