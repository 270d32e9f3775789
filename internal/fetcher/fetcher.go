package fetcher

import (
	"context"
	"fmt"
	"strings"
)

// SitePrice is one site's advertised price for one grade, in minor units.
type SitePrice struct {
	SiteID int     `json:"SiteId"`
	FuelID int     `json:"FuelId"`
	Price  float64 `json:"Price"`
}

// SampleFetcher retrieves the raw per-site samples for a fuel grade.
type SampleFetcher interface {
	FetchSamples(ctx context.Context, fuelID int) ([]float64, error)
}

// FetchError reports an unreachable feed or a non-success response.
type FetchError struct {
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pricing feed: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("pricing feed status %d: %s", e.Status, strings.TrimSpace(e.Body))
	}
	return fmt.Sprintf("pricing feed status %d", e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

func filterGrade(sites []SitePrice, fuelID int) []float64 {
	prices := make([]float64, 0)
	for _, s := range sites {
		if s.FuelID == fuelID {
			prices = append(prices, s.Price)
		}
	}
	return prices
}
