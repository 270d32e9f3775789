package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fuel-price-alerts/internal/resilience"
	"fuel-price-alerts/internal/version"
)

const sitesPricesPath = "/Price/GetSitesPrices"

// FeedOptions parameterise the regional pricing feed.
type FeedOptions struct {
	BaseURL         string
	SubscriberToken string
	CountryID       int
	GeoRegionLevel  int
	GeoRegionID     int
	Timeout         time.Duration
	UserAgent       string
	Policy          resilience.Policy
}

// Feed reads site prices from the fuel pricing information API. Each call returns every
// grade for the region; FetchSamples filters to the requested grade.
type Feed struct {
	opts     FeedOptions
	logger   zerolog.Logger
	client   *resilience.Client
	endpoint string
}

// NewFeed constructs a feed fetcher.
func NewFeed(opts FeedOptions, logger zerolog.Logger, clientOpts ...resilience.Option) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://fppdirectapi-prod.safuelpricinginformation.com.au"
	}

	query := url.Values{}
	query.Set("countryId", strconv.Itoa(opts.CountryID))
	query.Set("geoRegionLevel", strconv.Itoa(opts.GeoRegionLevel))
	query.Set("geoRegionId", strconv.Itoa(opts.GeoRegionID))

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = version.UserAgent()
	}

	log := logger.With().Str("component", "feed_fetcher").Logger()
	clientOpts = append([]resilience.Option{resilience.WithUserAgent(ua)}, clientOpts...)
	return &Feed{
		opts:     opts,
		logger:   log,
		client:   resilience.New("pricing-feed", &http.Client{Timeout: timeout}, opts.Policy, log, clientOpts...),
		endpoint: baseURL + sitesPricesPath + "?" + query.Encode(),
	}
}

// Endpoint identifies the snapshot this feed serves; used as a cache key.
func (f *Feed) Endpoint() string { return f.endpoint }

// FetchSamples returns the prices of every site selling fuelID.
func (f *Feed) FetchSamples(ctx context.Context, fuelID int) ([]float64, error) {
	sites, err := f.FetchSites(ctx)
	if err != nil {
		return nil, err
	}
	return filterGrade(sites, fuelID), nil
}

// FetchSites downloads the full regional snapshot.
func (f *Feed) FetchSites(ctx context.Context) ([]SitePrice, error) {
	if f.opts.SubscriberToken == "" {
		return nil, &FetchError{Err: errors.New("subscriber token not configured")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req.Header.Set("Authorization", "FPDAPI SubscriberToken="+f.opts.SubscriberToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Status: resp.StatusCode, Body: string(payload)}
	}

	var decoded sitesPricesResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Err: err}
	}

	f.logger.Debug().Int("sites", len(decoded.SitePrices)).Msg("feed snapshot downloaded")
	return decoded.SitePrices, nil
}

type sitesPricesResponse struct {
	SitePrices []SitePrice `json:"SitePrices"`
}

var _ SampleFetcher = (*Feed)(nil)
