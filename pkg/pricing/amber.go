// Package pricing fetches spot electricity prices from the Amber
// Electric API: the current interval plus a bounded forecast horizon.
// The client is stateless; callers decide how long a forecast stays
// fresh.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultBaseURL = "https://api.amber.com.au/v1"

// ErrUnavailable covers network failures, malformed payloads, and empty
// results. A forecast is parsed all-or-nothing; a partially usable
// payload is still ErrUnavailable.
var ErrUnavailable = errors.New("price service unavailable")

// Quote is one price observation, either the current interval or a
// forecast interval.
type Quote struct {
	// Timestamp is the instant the quote applies to (interval start).
	Timestamp time.Time `json:"timestamp"`

	// CentsPerKWh can go negative during oversupply.
	CentsPerKWh float64 `json:"centsPerKwh"`

	// Forecast is false only for the current interval.
	Forecast bool `json:"forecast"`

	// RenewablesPercent is 0-100, or -1 when the API omitted it.
	RenewablesPercent float64 `json:"renewablesPercent"`
}

// Forecast is an immutable snapshot of the current price and the
// quotes covering the near future, ascending by timestamp. It is
// replaced wholesale on every refresh, never patched.
type Forecast struct {
	Quotes []Quote `json:"quotes"`

	// FeedInCentsPerKWh is the current solar export price, or nil when
	// the site has no feed-in channel.
	FeedInCentsPerKWh *float64 `json:"feedInCentsPerKwh,omitempty"`

	FetchedAt time.Time `json:"fetchedAt"`
}

// Current returns the quote for "now": the first element of the
// forecast. ok is false for an empty forecast.
func (f Forecast) Current() (Quote, bool) {
	if len(f.Quotes) == 0 {
		return Quote{}, false
	}
	return f.Quotes[0], true
}

// Client fetches prices for one Amber site. The site ID is discovered
// lazily from the account's site list on first use (the first site
// wins, matching how single-site accounts behave).
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	// HorizonHours bounds the forecast request. Defaults to 12.
	horizonHours int

	mu     sync.Mutex
	siteID string
}

// NewClient creates a client authenticated with the given API key.
// baseURL may be empty to use the production Amber endpoint.
func NewClient(apiKey, baseURL string, horizonHours int, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("amber API key required")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if horizonHours <= 0 {
		horizonHours = 12
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		horizonHours: horizonHours,
	}, nil
}

// amberInterval mirrors the wire format of one pricing interval.
// Renewables is a pointer so an absent field is distinguishable from a
// genuine 0% reading.
type amberInterval struct {
	Type        string   `json:"type"`
	NemTime     string   `json:"nemTime"`
	PerKwh      float64  `json:"perKwh"`
	ChannelType string   `json:"channelType"`
	Renewables  *float64 `json:"renewables"`
}

type amberSite struct {
	ID string `json:"id"`
}

// CurrentAndForecast fetches the current interval and the forecast
// horizon in one call. The returned forecast always has the current
// interval first.
func (c *Client) CurrentAndForecast(ctx context.Context) (Forecast, error) {
	siteID, err := c.siteIDLocked(ctx)
	if err != nil {
		return Forecast{}, err
	}

	// 30-minute resolution intervals covering the horizon.
	periods := c.horizonHours * 2
	url := fmt.Sprintf("%s/sites/%s/prices/current?next=%d&resolution=30", c.baseURL, siteID, periods)

	body, err := c.get(ctx, url)
	if err != nil {
		return Forecast{}, err
	}

	var intervals []amberInterval
	if err := json.Unmarshal(body, &intervals); err != nil {
		return Forecast{}, fmt.Errorf("%w: decode prices: %v", ErrUnavailable, err)
	}

	return buildForecast(intervals, time.Now())
}

// buildForecast filters the general channel into quotes and lifts the
// current feed-in price if present. Any unparseable timestamp fails the
// whole forecast.
func buildForecast(intervals []amberInterval, now time.Time) (Forecast, error) {
	f := Forecast{FetchedAt: now}

	for _, iv := range intervals {
		isCurrent := iv.Type == "CurrentInterval"
		if !isCurrent && iv.Type != "ForecastInterval" {
			continue
		}

		if iv.ChannelType == "feedIn" {
			if isCurrent && f.FeedInCentsPerKWh == nil {
				v := iv.PerKwh
				f.FeedInCentsPerKWh = &v
			}
			continue
		}
		if iv.ChannelType != "general" {
			continue
		}

		ts, err := time.Parse(time.RFC3339, iv.NemTime)
		if err != nil {
			return Forecast{}, fmt.Errorf("%w: bad interval time %q: %v", ErrUnavailable, iv.NemTime, err)
		}

		renewables := -1.0
		if iv.Renewables != nil {
			renewables = *iv.Renewables
		}

		f.Quotes = append(f.Quotes, Quote{
			Timestamp:         ts,
			CentsPerKWh:       iv.PerKwh,
			Forecast:          !isCurrent,
			RenewablesPercent: renewables,
		})
	}

	if len(f.Quotes) == 0 {
		return Forecast{}, fmt.Errorf("%w: no general-channel prices in response", ErrUnavailable)
	}

	sort.Slice(f.Quotes, func(i, j int) bool {
		return f.Quotes[i].Timestamp.Before(f.Quotes[j].Timestamp)
	})

	return f, nil
}

// siteIDLocked returns the cached site ID, discovering it on first use.
func (c *Client) siteIDLocked(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.siteID != "" {
		return c.siteID, nil
	}

	body, err := c.get(ctx, c.baseURL+"/sites")
	if err != nil {
		return "", err
	}

	var sites []amberSite
	if err := json.Unmarshal(body, &sites); err != nil {
		return "", fmt.Errorf("%w: decode sites: %v", ErrUnavailable, err)
	}
	if len(sites) == 0 || sites[0].ID == "" {
		return "", fmt.Errorf("%w: account has no sites", ErrUnavailable)
	}

	c.siteID = sites[0].ID
	return c.siteID, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(b))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return body, nil
}
