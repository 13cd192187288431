package elexon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const settlementStep = 30 * time.Minute

// Options parameterise the BMRS API client.
type Options struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	UserAgent      string
}

// Client fetches physical notification and bid/offer data from the BMRS API.
// A unit argument of "" means "all units".
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	london  *time.Location
}

// NewClient constructs a BMRS API client.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://data.elexon.co.uk/bmrs/api/v1"
	}

	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		return nil, fmt.Errorf("load settlement time zone: %w", err)
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "elexon_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		london:  london,
	}, nil
}

// FetchPhysical retrieves declared-schedule (PN) and deviation-instruction
// (BOALF) records for [start, end). Both datasets are reported per settlement
// period, so the window is walked in 30-minute steps; the period starting at
// end belongs to the next chunk. Segments straddling a period boundary appear
// once per period and are deduplicated downstream.
func (c *Client) FetchPhysical(ctx context.Context, unit string, start, end time.Time) ([]Record, error) {
	records := make([]Record, 0)

	for at := start; at.Before(end); at = at.Add(settlementStep) {
		date, period := c.settlementPeriod(at)
		query := url.Values{
			"dataset":          {"PN"},
			"settlementDate":   {date},
			"settlementPeriod": {strconv.Itoa(period)},
			"format":           {"json"},
		}
		if unit != "" {
			query.Set("bmUnit", unit)
		}

		batch, err := c.get(ctx, "/balancing/physical/all", query)
		if err != nil {
			return nil, fmt.Errorf("fetch PN %s sp %d: %w", date, period, err)
		}
		records = append(records, batch...)
	}

	for at := start; at.Before(end); at = at.Add(settlementStep) {
		// BOALF windows are widened by one settlement period each side so
		// instructions straddling the boundary are not missed.
		query := url.Values{
			"from":   {at.Add(-settlementStep).UTC().Format(timestampLayoutNoZone)},
			"to":     {at.Add(settlementStep).UTC().Format(timestampLayoutNoZone)},
			"format": {"json"},
		}
		if unit != "" {
			query.Set("bmUnit", unit)
		}

		batch, err := c.get(ctx, "/datasets/BOALF", query)
		if err != nil {
			return nil, fmt.Errorf("fetch BOALF at %s: %w", at.Format(time.RFC3339), err)
		}
		records = append(records, batch...)
	}

	return filterBefore(records, end, true), nil
}

// FetchPrices retrieves bid/offer price pairs (BOD) for [start, end).
func (c *Client) FetchPrices(ctx context.Context, unit string, start, end time.Time) ([]Record, error) {
	records := make([]Record, 0)

	for at := start; at.Before(end); at = at.Add(settlementStep) {
		stamp := at.UTC().Format(timestampLayoutNoZone)
		query := url.Values{
			"from":   {stamp},
			"to":     {stamp},
			"format": {"json"},
		}
		if unit != "" {
			query.Set("bmUnit", unit)
		}

		batch, err := c.get(ctx, "/datasets/BOD", query)
		if err != nil {
			return nil, fmt.Errorf("fetch BOD at %s: %w", at.Format(time.RFC3339), err)
		}
		records = append(records, batch...)
	}

	return filterBefore(records, end, false), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]Record, error) {
	if c.opts.APIKey != "" {
		query.Set("apiKey", c.opts.APIKey)
	}

	endpoint := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var envelope dataEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	records := make([]Record, 0, len(envelope.Data))
	for _, wire := range envelope.Data {
		rec, err := wire.toRecord()
		if err != nil {
			c.logger.Warn().Err(err).Str("dataset", wire.Dataset).Str("unit", wire.BMUnit).Msg("dropping malformed record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// settlementPeriod maps a UTC instant to its UK settlement date and 1-based
// 30-minute period number. Settlement periods are defined in local civil time,
// so DST days have 46 or 50 of them.
func (c *Client) settlementPeriod(at time.Time) (string, int) {
	local := at.In(c.london)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.london)
	period := int(local.Sub(midnight)/settlementStep) + 1
	return local.Format("2006-01-02"), period
}

func filterBefore(records []Record, end time.Time, inclusive bool) []Record {
	kept := records[:0]
	for _, rec := range records {
		if rec.TimeFrom.After(end) {
			continue
		}
		if !inclusive && rec.TimeFrom.Equal(end) {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("bmrs api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("bmrs api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("bmrs api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("bmrs api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("bmrs api error (%d)", status)
}
