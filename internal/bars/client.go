package bars

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/quantfeed/corpus-data/internal/backfill"
	"github.com/quantfeed/corpus-data/internal/credential"
	"github.com/quantfeed/corpus-data/internal/model"
)

// BarClient fetches the daily bar for one symbol.
type BarClient interface {
	FetchDaily(ctx context.Context, symbol, day string, cred credential.Credential) (model.PriceBar, error)
}

// HTTPBarClient is the production BarClient over the provider's bars
// endpoint.
type HTTPBarClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// BarClientOption configures an HTTPBarClient.
type BarClientOption func(*HTTPBarClient)

// NewHTTPBarClient creates a bar client for the given endpoint.
func NewHTTPBarClient(baseURL string, opts ...BarClientOption) *HTTPBarClient {
	c := &HTTPBarClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) BarClientOption {
	return func(c *HTTPBarClient) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BarClientOption {
	return func(c *HTTPBarClient) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) BarClientOption {
	return func(c *HTTPBarClient) {
		c.httpClient = hc
	}
}

// barsResponse is the provider's wire shape for daily bars.
type barsResponse struct {
	Bars map[string][]struct {
		Timestamp string  `json:"t"`
		Open      float64 `json:"o"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Close     float64 `json:"c"`
		Volume    int64   `json:"v"`
	} `json:"bars"`
}

func (c *HTTPBarClient) FetchDaily(ctx context.Context, symbol, day string, cred credential.Credential) (model.PriceBar, error) {
	start, err := time.Parse(model.DayFormat, day)
	if err != nil {
		return model.PriceBar{}, fmt.Errorf("parse day %q: %w", day, err)
	}
	end := start.AddDate(0, 0, 1)

	query := url.Values{}
	query.Set("symbols", symbol)
	query.Set("timeframe", "1Day")
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return model.PriceBar{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cred.Key != "" {
		req.Header.Set("APCA-API-KEY-ID", cred.Key)
		req.Header.Set("APCA-API-SECRET-KEY", cred.Secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.PriceBar{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.PriceBar{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return model.PriceBar{}, &backfill.APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	var br barsResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return model.PriceBar{}, fmt.Errorf("unmarshal bars: %w", err)
	}

	series := br.Bars[symbol]
	if len(series) == 0 {
		return model.PriceBar{}, fmt.Errorf("no bar for %s on %s", symbol, day)
	}

	// The provider returns at most one 1Day bar per session; keep the
	// last entry if it ever returns more.
	b := series[len(series)-1]
	return model.PriceBar{
		Day:    day,
		Symbol: symbol,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}, nil
}
