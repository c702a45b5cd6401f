package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quantfeed/corpus-data/internal/credential"
	"github.com/quantfeed/corpus-data/internal/model"
)

// Page is one page of historical documents.
type Page struct {
	Documents  []model.RawDocument
	NextCursor string // Empty when this is the last page of the day
}

// PageClient fetches one page of documents for a calendar day.
type PageClient interface {
	FetchPage(ctx context.Context, day, cursor string, cred credential.Credential) (Page, error)
}

// APIError represents an error response from the provider API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error %d: %s", e.StatusCode, e.Message)
}

// IsQuotaExhausted reports whether the error is a rate/quota limit.
func (e *APIError) IsQuotaExhausted() bool {
	return e.StatusCode == 429
}

// IsAuthFailure reports whether the credential was rejected.
func (e *APIError) IsAuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// HTTPPageClient is the production PageClient over the provider's
// paginated REST endpoint.
type HTTPPageClient struct {
	baseURL    string
	source     string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger
}

// PageClientOption configures an HTTPPageClient.
type PageClientOption func(*HTTPPageClient)

// NewHTTPPageClient creates a page client for the given endpoint.
func NewHTTPPageClient(baseURL, source string, pageSize int, opts ...PageClientOption) *HTTPPageClient {
	c := &HTTPPageClient{
		baseURL:  baseURL,
		source:   source,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) PageClientOption {
	return func(c *HTTPPageClient) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PageClientOption {
	return func(c *HTTPPageClient) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) PageClientOption {
	return func(c *HTTPPageClient) {
		c.httpClient = hc
	}
}

// pageResponse is the provider's wire shape for a page.
type pageResponse struct {
	News []struct {
		ID        int64    `json:"id"`
		Headline  string   `json:"headline"`
		Summary   string   `json:"summary"`
		URL       string   `json:"url"`
		Symbols   []string `json:"symbols"`
		CreatedAt string   `json:"created_at"`
	} `json:"news"`
	NextPageToken string `json:"next_page_token"`
}

func (c *HTTPPageClient) FetchPage(ctx context.Context, day, cursor string, cred credential.Credential) (Page, error) {
	start, err := time.Parse(model.DayFormat, day)
	if err != nil {
		return Page{}, fmt.Errorf("parse day %q: %w", day, err)
	}
	end := start.AddDate(0, 0, 1)

	query := url.Values{}
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(c.pageSize))
	query.Set("sort", "asc")
	if cursor != "" {
		query.Set("page_token", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cred.Key != "" {
		req.Header.Set("APCA-API-KEY-ID", cred.Key)
		req.Header.Set("APCA-API-SECRET-KEY", cred.Secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return Page{}, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	var pr pageResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return Page{}, fmt.Errorf("unmarshal page: %w", err)
	}

	receivedAt := time.Now().UTC()
	page := Page{NextCursor: pr.NextPageToken}
	for _, item := range pr.News {
		publishedAt, err := time.Parse(time.RFC3339, item.CreatedAt)
		if err != nil {
			c.logger.Warn("skipping document with unparseable timestamp",
				"id", item.ID,
				"created_at", item.CreatedAt,
			)
			continue
		}

		naturalID := strconv.FormatInt(item.ID, 10)
		if item.ID == 0 {
			naturalID = model.FallbackNaturalID(item.Headline, c.source, publishedAt)
		}

		raw, _ := json.Marshal(item)
		page.Documents = append(page.Documents, model.RawDocument{
			NaturalID:   naturalID,
			PublishedAt: publishedAt.UTC(),
			ReceivedAt:  receivedAt,
			Source:      c.source,
			Symbols:     item.Symbols,
			Headline:    item.Headline,
			Summary:     item.Summary,
			URL:         item.URL,
			Raw:         raw,
		})
	}

	return page, nil
}
