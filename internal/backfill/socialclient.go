package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quantfeed/corpus-data/internal/credential"
	"github.com/quantfeed/corpus-data/internal/model"
)

// SocialPageClient is a PageClient over a public forum archive API. The
// archive is unauthenticated, so the credential argument is ignored and
// politeness comes from client-side pacing instead of quota rotation.
//
// A day is walked one community at a time. The cursor encodes the
// community index and the timestamp floor as "<index>:<after_unix>"; an
// empty cursor starts at the first community and the start of the day.
type SocialPageClient struct {
	baseURL     string
	source      string
	pageSize    int
	subreddits  []string
	userAgent   string
	minInterval time.Duration
	httpClient  *http.Client
	logger      *slog.Logger

	// Pacing state
	mu   sync.Mutex
	last time.Time
}

// SocialOption configures a SocialPageClient.
type SocialOption func(*SocialPageClient)

// WithSocialTimeout sets the HTTP client timeout.
func WithSocialTimeout(d time.Duration) SocialOption {
	return func(c *SocialPageClient) {
		c.httpClient.Timeout = d
	}
}

// WithSocialLogger sets the logger.
func WithSocialLogger(logger *slog.Logger) SocialOption {
	return func(c *SocialPageClient) {
		c.logger = logger
	}
}

// WithSocialHTTPClient sets a custom HTTP client.
func WithSocialHTTPClient(hc *http.Client) SocialOption {
	return func(c *SocialPageClient) {
		c.httpClient = hc
	}
}

// NewSocialPageClient creates a page client for the archive endpoint.
// targetRPS caps the request rate across all pages of a run.
func NewSocialPageClient(
	baseURL, source string,
	pageSize int,
	subreddits []string,
	userAgent string,
	targetRPS float64,
	opts ...SocialOption,
) *SocialPageClient {
	if targetRPS <= 0 {
		targetRPS = 1
	}
	c := &SocialPageClient{
		baseURL:     baseURL,
		source:      source,
		pageSize:    pageSize,
		subreddits:  subreddits,
		userAgent:   userAgent,
		minInterval: time.Duration(float64(time.Second) / targetRPS),
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

// socialPost is the archive's wire shape for one submission.
type socialPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
}

type socialResponse struct {
	Data []socialPost `json:"data"`
}

func (c *SocialPageClient) FetchPage(ctx context.Context, day, cursor string, cred credential.Credential) (Page, error) {
	dayStart, err := time.Parse(model.DayFormat, day)
	if err != nil {
		return Page{}, fmt.Errorf("parse day %q: %w", day, err)
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	idx, after, err := parseSocialCursor(cursor, dayStart.Unix())
	if err != nil {
		return Page{}, err
	}
	if idx >= len(c.subreddits) {
		return Page{}, nil
	}
	subreddit := c.subreddits[idx]

	if err := c.pace(ctx); err != nil {
		return Page{}, err
	}

	query := url.Values{}
	query.Set("subreddit", subreddit)
	query.Set("after", strconv.FormatInt(after, 10))
	query.Set("before", strconv.FormatInt(dayEnd.Unix(), 10))
	query.Set("limit", strconv.Itoa(c.pageSize))
	query.Set("sort", "asc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("read response: %w", err)
	}

	// The archive answers 400 when the window is past its data horizon;
	// treat it as the end of this community, not a failure.
	if resp.StatusCode == http.StatusBadRequest {
		c.logger.Debug("archive end of data",
			"subreddit", subreddit,
			"day", day,
			"after", after,
		)
		return Page{NextCursor: c.nextSubredditCursor(idx, dayStart.Unix())}, nil
	}
	if resp.StatusCode >= 400 {
		return Page{}, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	var sr socialResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return Page{}, fmt.Errorf("unmarshal page: %w", err)
	}

	receivedAt := time.Now().UTC()
	page := Page{}
	maxCreated := after
	for _, post := range sr.Data {
		created := int64(post.CreatedUTC)
		if created > maxCreated {
			maxCreated = created
		}

		selftext := post.Selftext
		if selftext == "[removed]" || selftext == "[deleted]" {
			selftext = ""
		}

		raw, _ := json.Marshal(post)
		page.Documents = append(page.Documents, model.RawDocument{
			NaturalID:   post.ID,
			PublishedAt: time.Unix(created, 0).UTC(),
			ReceivedAt:  receivedAt,
			Source:      c.source,
			Symbols:     topicSymbols(post.Title + " " + selftext),
			Headline:    post.Title,
			Summary:     selftext,
			URL:         "https://reddit.com" + post.Permalink,
			Raw:         raw,
		})
	}

	if len(sr.Data) < c.pageSize {
		page.NextCursor = c.nextSubredditCursor(idx, dayStart.Unix())
		return page, nil
	}

	// Full page: advance the floor to the newest post seen. The archive
	// filter is inclusive, so a batch of identical timestamps still has
	// to move forward.
	if maxCreated <= after {
		maxCreated = after + 1
	}
	page.NextCursor = fmt.Sprintf("%d:%d", idx, maxCreated)
	return page, nil
}

// nextSubredditCursor moves to the following community, or ends the day.
func (c *SocialPageClient) nextSubredditCursor(idx int, dayStartUnix int64) string {
	if idx+1 >= len(c.subreddits) {
		return ""
	}
	return fmt.Sprintf("%d:%d", idx+1, dayStartUnix)
}

// parseSocialCursor splits "<index>:<after_unix>". An empty cursor is
// the first community at the start of the day.
func parseSocialCursor(cursor string, dayStartUnix int64) (int, int64, error) {
	if cursor == "" {
		return 0, dayStartUnix, nil
	}

	idxPart, afterPart, ok := strings.Cut(cursor, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	idx, err := strconv.Atoi(idxPart)
	if err != nil || idx < 0 {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	after, err := strconv.ParseInt(afterPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	return idx, after, nil
}

// pace spaces requests to stay under the configured rate.
func (c *SocialPageClient) pace(ctx context.Context) error {
	c.mu.Lock()
	next := c.last.Add(c.minInterval)
	now := time.Now()
	if next.Before(now) {
		next = now
	}
	c.last = next
	c.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

var (
	spyPattern    = regexp.MustCompile(`\bspy\b`)
	vooPattern    = regexp.MustCompile(`\bvoo\b`)
	spxPattern    = regexp.MustCompile(`s\s*&\s*p\s*500|\bsp500\b|\bs and p 500\b`)
	marketPattern = regexp.MustCompile(`\bmarkets?\b`)
)

// spyFalsePositives are everyday phrases where "spy" is not the ticker.
var spyFalsePositives = []string{"spy camera", "i spy", "spy on", "spying"}

// marketFalsePositives are phrases where "market" is not market talk.
var marketFalsePositives = []string{"supermarket", "marketplace", "market share", "marketing"}

// topicSymbols tags a post with the index topics it mentions. Posts
// that mention none are kept but tagged off-topic so curation can
// filter them.
func topicSymbols(text string) []string {
	t := strings.ToLower(text)

	var symbols []string
	if spyPattern.MatchString(t) && !containsAny(t, spyFalsePositives) {
		symbols = append(symbols, "SPY")
	}
	if vooPattern.MatchString(t) {
		symbols = append(symbols, "VOO")
	}
	if spxPattern.MatchString(t) {
		symbols = append(symbols, "SPX")
	}
	if marketPattern.MatchString(t) && !containsAny(t, marketFalsePositives) {
		symbols = append(symbols, "MARKET")
	}

	if len(symbols) == 0 {
		return []string{"off-topic"}
	}
	return symbols
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
