package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jjenkins/trialwatch/internal/metrics"
	"github.com/jjenkins/trialwatch/internal/model"
)

const (
	DefaultBaseURL  = "https://clinicaltrials.gov/api/v2"
	DefaultPageSize = 100
	MaxPageSize     = 1000

	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 2 * time.Second
	defaultUserAgent      = "trialwatch/1.0"
)

// RawStudy is one study document exactly as the registry returned it
type RawStudy = map[string]any

// ClientConfig configures the registry client. Zero values take defaults.
type ClientConfig struct {
	BaseURL        string
	Timeout        time.Duration // per request
	MaxRetries     int           // attempts per page, 1 disables retrying
	InitialBackoff time.Duration
	UserAgent      string
}

// CTGovClient fetches studies from the ClinicalTrials.gov v2 API
type CTGovClient struct {
	client         *http.Client
	baseURL        string
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	userAgent      string
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// NewCTGovClient creates a new registry client
func NewCTGovClient(cfg ClientConfig, logger *zap.Logger, m *metrics.Metrics) *CTGovClient {
	c := &CTGovClient{
		client:         &http.Client{},
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		userAgent:      cfg.UserAgent,
		logger:         logger,
		metrics:        m,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = defaultInitialBackoff
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop()
	}
	return c
}

// studiesResponse represents the API response for /studies
type studiesResponse struct {
	Studies       *[]RawStudy `json:"studies"`
	NextPageToken string      `json:"nextPageToken"`
}

// FetchStudies retrieves every study matching q, following continuation
// tokens until the registry reports no further page. Documents are returned
// in page order. Any failure discards everything fetched so far.
func (c *CTGovClient) FetchStudies(ctx context.Context, q model.Query, pageSize int) ([]RawStudy, error) {
	if strings.TrimSpace(q.Condition) == "" {
		return nil, ErrEmptyQuery
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidPageSize, pageSize, MaxPageSize)
	}

	start := time.Now()
	var studies []RawStudy
	usedTokens := make(map[string]struct{})
	token := ""

	for page := 1; ; page++ {
		pageURL, err := c.buildPageURL(q, pageSize, token)
		if err != nil {
			return nil, c.fail(&FetchFailure{Kind: FailureNetwork, Page: page, Err: err})
		}

		resp, err := c.fetchPage(ctx, pageURL, page)
		if err != nil {
			return nil, c.fail(err)
		}
		c.metrics.IncrementPagesFetched()

		studies = append(studies, *resp.Studies...)
		c.logger.Debug("fetched registry page",
			zap.String("query", q.String()),
			zap.Int("page", page),
			zap.Int("studies", len(*resp.Studies)),
			zap.Bool("more", resp.NextPageToken != ""))

		if resp.NextPageToken == "" {
			break
		}
		if _, seen := usedTokens[resp.NextPageToken]; seen {
			return nil, c.fail(&FetchFailure{
				Kind: FailureMalformedResponse,
				Page: page,
				Err:  fmt.Errorf("continuation token %q repeated", resp.NextPageToken),
			})
		}
		usedTokens[resp.NextPageToken] = struct{}{}
		token = resp.NextPageToken
	}

	c.metrics.ObserveFetchDuration(time.Since(start))
	return studies, nil
}

func (c *CTGovClient) fail(err error) error {
	if kind, ok := KindOf(err); ok {
		c.metrics.IncrementFetchFailures(string(kind))
	}
	return err
}

func (c *CTGovClient) buildPageURL(q model.Query, pageSize int, token string) (string, error) {
	parsed, err := url.Parse(c.baseURL + "/studies")
	if err != nil {
		return "", fmt.Errorf("invalid registry url %s: %w", c.baseURL, err)
	}

	query := parsed.Query()
	query.Set("format", "json")
	query.Set("query.cond", strings.TrimSpace(q.Condition))
	if term := strings.TrimSpace(q.Term); term != "" {
		query.Set("query.term", term)
	}
	query.Set("pageSize", strconv.Itoa(pageSize))
	if token != "" {
		query.Set("pageToken", token)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// fetchPage performs a page request with exponential backoff retry
func (c *CTGovClient) fetchPage(ctx context.Context, pageURL string, page int) (*studiesResponse, error) {
	var lastErr *FetchFailure
	backoff := c.initialBackoff

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, classifyTransport(ctx.Err(), page)
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		resp, failure := c.doPage(ctx, pageURL, page)
		if failure == nil {
			return resp, nil
		}
		lastErr = failure

		if !failure.retryable() {
			return nil, failure
		}
		c.logger.Warn("registry request failed",
			zap.Int("page", page),
			zap.Int("attempt", attempt+1),
			zap.String("kind", string(failure.Kind)),
			zap.Error(failure.Err))
	}

	return nil, lastErr
}

func (c *CTGovClient) doPage(ctx context.Context, pageURL string, page int) (*studiesResponse, *FetchFailure) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchFailure{Kind: FailureNetwork, Page: page, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err, page)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchFailure{
			Kind:       FailureRemoteRejected,
			Page:       page,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("registry returned %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err, page)
	}

	var out studiesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &FetchFailure{Kind: FailureMalformedResponse, Page: page, Err: fmt.Errorf("failed to parse studies response: %w", err)}
	}
	if out.Studies == nil {
		return nil, &FetchFailure{Kind: FailureMalformedResponse, Page: page, Err: errors.New("response has no studies list")}
	}

	return &out, nil
}

// classifyTransport maps a transport-level error to a failure kind
func classifyTransport(err error, page int) *FetchFailure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchFailure{Kind: FailureTimeout, Page: page, Err: err}
	}
	return &FetchFailure{Kind: FailureNetwork, Page: page, Err: err}
}
