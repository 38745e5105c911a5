// Package api is the REST client for the paginated history and notification
// list endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/logging"
	"github.com/soyeahso/minichat/internal/version"
)

// ErrAIChatHistory is returned when history is requested for the assistant
// conversation, which has no server history.
var ErrAIChatHistory = errors.New("api: assistant conversation has no history")

const (
	DefaultHistoryLimit      = 20
	DefaultNotificationLimit = 50
	defaultTimeout           = 30 * time.Second
	defaultRetryMax          = 3
	maxErrorBody             = 512
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("api: unexpected status %d: %s", e.Code, e.Body)
}

// Config controls the client.
type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HistoryPage is one page of older messages.
type HistoryPage struct {
	Messages   []domain.Message `json:"messages" validate:"dive"`
	NextCursor string           `json:"nextCursor,omitempty"`
	HasMore    bool             `json:"hasMore"`
}

// Client calls the REST endpoints with retries on transient failures.
type Client struct {
	baseURL  string
	token    string
	http     *retryablehttp.Client
	validate *validator.Validate
	log      *logging.Logger
}

// New creates a client for the given base URL.
func New(cfg Config, log *logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = defaultRetryMax
	}

	l := log.Sub("api")
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.Logger = leveledLogger{log: l}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		token:    cfg.Token,
		http:     rc,
		validate: validator.New(),
		log:      l,
	}
}

// History fetches one page of messages older than cursor. An empty cursor
// fetches the newest page.
func (c *Client) History(ctx context.Context, convID, cursor string, limit int) (*HistoryPage, error) {
	if convID == domain.AIChatID {
		return nil, ErrAIChatHistory
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/conversations/" + url.PathEscape(convID) + "/messages"

	var page HistoryPage
	if err := c.get(ctx, path, q, &page); err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", convID, err)
	}
	for i := range page.Messages {
		m := &page.Messages[i]
		if m.ConversationID == "" {
			m.ConversationID = convID
		}
		if m.Type == "" {
			m.Type = domain.MessageTypeText
		}
	}
	if err := c.validate.Struct(page); err != nil {
		return nil, fmt.Errorf("fetching history for %s: invalid response: %w", convID, err)
	}

	c.log.Debug().
		Str("conversationId", convID).
		Int("messages", len(page.Messages)).
		Bool("hasMore", page.HasMore).
		Msg("history page fetched")
	return &page, nil
}

// Notifications fetches the notification list.
func (c *Client) Notifications(ctx context.Context, limit int) (*domain.NotificationList, error) {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var list domain.NotificationList
	if err := c.get(ctx, "/notifications", q, &list); err != nil {
		return nil, fmt.Errorf("fetching notifications: %w", err)
	}
	if err := c.validate.Struct(list); err != nil {
		return nil, fmt.Errorf("fetching notifications: invalid response: %w", err)
	}
	return &list, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
