// Package history fetches pages of past messages over HTTP.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

var ErrUnavailable = errors.New("history unavailable")

// TokenFetcher returns a bearer token for userID.
type TokenFetcher interface {
	Token(ctx context.Context, userID string) (string, error)
}

// Query selects one page: up to Limit messages older than Before, or the
// newest ones when Before is empty.
type Query struct {
	UserID         string
	ConversationID string
	Before         string
	Limit          int
}

// Page is the response body of the history endpoint, ordered oldest first.
type Page struct {
	Messages []protocol.WireMessage `json:"messages"`
}

type Option func(*Client)

func WithTokenSource(t TokenFetcher) Option {
	return func(c *Client) { c.tokens = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = logging.OrNop(l).Named("history") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMaxElapsed bounds the retry loop of a single fetch.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *Client) { c.maxElapsed = d }
}

type Client struct {
	base       string
	http       *http.Client
	tokens     TokenFetcher
	cb         *gobreaker.CircuitBreaker
	log        *zap.Logger
	maxElapsed time.Duration
}

// New builds a client for GET <base>/<conversation>/messages.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       base,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        zap.NewNop(),
		maxElapsed: 5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "history",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Info("circuit breaker state", zap.String("name", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

// Fetch returns one page. Server errors are retried with backoff; an open
// breaker fails fast with ErrUnavailable.
func (c *Client) Fetch(ctx context.Context, q Query) ([]protocol.WireMessage, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, fmt.Errorf("parse history url: %w", err)
	}
	u = u.JoinPath(q.ConversationID, "messages")
	v := u.Query()
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Before != "" {
		v.Set("before", q.Before)
	}
	u.RawQuery = v.Encode()

	token := ""
	if c.tokens != nil {
		if token, err = c.tokens.Token(ctx, q.UserID); err != nil {
			c.log.Warn("token fetch failed, requesting history without token", zap.Error(err))
			token = ""
		}
	}

	var page Page
	operation := func() error {
		res, err := c.cb.Execute(func() (interface{}, error) {
			return c.get(ctx, u.String(), token, q.UserID)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		if err != nil {
			return err
		}
		page = res.(Page)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return page.Messages, nil
}

type statusError struct {
	code int
}

func (e statusError) Error() string { return "history status " + strconv.Itoa(e.code) }

func (c *Client) get(ctx context.Context, target, token, userID string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, backoff.Permanent(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if userID != "" {
		q := req.URL.Query()
		q.Set("userId", userID)
		req.URL.RawQuery = q.Encode()
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Page{}, statusError{resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Page{}, backoff.Permanent(statusError{resp.StatusCode})
	}
	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, backoff.Permanent(fmt.Errorf("decode history page: %w", err))
	}
	return page, nil
}
