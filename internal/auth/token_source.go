package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrEmptyToken = errors.New("token endpoint returned no token")

// TokenSource fetches short-lived socket tokens from the token endpoint.
type TokenSource struct {
	URL        string
	HTTP       *http.Client
	MaxElapsed time.Duration
}

func NewTokenSource(endpoint string) *TokenSource {
	return &TokenSource{
		URL:        endpoint,
		HTTP:       &http.Client{Timeout: 5 * time.Second},
		MaxElapsed: 3 * time.Second,
	}
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Token performs GET <URL>?userId=<userID> and returns the "token" field.
// 5xx responses and network errors are retried with exponential backoff until
// MaxElapsed; 4xx responses fail immediately.
func (ts *TokenSource) Token(ctx context.Context, userID string) (string, error) {
	u, err := url.Parse(ts.URL)
	if err != nil {
		return "", fmt.Errorf("parse token url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	var token string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := ts.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("token endpoint status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("token endpoint status %d", resp.StatusCode))
		}
		var body tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(fmt.Errorf("decode token response: %w", err))
		}
		if body.Token == "" {
			return backoff.Permanent(ErrEmptyToken)
		}
		token = body.Token
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = ts.MaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return token, nil
}
