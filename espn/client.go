// Package espn fetches scoreboards and standings from ESPN's public site API.
package espn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

const DefaultBaseURL = "https://site.api.espn.com"

// Sport paths under /sports/ on the ESPN API.
var sportPaths = map[string]string{
	"nhl": "hockey/nhl",
	"nba": "basketball/nba",
	"nfl": "football/nfl",
	"mlb": "baseball/mlb",
}

// Sports returns the supported sport tags.
func Sports() []string {
	return []string{"mlb", "nba", "nfl", "nhl"}
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("espn: %s: %s", http.StatusText(e.StatusCode), e.Body)
}

type Client struct {
	http    *http.Client
	baseURL *url.URL
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil && raw != "" {
			c.baseURL = u
		}
	}
}
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

func New(opts ...Option) *Client {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: u,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) newReq(ctx context.Context, p string, q map[string]string) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	qq := u.Query()
	for k, v := range q {
		qq.Set(k, v)
	}
	u.RawQuery = qq.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// getRaw performs one GET and returns the body verbatim.
func (c *Client) getRaw(ctx context.Context, p string, q map[string]string) (json.RawMessage, error) {
	req, err := c.newReq(ctx, p, q)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 256 {
			body = body[:256]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("GET %s: response is not valid JSON", p)
	}
	return json.RawMessage(body), nil
}

// Scoreboard returns the raw scoreboard for a sport on a YYYY-MM-DD date.
func (c *Client) Scoreboard(ctx context.Context, sport, date string) (json.RawMessage, error) {
	sp, ok := sportPaths[sport]
	if !ok {
		return nil, fmt.Errorf("unsupported sport %q", sport)
	}
	q := map[string]string{}
	if date != "" {
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", date, err)
		}
		q["dates"] = d.Format("20060102")
	}
	return c.getRaw(ctx, "/apis/site/v2/sports/"+sp+"/scoreboard", q)
}

// Standings returns the raw current standings for a sport.
func (c *Client) Standings(ctx context.Context, sport string) (json.RawMessage, error) {
	sp, ok := sportPaths[sport]
	if !ok {
		return nil, fmt.Errorf("unsupported sport %q", sport)
	}
	return c.getRaw(ctx, "/apis/v2/sports/"+sp+"/standings", nil)
}
