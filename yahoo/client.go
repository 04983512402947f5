// Package yahoo is a small client for the Yahoo Finance quote endpoint.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/briangreenhill/homeboard/sources"
)

const (
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	// Domain is the tag used for quote fetch errors and logs.
	Domain = "quotes"
)

// Quote is one row of the dashboard ticker.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	PreviousClose float64 `json:"previousClose"`
	MarketState   string  `json:"marketState"`
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []rawQuote `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

type rawQuote struct {
	Symbol                     string  `json:"symbol"`
	ShortName                  string  `json:"shortName"`
	LongName                   string  `json:"longName"`
	RegularMarketPrice         float64 `json:"regularMarketPrice"`
	RegularMarketChange        float64 `json:"regularMarketChange"`
	RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
	RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
	MarketState                string  `json:"marketState"`
}

func (r rawQuote) toQuote() Quote {
	name := r.ShortName
	if name == "" {
		name = r.LongName
	}
	if name == "" {
		name = r.Symbol
	}
	return Quote{
		Symbol:        r.Symbol,
		Name:          name,
		Price:         r.RegularMarketPrice,
		Change:        r.RegularMarketChange,
		ChangePercent: r.RegularMarketChangePercent,
		PreviousClose: r.RegularMarketPreviousClose,
		MarketState:   r.MarketState,
	}
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

func New(opts ...Option) *Client {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: u,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Quotes fetches the current quotes for symbols in one request. Failures are
// returned as *sources.UpstreamError.
func (c *Client) Quotes(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return []Quote{}, nil
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/v7/finance/quote"
	u.RawQuery = url.Values{"symbols": {strings.Join(symbols, ",")}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &sources.UpstreamError{Domain: Domain, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	// Yahoo rejects requests without a browser-ish agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (homeboard)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &sources.UpstreamError{Domain: Domain, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &sources.UpstreamError{
			Domain:     Domain,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("quote status %d: %s", resp.StatusCode, string(b)),
		}
	}

	var out quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &sources.UpstreamError{Domain: Domain, Err: fmt.Errorf("decode quotes: %w", err)}
	}
	if e := out.QuoteResponse.Error; e != nil {
		return nil, &sources.UpstreamError{Domain: Domain, Err: fmt.Errorf("%s: %s", e.Code, e.Description)}
	}

	quotes := make([]Quote, 0, len(out.QuoteResponse.Result))
	for _, r := range out.QuoteResponse.Result {
		quotes = append(quotes, r.toQuote())
	}
	return quotes, nil
}
