package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/briangreenhill/homeboard/yahoo"
)

// QuotesPoll returns a PollFunc that fetches the dashboard's /quotes
// endpoint, hands the decoded list to onQuotes and reports the market state
// of the first quote. Any non-2xx status is a failed poll.
func QuotesPoll(client *http.Client, url string, onQuotes func([]yahoo.Quote)) PollFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return "", fmt.Errorf("quotes status %d: %s", resp.StatusCode, string(b))
		}

		var quotes []yahoo.Quote
		if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
			return "", fmt.Errorf("decode quotes: %w", err)
		}
		if onQuotes != nil {
			onQuotes(quotes)
		}
		if len(quotes) == 0 {
			return "", nil
		}
		return quotes[0].MarketState, nil
	}
}
