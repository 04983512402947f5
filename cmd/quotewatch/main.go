// Command quotewatch polls the dashboard's /quotes endpoint at a cadence that
// follows the market session and logs every update.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/homeboard/internal/app"
	"github.com/briangreenhill/homeboard/internal/config"
	"github.com/briangreenhill/homeboard/internal/poll"
	"github.com/briangreenhill/homeboard/yahoo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	logger := app.NewLogger(cfg, os.Stdout, "quotewatch")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url := strings.TrimRight(cfg.Poll.APIURL, "/") + "/quotes"
	pollFn := poll.QuotesPoll(&http.Client{Timeout: cfg.Poll.Timeout}, url, func(qs []yahoo.Quote) {
		for _, q := range qs {
			logger.Info().
				Str("symbol", q.Symbol).
				Float64("price", q.Price).
				Float64("change_pct", q.ChangePercent).
				Str("market", q.MarketState).
				Msg("quote")
		}
	})

	c := poll.NewController(pollFn,
		poll.WithIntervals(cfg.Poll.Intervals()),
		poll.WithTimeout(cfg.Poll.Timeout),
		poll.WithLogger(logger),
		poll.OnChange(func(from, to poll.Mode) {
			logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("switching poll cadence")
		}),
	)

	logger.Info().Str("url", url).Msg("watching quotes")
	if err := c.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start poll controller")
	}

	<-ctx.Done()
	c.Stop()
}
