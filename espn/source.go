package espn

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/briangreenhill/homeboard/sources"
)

// StandingsSuffix is appended to a sport tag to form its standings domain.
const StandingsSuffix = "-standings"

// ScoreboardSource serves the per-date scoreboard of one sport.
type ScoreboardSource struct {
	client *Client
	sport  string
}

// NewScoreboardSource creates a fetcher for sport's daily scoreboard.
func NewScoreboardSource(client *Client, sport string) *ScoreboardSource {
	return &ScoreboardSource{client: client, sport: sport}
}

// Domain returns the sport tag
func (s *ScoreboardSource) Domain() string { return s.sport }

// Fetch retrieves the scoreboard for dateKey.
func (s *ScoreboardSource) Fetch(ctx context.Context, dateKey string) (json.RawMessage, error) {
	payload, err := s.client.Scoreboard(ctx, s.sport, dateKey)
	if err != nil {
		return nil, upstreamErr(s.Domain(), err)
	}
	return payload, nil
}

// StandingsSource serves the current standings of one sport. The payload is
// not date-scoped, but it is cached per day like every other domain.
type StandingsSource struct {
	client *Client
	sport  string
}

// NewStandingsSource creates a fetcher for sport's standings.
func NewStandingsSource(client *Client, sport string) *StandingsSource {
	return &StandingsSource{client: client, sport: sport}
}

// Domain returns the sport tag plus StandingsSuffix
func (s *StandingsSource) Domain() string { return s.sport + StandingsSuffix }

// Fetch retrieves the standings; dateKey is ignored.
func (s *StandingsSource) Fetch(ctx context.Context, _ string) (json.RawMessage, error) {
	payload, err := s.client.Standings(ctx, s.sport)
	if err != nil {
		return nil, upstreamErr(s.Domain(), err)
	}
	return payload, nil
}

// Fetchers returns scoreboard and standings fetchers for every sport given.
// Unknown sports are skipped.
func Fetchers(client *Client, sports []string) []sources.Fetcher {
	var out []sources.Fetcher
	for _, sport := range sports {
		if _, ok := sportPaths[sport]; !ok {
			continue
		}
		out = append(out, NewScoreboardSource(client, sport), NewStandingsSource(client, sport))
	}
	return out
}

func upstreamErr(domain string, err error) error {
	ue := &sources.UpstreamError{Domain: domain, Err: err}
	var se *StatusError
	if errors.As(err, &se) {
		ue.StatusCode = se.StatusCode
	}
	return ue
}

var (
	_ sources.Fetcher = (*ScoreboardSource)(nil)
	_ sources.Fetcher = (*StandingsSource)(nil)
)
