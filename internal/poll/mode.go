package poll

import (
	"strings"
	"time"
)

// Mode is the market session reported by the quotes upstream.
type Mode string

const (
	Regular Mode = "REGULAR"
	Pre     Mode = "PRE"
	Post    Mode = "POST"
	Closed  Mode = "CLOSED"
	Unknown Mode = "UNKNOWN"
)

// ParseMode maps an upstream market state to a Mode. Yahoo's extended
// session states (PREPRE, POSTPOST) collapse into PRE and POST. The second
// return value is false for anything unrecognised.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REGULAR":
		return Regular, true
	case "PRE", "PREPRE":
		return Pre, true
	case "POST", "POSTPOST":
		return Post, true
	case "CLOSED":
		return Closed, true
	default:
		return Unknown, false
	}
}

// Intervals maps each mode to a polling period.
type Intervals struct {
	Regular time.Duration
	Pre     time.Duration
	Post    time.Duration
	Closed  time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		Regular: 5 * time.Minute,
		Pre:     15 * time.Minute,
		Post:    15 * time.Minute,
		Closed:  60 * time.Minute,
	}
}

// For returns the interval for m. Unknown uses the longest configured one.
func (iv Intervals) For(m Mode) time.Duration {
	switch m {
	case Regular:
		return iv.Regular
	case Pre:
		return iv.Pre
	case Post:
		return iv.Post
	case Closed:
		return iv.Closed
	default:
		return iv.longest()
	}
}

func (iv Intervals) longest() time.Duration {
	d := iv.Closed
	for _, v := range []time.Duration{iv.Regular, iv.Pre, iv.Post} {
		if v > d {
			d = v
		}
	}
	return d
}

// Valid reports whether every interval is positive.
func (iv Intervals) Valid() bool {
	return iv.Regular > 0 && iv.Pre > 0 && iv.Post > 0 && iv.Closed > 0
}
