package transcript

import (
	"context"
	"log/slog"
)

// Hints carries per-session preferences that filters may consult when
// deriving new results. The processor fills it from the session record.
type Hints struct {
	// TargetLanguage requests translation of final results into this
	// ISO 639-1 language. Empty disables translation.
	TargetLanguage string
}

// Filter derives a new Result from an input Result. Implementations must be
// safe for concurrent use and must not mutate the input; text rewrites go
// through [Result.WithText] so provenance is preserved.
type Filter interface {
	// Name identifies the filter in logs.
	Name() string

	// Apply returns the filtered result. On error the chain keeps the input
	// result and moves on, so a failing filter costs its own effect only.
	Apply(ctx context.Context, res Result, hints Hints) (Result, error)
}

// Chain applies an ordered sequence of filters to each result.
//
// The chain is fail-open: a filter error is logged at warn level and the
// result continues through the remaining stages unchanged. A broken
// translation backend must never hold an utterance back from the client.
type Chain struct {
	filters []Filter
}

// NewChain builds a chain over the given filters, applied in order. A nil or
// empty filter list yields a chain whose Apply returns its input.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Apply runs res through every filter in order and returns the final result.
func (c *Chain) Apply(ctx context.Context, res Result, hints Hints) Result {
	for _, f := range c.filters {
		out, err := f.Apply(ctx, res, hints)
		if err != nil {
			slog.Warn("transcript filter failed, keeping unfiltered result",
				"filter", f.Name(),
				"session", res.SessionID,
				"err", err)
			continue
		}
		res = out
	}
	return res
}

// Len returns the number of configured filters.
func (c *Chain) Len() int { return len(c.filters) }
