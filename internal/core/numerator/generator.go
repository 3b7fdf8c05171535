package numerator

import (
	"context"
	"time"
)

// Generator issues sequential numbers. Implementations participate in the
// caller's transaction when one is present in ctx.
type Generator interface {
	// Next returns the next formatted number of the series in period.
	Next(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)
}
