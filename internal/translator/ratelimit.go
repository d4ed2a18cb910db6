package translator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/epubtran/internal/glossary"
)

// RateLimited spaces out requests to the wrapped provider.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited limits p to requestsPerMinute calls of Translate and
// ExtractTerminology combined. A non-positive limit returns p unchanged.
func NewRateLimited(p Provider, requestsPerMinute int) Provider {
	if requestsPerMinute <= 0 {
		return p
	}
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

func (r *RateLimited) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.Translate(ctx, req)
}

func (r *RateLimited) ExtractTerminology(ctx context.Context, req TerminologyRequest) ([]glossary.Entry, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.ExtractTerminology(ctx, req)
}

// wait blocks for the next request slot. Wait fails early when the slot lies
// past the context deadline; that is reported as the deadline itself so the
// caller sees a timeout rather than a refused request.
func (r *RateLimited) wait(ctx context.Context) error {
	err := r.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return permanent(r.Name(), fmt.Errorf("waiting for rate limit: %w", ctxErr))
	}
	return permanent(r.Name(), fmt.Errorf("waiting for rate limit: %w (%v)", context.DeadlineExceeded, err))
}

// IsAvailable forwards to the wrapped provider when it supports the check.
func (r *RateLimited) IsAvailable(ctx context.Context) error {
	if c, ok := r.Provider.(Checker); ok {
		return c.IsAvailable(ctx)
	}
	return nil
}
