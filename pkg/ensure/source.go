package ensure

import (
	"context"
	"time"
)

// Request describes one fetch of the claim set.
type Request struct {
	// Product restricts the fetch to a single product when non-nil.
	Product   *string
	UserAgent string
}

// Source retrieves and verifies the full claim set. Implementations decide
// how the set is obtained and whether it is trusted; the engine works on a
// copy of the returned set. A set marked Offline is a fallback answer and
// is treated as a failed attempt once claims have been published.
type Source interface {
	Fetch(ctx context.Context, req Request) (*ClaimSet, error)
}

// Watcher is implemented by sources that can tell when their claims
// changed. Watch blocks until ctx is done, calling trigger for each change.
type Watcher interface {
	Watch(ctx context.Context, trigger func()) error
}

// Verifier is an optional trust stage run on every fetched set. A non-nil
// error leaves the set untrusted; the set is still published.
type Verifier interface {
	Verify(ctx context.Context, set *ClaimSet) error
}

// Observer receives engine events, typically to export metrics.
type Observer interface {
	RefreshCompleted(result string, generation uint64, duration time.Duration)
	EnsureEvaluated(op string, code ErrNumeric)
	TransactionsOpen(n int)
	StateChanged(state ReadinessState)
}

type nopObserver struct{}

func (nopObserver) RefreshCompleted(string, uint64, time.Duration) {}
func (nopObserver) EnsureEvaluated(string, ErrNumeric)             {}
func (nopObserver) TransactionsOpen(int)                           {}
func (nopObserver) StateChanged(ReadinessState)                    {}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req Request) (*ClaimSet, error)

func (f SourceFunc) Fetch(ctx context.Context, req Request) (*ClaimSet, error) {
	return f(ctx, req)
}
