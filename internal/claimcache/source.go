package claimcache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	internalerrors "github.com/rcourtman/claimguard/internal/errors"
	"github.com/rcourtman/claimguard/pkg/ensure"
)

// Source wraps another source. Every successful fetch is stored; a failed
// fetch is answered from the store with the set marked offline.
type Source struct {
	inner  ensure.Source
	store  *Store
	maxAge time.Duration
	logger zerolog.Logger
}

// Option customizes a Source.
type Option func(*Source)

// WithMaxAge refuses cached sets fetched longer than d ago. Zero means no
// limit.
func WithMaxAge(d time.Duration) Option {
	return func(s *Source) { s.maxAge = d }
}

// WithLogger sets the logger used for cache diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// Wrap returns a caching source around inner.
func Wrap(inner ensure.Source, store *Store, opts ...Option) *Source {
	s := &Source{inner: inner, store: store, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("source", "cache").Logger()
	return s
}

func cacheKey(req ensure.Request) string {
	if req.Product == nil {
		return "*"
	}
	return "product:" + *req.Product
}

// Fetch implements ensure.Source.
func (s *Source) Fetch(ctx context.Context, req ensure.Request) (*ensure.ClaimSet, error) {
	set, err := s.inner.Fetch(ctx, req)
	if err == nil {
		s.save(ctx, req, set)
		return set, nil
	}

	// A rejected signature or a permanent failure must not be masked.
	if !internalerrors.IsRetryableError(err) {
		return nil, err
	}

	cached, cerr := s.load(ctx, req)
	if cerr != nil {
		if !errors.Is(cerr, ErrNotFound) {
			s.logger.Warn().Err(cerr).Msg("claim cache unavailable")
		}
		return nil, err
	}

	s.logger.Warn().
		Err(err).
		Time("fetched_at", cached.FetchedAt).
		Msg("claim source failed, serving cached claims")
	return cached, nil
}

// Watch forwards to the wrapped source when it can watch, otherwise it
// blocks until ctx is done.
func (s *Source) Watch(ctx context.Context, trigger func()) error {
	if w, ok := s.inner.(ensure.Watcher); ok {
		return w.Watch(ctx, trigger)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *Source) save(ctx context.Context, req ensure.Request, set *ensure.ClaimSet) {
	if set == nil || set.Offline {
		return
	}
	payload, err := Encode(set)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode claim set for cache")
		return
	}
	fetchedAt := set.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	err = s.store.Put(ctx, Entry{
		Key:       cacheKey(req),
		Payload:   payload,
		Trusted:   set.Trusted,
		FetchedAt: fetchedAt.UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache claim set")
		return
	}
	s.logger.Trace().Str("key", cacheKey(req)).Msg("claim set cached")
}

func (s *Source) load(ctx context.Context, req ensure.Request) (*ensure.ClaimSet, error) {
	entry, err := s.store.Get(ctx, cacheKey(req))
	if err != nil {
		return nil, err
	}
	if s.maxAge > 0 && time.Since(entry.FetchedAt) > s.maxAge {
		return nil, ErrNotFound
	}
	set, err := Decode(entry.Payload)
	if err != nil {
		return nil, err
	}
	set.Trusted = entry.Trusted
	set.Offline = true
	set.FetchedAt = entry.FetchedAt
	return set, nil
}
