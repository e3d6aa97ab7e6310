package ensure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultRefreshInterval is the autorefresh period after a successful fetch.
	DefaultRefreshInterval = time.Hour
	// DefaultRetryMinBackoff is the first retry delay after a failed fetch.
	DefaultRetryMinBackoff = 5 * time.Second
	// DefaultRetryMaxBackoff caps the retry delay.
	DefaultRetryMaxBackoff = 5 * time.Minute
	// DefaultFetchTimeout bounds a single fetch attempt.
	DefaultFetchTimeout = 60 * time.Second
	// DefaultWatchRate bounds how often source change events cause a fetch.
	DefaultWatchRate = rate.Limit(1)
)

type schedulerOptions struct {
	source   Source
	verifier Verifier
	store    *Store
	gate     *readinessGate
	epoch    uint64
	request  Request

	autoRefresh *atomic.Bool
	interval    time.Duration
	minBackoff  time.Duration
	maxBackoff  time.Duration
	timeout     time.Duration
	watchRate   rate.Limit

	logger     func() *zerolog.Logger
	observer   Observer
	dispatcher *dispatcher
}

// scheduler runs the fetch loop for one initialized run of an engine.
type scheduler struct {
	opts   schedulerOptions
	ctx    context.Context
	cancel context.CancelFunc

	trigger chan struct{}
	wake    chan struct{}
	flight  singleflight.Group
	limiter *rate.Limiter

	pendingMu sync.Mutex
	pending   *time.Timer

	done chan struct{}
}

func newScheduler(ctx context.Context, opts schedulerOptions) *scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &scheduler{
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(opts.watchRate, 1),
		done:    make(chan struct{}),
	}
}

func (s *scheduler) log() *zerolog.Logger { return s.opts.logger() }

// run is the scheduler goroutine. It returns when the run context is
// cancelled or the source reports an unrecoverable error, and always queues
// exactly one exit notification.
func (s *scheduler) run() {
	defer close(s.done)
	defer s.opts.dispatcher.exit()
	defer s.cancel()
	defer s.stopPending()

	if w, ok := s.opts.source.(Watcher); ok {
		go s.watch(w)
	}

	failures := 0
	for {
		_, err := s.refresh()
		if s.ctx.Err() != nil {
			s.log().Debug().Msg("claim scheduler stopped")
			return
		}

		if err != nil {
			if errors.Is(err, ErrUnrecoverable) {
				s.log().Error().Err(err).Msg("claim source failed permanently, scheduler exiting")
				s.opts.gate.fail(s.opts.epoch, ErrStatusUnknown)
				return
			}
			failures++
			delay := s.backoff(failures)
			s.log().Warn().Err(err).
				Int("failures", failures).
				Dur("retry_in", delay).
				Msg("claim refresh failed")
			// Until live claims are published the loop keeps retrying.
			if !s.pause(delay, s.opts.store.Current().Snapshot.Set.Offline) {
				return
			}
			continue
		}

		failures = 0
		if !s.pause(s.opts.interval, false) {
			return
		}
	}
}

// pause waits for the next attempt. Timed waits only apply when force is set
// or autorefresh is enabled; otherwise only an explicit trigger resumes the
// loop. It returns false when the run is over.
func (s *scheduler) pause(d time.Duration, force bool) bool {
	for {
		var timer *time.Timer
		var timerC <-chan time.Time
		if force || s.opts.autoRefresh.Load() {
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-s.ctx.Done():
			stopTimer(timer)
			return false
		case <-s.trigger:
			stopTimer(timer)
			return true
		case <-timerC:
			return true
		case <-s.wake:
			stopTimer(timer)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (s *scheduler) backoff(failures int) time.Duration {
	delay := s.opts.minBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.opts.maxBackoff {
			return s.opts.maxBackoff
		}
	}
	if delay > s.opts.maxBackoff {
		return s.opts.maxBackoff
	}
	return delay
}

// poke asks the loop to fetch now. Requests coalesce.
func (s *scheduler) poke() {
	select {
	case s.trigger <- struct{}{}:
	default:
		s.log().Trace().Msg("claim refresh trigger busy")
	}
}

// toggled re-evaluates a parked loop after an autorefresh change.
func (s *scheduler) toggled() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// sourceChanged is the watch callback. Bursts are folded into one delayed
// trigger by the rate limiter.
func (s *scheduler) sourceChanged() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pending != nil {
		return
	}
	r := s.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		s.log().Debug().Msg("claim source changed, refreshing")
		s.poke()
		return
	}
	s.pending = time.AfterFunc(delay, func() {
		s.pendingMu.Lock()
		s.pending = nil
		s.pendingMu.Unlock()
		s.log().Debug().Msg("claim source changed, refreshing")
		s.poke()
	})
}

func (s *scheduler) stopPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *scheduler) watch(w Watcher) {
	for {
		err := w.Watch(s.ctx, s.sourceChanged)
		if s.ctx.Err() != nil {
			return
		}
		s.log().Warn().Err(err).Msg("claim source watch ended, restarting")
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.opts.minBackoff):
		}
	}
}

// refresh fetches and publishes once. Concurrent callers share a fetch.
func (s *scheduler) refresh() (uint64, error) {
	v, err, _ := s.flight.Do("refresh", func() (interface{}, error) {
		return s.fetchAndPublish()
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// refreshNow is the on-demand refresh. The fetch runs on the scheduler's
// context so an impatient caller does not cancel it for everybody else.
func (s *scheduler) refreshNow(ctx context.Context) (uint64, error) {
	ch := s.flight.DoChan("refresh", func() (interface{}, error) {
		return s.fetchAndPublish()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(uint64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.ctx.Done():
		return 0, ErrStatusNotInitialized
	}
}

// fetchAndPublish runs one attempt. A fallback set (Offline) counts as a
// failed attempt: it is only published as the first generation, so
// readiness can be reached, and the caller still backs off.
func (s *scheduler) fetchAndPublish() (uint64, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.timeout)
	defer cancel()

	set, err := s.opts.source.Fetch(ctx, s.opts.request)
	if err == nil && set == nil {
		err = errors.New("claim source returned no claim set")
	}
	if s.ctx.Err() != nil {
		return 0, s.ctx.Err()
	}
	if err != nil {
		err = fmt.Errorf("fetch claims: %w", err)
		s.opts.store.MarkFailed(err, errors.Is(err, ErrVerification))
		s.opts.observer.RefreshCompleted("error", s.opts.store.Generation(), time.Since(start))
		return 0, err
	}

	// The source may hand out a set it still holds.
	set = set.Clone()
	if s.opts.verifier != nil {
		if verr := s.opts.verifier.Verify(ctx, set); verr != nil {
			set.Trusted = false
			s.log().Warn().Err(verr).Msg("claim set failed verification, publishing as untrusted")
		} else {
			set.Trusted = true
		}
	}
	if set.FetchedAt.IsZero() {
		set.FetchedAt = time.Now()
	}
	if s.ctx.Err() != nil {
		return 0, s.ctx.Err()
	}

	if set.Offline && s.opts.store.Generation() > 0 {
		s.opts.store.MarkFailed(ErrSourceOffline, false)
		s.opts.observer.RefreshCompleted("offline", s.opts.store.Generation(), time.Since(start))
		return 0, ErrSourceOffline
	}

	var snap *Snapshot
	published := s.opts.dispatcher.publish(func() uint64 {
		snap = s.opts.store.Publish(set)
		if s.opts.gate.ready(s.opts.epoch) {
			s.log().Info().Uint64("generation", snap.Generation).Msg("claims ready")
		}
		return snap.Generation
	})
	if !published {
		return 0, ErrStatusNotInitialized
	}

	result := "success"
	switch {
	case set.Offline:
		result = "offline"
	case !set.Trusted:
		result = "untrusted"
	}
	s.opts.observer.RefreshCompleted(result, snap.Generation, time.Since(start))
	s.log().Debug().
		Uint64("generation", snap.Generation).
		Bool("trusted", set.Trusted).
		Bool("offline", set.Offline).
		Int("products", len(set.Products)).
		Msg("claims published")

	if set.Offline {
		return snap.Generation, ErrSourceOffline
	}
	return snap.Generation, nil
}
