package ensure

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rcourtman/claimguard/internal/logging"
)

// Config configures an Engine. Zero durations select the defaults.
type Config struct {
	Source   Source
	Verifier Verifier
	Observer Observer
	Logger   *zerolog.Logger

	// DisableAutoRefresh parks the scheduler after the first successful
	// fetch until an explicit Refresh, watch event or SetAutoRefresh(true).
	DisableAutoRefresh bool
	RefreshInterval    time.Duration
	RetryMinBackoff    time.Duration
	RetryMaxBackoff    time.Duration
	FetchTimeout       time.Duration
	WatchRate          rate.Limit

	// FailOnWaitTimeout moves an initializing engine to Failed when a
	// waiter's deadline elapses first.
	FailOnWaitTimeout bool

	// UserAgent is the caller's product user agent; it is prefixed to
	// DefaultUserAgent.
	UserAgent string
}

// Engine verifies product entitlements against the most recently fetched
// claim set. All methods are safe for concurrent use; a single transaction
// must only be used by one goroutine at a time.
type Engine struct {
	id       string
	cfg      Config
	observer Observer

	logMu      sync.Mutex
	level      zerolog.Level
	baseLogger zerolog.Logger
	logger     atomic.Pointer[zerolog.Logger]

	autoRefresh atomic.Bool
	listener    atomic.Pointer[listener]

	gate  *readinessGate
	arena *arena

	mu  sync.Mutex
	run *engineRun
}

// engineRun is the state owned by one Initialize..Uninitialize cycle.
type engineRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	store  *Store
	sched  *scheduler
}

// New returns an uninitialized engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("ensure: claim source is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RetryMinBackoff <= 0 {
		cfg.RetryMinBackoff = DefaultRetryMinBackoff
	}
	if cfg.RetryMaxBackoff <= 0 {
		cfg.RetryMaxBackoff = DefaultRetryMaxBackoff
	}
	if cfg.RetryMaxBackoff < cfg.RetryMinBackoff {
		cfg.RetryMaxBackoff = cfg.RetryMinBackoff
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.WatchRate <= 0 {
		cfg.WatchRate = DefaultWatchRate
	}

	e := &Engine{
		id:       uuid.NewString(),
		cfg:      cfg,
		observer: cfg.Observer,
		arena:    newArena(),
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	e.gate = newReadinessGate(e.observer.StateChanged)

	if cfg.Logger != nil {
		e.baseLogger = cfg.Logger.With().Str("engine", e.id).Logger()
	} else {
		e.baseLogger = logging.New("claimguard", logging.WithFields(map[string]interface{}{"engine": e.id}))
	}
	e.level = e.baseLogger.GetLevel()
	l := e.baseLogger
	e.logger.Store(&l)

	e.autoRefresh.Store(!cfg.DisableAutoRefresh)
	e.observer.StateChanged(StateUninitialized)
	return e, nil
}

// ID returns the engine instance identifier used in log lines.
func (e *Engine) ID() string { return e.id }

func (e *Engine) log() *zerolog.Logger { return e.logger.Load() }

// State returns the current readiness state.
func (e *Engine) State() ReadinessState { return e.gate.State() }

// Generation returns the active snapshot generation, or 0 when the engine
// is not initialized.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return 0
	}
	return e.run.store.Generation()
}

// Initialize starts the background scheduler. A non-nil product restricts
// the fetch to that product and must not be empty.
func (e *Engine) Initialize(ctx context.Context, product *string) error {
	return e.initialize(ctx, product, e.cfg.UserAgent)
}

func (e *Engine) initialize(ctx context.Context, product *string, userAgent string) error {
	if product != nil && *product == "" {
		return ErrStatusInvalidProductName
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	epoch, err := e.gate.begin()
	if err != nil {
		return err
	}

	req := Request{UserAgent: UserAgent(userAgent)}
	if product != nil {
		name := *product
		req.Product = &name
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	store := NewStore()
	sched := newScheduler(runCtx, schedulerOptions{
		source:      e.cfg.Source,
		verifier:    e.cfg.Verifier,
		store:       store,
		gate:        e.gate,
		epoch:       epoch,
		request:     req,
		autoRefresh: &e.autoRefresh,
		interval:    e.cfg.RefreshInterval,
		minBackoff:  e.cfg.RetryMinBackoff,
		maxBackoff:  e.cfg.RetryMaxBackoff,
		timeout:     e.cfg.FetchTimeout,
		watchRate:   e.cfg.WatchRate,
		logger:      e.log,
		observer:    e.observer,
		dispatcher:  newDispatcher(&e.listener, e.log),
	})
	e.run = &engineRun{ctx: runCtx, cancel: cancel, store: store, sched: sched}
	go sched.run()

	ev := e.log().Info().Str("user_agent", req.UserAgent)
	if req.Product != nil {
		ev = ev.Str("product", *req.Product)
	}
	ev.Msg("claim engine initialized")
	return nil
}

// Uninitialize stops the scheduler without waiting for an in-flight fetch
// and invalidates every open transaction.
func (e *Engine) Uninitialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.gate.reset(); err != nil {
		return err
	}
	run := e.run
	e.run = nil
	if run != nil {
		run.cancel()
	}
	dropped := e.arena.invalidate()
	e.observer.TransactionsOpen(0)

	e.log().Info().Int("dropped_transactions", dropped).Msg("claim engine uninitialized")
	return nil
}

// WaitUntilReady blocks until the first claim set is published.
func (e *Engine) WaitUntilReady(ctx context.Context) error {
	return e.gate.wait(ctx, e.cfg.FailOnWaitTimeout)
}

// WaitUntilReadyTimeout is WaitUntilReady with a relative deadline. A
// non-positive timeout waits without a deadline.
func (e *Engine) WaitUntilReadyTimeout(timeout time.Duration) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.WaitUntilReady(ctx)
}

// SetLogger redirects diagnostics to sink, one rendered line per call. A
// nil sink restores the default logger. A negative verbosity keeps the
// current level; 0 is info, 1 debug and anything higher trace.
func (e *Engine) SetLogger(sink func(line string), verbosity int) {
	e.logMu.Lock()
	defer e.logMu.Unlock()

	e.level = logging.LevelForVerbosity(verbosity, e.level)

	var l zerolog.Logger
	if sink == nil {
		l = e.baseLogger.Level(e.level)
	} else {
		l = logging.NewSinkLogger(logging.LineSink(sink), "claimguard", e.level).
			With().Str("engine", e.id).Logger()
	}
	e.logger.Store(&l)
}

// SetAutoRefresh toggles periodic refresh. It takes effect immediately,
// including for a scheduler that is currently parked.
func (e *Engine) SetAutoRefresh(enabled bool) {
	e.autoRefresh.Store(enabled)

	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if run != nil {
		run.sched.toggled()
	}
	e.log().Debug().Bool("autorefresh", enabled).Msg("autorefresh changed")
}

// SetNotifyWhenUpdated registers the update and exit callbacks, replacing
// any previous pair. Callbacks run on a dedicated goroutine, one at a time.
func (e *Engine) SetNotifyWhenUpdated(onUpdate func(generation uint64), onExit func()) {
	if onUpdate == nil && onExit == nil {
		e.listener.Store(nil)
		return
	}
	e.listener.Store(&listener{onUpdate: onUpdate, onExit: onExit})
}

// NotifyWhenUpdated sends the new generation to ch after every publish. It
// blocks until ctx is done, the engine is uninitialized or the scheduler
// stops for good.
func (e *Engine) NotifyWhenUpdated(ctx context.Context, ch chan<- uint64) error {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if run == nil {
		return ErrStatusNotInitialized
	}

	for {
		updated := run.store.Updated()
		select {
		case <-updated:
		case <-ctx.Done():
			return ctx.Err()
		case <-run.ctx.Done():
			return ErrStatusNotInitialized
		case <-run.sched.done:
			return ErrStatusUnknown
		}

		select {
		case ch <- run.store.Generation():
		case <-ctx.Done():
			return ctx.Err()
		case <-run.ctx.Done():
			return ErrStatusNotInitialized
		}
	}
}

// Refresh fetches the claim set now and returns the published generation.
// Concurrent calls share one fetch.
func (e *Engine) Refresh(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if run == nil {
		return 0, ErrStatusNotInitialized
	}
	return run.sched.refreshNow(ctx)
}

// View returns the active claim view.
func (e *Engine) View() (*View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil, ErrStatusNotInitialized
	}
	return e.run.store.Current(), nil
}

// BeginEnsure opens a transaction pinned to the active view.
func (e *Engine) BeginEnsure() (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil || e.gate.State() != StateReady {
		return 0, ErrStatusNotInitialized
	}
	tx := newTransaction(e.run.store.Current())
	h := e.arena.alloc(tx)
	e.observer.TransactionsOpen(e.arena.openCount())

	e.log().Trace().
		Str("transaction", tx.ID()).
		Uint64("handle", uint64(h)).
		Uint64("generation", tx.Generation()).
		Msg("transaction started")
	return h, nil
}

// InstantEnsure initializes the engine if needed, waits up to timeout for
// readiness, opens a transaction and checks that product is licensed. On
// failure no transaction is left open.
func (e *Engine) InstantEnsure(ctx context.Context, product, userAgent string, timeout time.Duration) (Handle, error) {
	if product == "" {
		return 0, ErrStatusInvalidProductName
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if userAgent == "" {
		userAgent = e.cfg.UserAgent
	}

	if err := e.initialize(ctx, &product, userAgent); err != nil && !errors.Is(err, ErrStatusAlreadyInitialized) {
		return 0, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := e.WaitUntilReady(waitCtx); err != nil {
		return 0, err
	}

	h, err := e.BeginEnsure()
	if err != nil {
		return 0, err
	}
	if err := e.EnsureOK(h, product); err != nil {
		_ = e.EndEnsure(h)
		return 0, err
	}
	return h, nil
}

// EnsureSetAllowUntrusted controls whether an untrusted claim set passes.
func (e *Engine) EnsureSetAllowUntrusted(h Handle, allow bool) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return err
	}
	tx.allowUntrusted = allow
	return nil
}

// EnsureSetMustBeOnline controls whether a claim set from a failed refresh
// passes. It defaults to true.
func (e *Engine) EnsureSetMustBeOnline(h Handle, must bool) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return err
	}
	tx.mustBeOnline = must
	return nil
}

func (e *Engine) observe(op string, err error) error {
	e.observer.EnsureEvaluated(op, AsErrNumeric(err))
	return err
}

// EnsureOK checks that product exists, is licensed and satisfies the
// transaction's online and trust requirements.
func (e *Engine) EnsureOK(h Handle, product string) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return e.observe("ok", err)
	}
	return e.observe("ok", tx.ensureOK(product))
}

func (e *Engine) GetBool(h Handle, product, claim string) (bool, error) {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return false, e.observe("get", err)
	}
	v, err := tx.getBool(product, claim)
	return v, e.observe("get", err)
}

func (e *Engine) GetString(h Handle, product, claim string) (string, error) {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return "", e.observe("get", err)
	}
	v, err := tx.getString(product, claim)
	return v, e.observe("get", err)
}

func (e *Engine) GetInt64(h Handle, product, claim string) (int64, error) {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return 0, e.observe("get", err)
	}
	v, err := tx.getInt64(product, claim)
	return v, e.observe("get", err)
}

func (e *Engine) GetFloat64(h Handle, product, claim string) (float64, error) {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return 0, e.observe("get", err)
	}
	v, err := tx.getFloat64(product, claim)
	return v, e.observe("get", err)
}

// GetStringArray returns a copy of a string set claim, sorted.
func (e *Engine) GetStringArray(h Handle, product, claim string) ([]string, error) {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return nil, e.observe("get", err)
	}
	v, err := tx.getStringSet(product, claim)
	return v, e.observe("get", err)
}

func (e *Engine) EnsureBool(h Handle, product, claim string, value bool) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return e.observe("eq", err)
	}
	return e.observe("eq", tx.ensureBool(product, claim, value))
}

func (e *Engine) EnsureString(h Handle, product, claim, value string) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return e.observe("eq", err)
	}
	return e.observe("eq", tx.ensureString(product, claim, value))
}

func (e *Engine) EnsureInt64(h Handle, product, claim string, value int64) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return e.observe("eq", err)
	}
	return e.observe("eq", tx.ensureInt64(product, claim, value))
}

func (e *Engine) EnsureFloat64(h Handle, product, claim string, value float64) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return e.observe("eq", err)
	}
	return e.observe("eq", tx.ensureFloat64(product, claim, value))
}

// EnsureInt64Op checks "stored op value". An operator outside GT, GE, LT
// and LE fails before the claim is looked up.
func (e *Engine) EnsureInt64Op(h Handle, product, claim string, value int64, op Operator) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return e.observe(op.String(), err)
	}
	return e.observe(op.String(), tx.ensureInt64Op(product, claim, value, op))
}

func (e *Engine) EnsureFloat64Op(h Handle, product, claim string, value float64, op Operator) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return e.observe(op.String(), err)
	}
	return e.observe(op.String(), tx.ensureFloat64Op(product, claim, value, op))
}

// EnsureStringArrayValue checks that value is a member of a string set claim.
func (e *Engine) EnsureStringArrayValue(h Handle, product, claim, value string) error {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return e.observe("member", err)
	}
	return e.observe("member", tx.ensureStringSetMember(product, claim, value))
}

// DumpEnsure renders the checks recorded so far.
func (e *Engine) DumpEnsure(h Handle) (string, error) {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return "", err
	}
	return tx.dump(), nil
}

// DumpEnsureJSON encodes the claim set pinned by the transaction.
func (e *Engine) DumpEnsureJSON(h Handle) ([]byte, error) {
	tx, err := e.arena.lookup(h)
	if err != nil {
		return nil, err
	}
	return tx.dumpJSON()
}

// EndEnsure closes the transaction. The handle is invalid afterwards.
func (e *Engine) EndEnsure(h Handle) error {
	tx, err := e.arena.release(h)
	if err != nil {
		return err
	}
	e.observer.TransactionsOpen(e.arena.openCount())
	e.log().Trace().
		Str("transaction", tx.ID()).
		Int("checks", len(tx.results)).
		Msg("transaction ended")
	return nil
}
