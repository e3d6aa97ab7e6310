package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/claimguard/internal/claimcache"
	"github.com/rcourtman/claimguard/internal/config"
	"github.com/rcourtman/claimguard/internal/logging"
	"github.com/rcourtman/claimguard/internal/metrics"
	"github.com/rcourtman/claimguard/internal/source"
	"github.com/rcourtman/claimguard/pkg/ensure"
)

const cliUserAgent = "claimguard-cli"

// runtime bundles an engine with the resources it was built from.
type runtime struct {
	cfg    *config.Config
	engine *ensure.Engine
	cache  *claimcache.Store
	cancel context.CancelFunc
}

// newRuntime loads the configuration, sets up logging and builds an engine
// over the configured claim document. The engine is not initialized yet.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if claimsPath != "" {
		cfg.ClaimsPath = claimsPath
		cfg.EnvOverrides["claimsPath"] = true
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "claimguard",
	})

	fileLogger := logging.New("source")
	var src ensure.Source = source.NewFile(cfg.ClaimsPath, source.FileOptions{
		PublicKey:     cfg.PublicKey,
		TrustUnsigned: cfg.TrustUnsigned(),
		Logger:        &fileLogger,
	})

	rt := &runtime{cfg: cfg}
	if cfg.CacheDir != "" {
		store, err := claimcache.Open(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("open claim cache: %w", err)
		}
		rt.cache = store
		src = claimcache.Wrap(src, store,
			claimcache.WithMaxAge(cfg.CacheMaxAge),
			claimcache.WithLogger(logging.New("claimcache")))
	}

	ctx, rt.cancel = context.WithCancel(ctx)
	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartServer(ctx, cfg.MetricsAddr); err != nil {
			rt.close()
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}

	engineLogger := logging.New("engine")
	rt.engine, err = ensure.New(ensure.Config{
		Source:             src,
		Observer:           metrics.Observer{},
		Logger:             &engineLogger,
		DisableAutoRefresh: !cfg.AutoRefresh,
		RefreshInterval:    cfg.RefreshInterval,
		FailOnWaitTimeout:  cfg.FailOnWaitTimeout,
		UserAgent:          cliUserAgent,
	})
	if err != nil {
		rt.close()
		return nil, err
	}

	if logging.IsLevelEnabled(zerolog.DebugLevel) {
		log.Debug().
			Str("claims", cfg.ClaimsPath).
			Str("public_key", source.PublicKeyFingerprint(cfg.PublicKey)).
			Bool("trust_unsigned", cfg.TrustUnsigned()).
			Bool("cache", rt.cache != nil).
			Msg("Runtime ready")
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.engine != nil && rt.engine.State() != ensure.StateUninitialized {
		_ = rt.engine.Uninitialize()
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	if err := rt.cache.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close claim cache")
	}
}
