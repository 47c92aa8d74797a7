package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/consolidate-cli/internal/config"
	"github.com/sells-group/consolidate-cli/internal/identity"
	"github.com/sells-group/consolidate-cli/internal/ledger"
	"github.com/sells-group/consolidate-cli/internal/orchestrator"
	"github.com/sells-group/consolidate-cli/internal/ratelimit"
	"github.com/sells-group/consolidate-cli/internal/resolve"
	"github.com/sells-group/consolidate-cli/internal/review"
	"github.com/sells-group/consolidate-cli/internal/store"
	"github.com/sells-group/consolidate-cli/internal/strategy"
)

// runtimeEnv holds the wired pipeline for one command invocation.
type runtimeEnv struct {
	Store        store.Store
	Profile      *config.Profile
	Limiter      *ratelimit.Manager
	Orchestrator *orchestrator.Orchestrator
}

// initRuntime opens the store, loads the industry profile, and wires the
// strategy chain, resolution engine, and orchestrator.
func initRuntime(ctx context.Context) (*runtimeEnv, error) {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	profile, err := config.LoadProfile(cfg.Profile)
	if err != nil {
		st.Close()
		return nil, err
	}

	limiter := ratelimit.New(profile)
	led := ledger.New()
	graph := identity.New(led, profile.Propagation)
	engine := resolve.NewEngine(profile.Resolution, graph)
	gateway := review.NewGateway(st)

	gates := strategy.Gates{
		Feature: cfg.Network.FeatureEnabled,
		Runtime: cfg.Network.RuntimeEnabled,
	}
	authority := strategy.NewAuthorityProvider(st)
	prior := strategy.NewPriorRunProvider(st)
	derive := strategy.NewDeriveProvider(st)
	network := strategy.NewNetworkProvider(gates, profile, limiter, st)

	registry := strategy.NewRegistry()
	registry.Register(authority)
	registry.Register(prior)
	registry.Register(derive)
	registry.Register(network)
	registry.Register(strategy.NewBackfillProvider(authority, prior, derive, network))

	orch := orchestrator.New(profile, registry, led, graph, engine, gateway, st, limiter, orchestrator.Options{
		Workers:      cfg.Run.Workers,
		Deadline:     time.Duration(cfg.Run.DeadlineSecs) * time.Second,
		PollInterval: time.Duration(cfg.Run.PollIntervalSec) * time.Second,
	})

	return &runtimeEnv{
		Store:        st,
		Profile:      profile,
		Limiter:      limiter,
		Orchestrator: orch,
	}, nil
}

// Close releases the environment's resources.
func (e *runtimeEnv) Close() {
	if e.Limiter != nil {
		e.Limiter.Shutdown()
	}
	if e.Store != nil {
		e.Store.Close()
	}
}
