package main

import (
	"github.com/clawgig/clawgig"
	"github.com/clawgig/clawgig/coordinator"
	"github.com/clawgig/clawgig/coordinator/ledger"
	"github.com/clawgig/clawgig/coordinator/notify"
	"github.com/clawgig/clawgig/coordinator/state"
	applog "github.com/clawgig/clawgig/pkg/log"
	"github.com/clawgig/clawgig/server"
	"github.com/hamba/cmd"
)

// Coordinator =============================

func newCoordinator(c *cmd.Context) (*coordinator.Coordinator, *state.Store, func(), error) {
	store, err := state.New()
	if err != nil {
		return nil, nil, nil, err
	}

	ledgerClient, err := ledger.NewClient(ledger.ClientConfig{
		Addr:   c.String(flagLedgerAddr),
		Logger: applog.NewHCLBridge(c.Logger(), "ledger: "),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	sink, closeSink := newSink(c)

	cfg := coordinator.NewConfig()
	cfg.Ledger = ledgerClient
	cfg.Store = store
	cfg.Sink = sink
	cfg.OwnerAddress = c.String(flagOwnerAddr)
	cfg.ArbiterKey = c.String(flagArbiterKey)
	cfg.Mainnet = c.Bool(flagMainnet)
	cfg.Logger = c.Logger()
	cfg.Statter = c.Statter()

	if d := c.Duration(flagDisputeWindow); d > 0 {
		cfg.DisputeWindow = d
	}
	if d := c.Duration(flagReviewPeriod); d > 0 {
		cfg.ReviewPeriod = d
	}

	for _, name := range c.StringSlice(flagNoSignature) {
		switch name {
		case "post":
			cfg.Auth.Post = false
		case "escrow":
			cfg.Auth.Escrow = false
		case "claim":
			cfg.Auth.Claim = false
		case "submit":
			cfg.Auth.Submit = false
		case "cancel":
			cfg.Auth.Cancel = false
		case "expire":
			cfg.Auth.Expire = false
		case "verify":
			cfg.Auth.Verify = false
		}
	}

	coord, err := coordinator.New(cfg)
	if err != nil {
		closeSink()
		return nil, nil, nil, err
	}

	return coord, store, closeSink, nil
}

// Sink ====================================

func newSink(c *cmd.Context) (notify.Sink, func()) {
	addr := c.String(flagRedisAddr)
	if addr == "" {
		return notify.NewMemorySink(), func() {}
	}

	redisSink := notify.NewRedisSink(addr, c.String(flagRedisChannel))
	return redisSink, func() {
		if err := redisSink.Close(); err != nil {
			c.Logger().Error("closing redis sink", "error", err)
		}
	}
}

// Server ==================================

func newServer(c *cmd.Context, coord *coordinator.Coordinator) (*server.Server, error) {
	return server.New(&server.Config{
		Addr:           c.String(flagAddr),
		Coordinator:    coord,
		AllowedOrigins: c.StringSlice(flagCORSOrigins),
		Logger:         c.Logger(),
		Statter:        c.Statter(),
	})
}

// Application =============================

func newApplication(c *cmd.Context, coord *coordinator.Coordinator, store *state.Store) *clawgig.Application {
	return clawgig.NewApplication(clawgig.Config{
		Coordinator:   coord,
		Store:         store,
		SweepInterval: c.Duration(flagSweepInterval),
		Logger:        c.Logger(),
		Statter:       c.Statter(),
	})
}
