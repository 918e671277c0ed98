package main

import (
	"log"
	"os"

	"github.com/hamba/cmd"
	"gopkg.in/urfave/cli.v2"
)

import _ "github.com/joho/godotenv/autoload"

const (
	flagAddr          = "addr"
	flagLedgerAddr    = "ledger-addr"
	flagOwnerAddr     = "owner-address"
	flagArbiterKey    = "arbiter-key"
	flagMainnet       = "mainnet"
	flagDisputeWindow = "dispute-window"
	flagReviewPeriod  = "review-period"
	flagSweepInterval = "sweep-interval"
	flagRedisAddr     = "redis-addr"
	flagRedisChannel  = "redis-channel"
	flagCORSOrigins   = "cors-origins"
	flagNoSignature   = "no-signature"
)

var version = "¯\\_(ツ)_/¯"

var commands = []*cli.Command{
	{
		Name:  "server",
		Usage: "Run the marketplace coordinator server",
		Flags: cmd.Flags{
			&cli.StringFlag{
				Name:    flagAddr,
				Usage:   "The address to serve the API on.",
				Value:   ":8080",
				EnvVars: []string{"CLAWGIG_ADDR"},
			},
			&cli.StringFlag{
				Name:    flagLedgerAddr,
				Usage:   "The address of the ledger node.",
				Value:   "127.0.0.1:8400",
				EnvVars: []string{"CLAWGIG_LEDGER_ADDR"},
			},
			&cli.StringFlag{
				Name:    flagOwnerAddr,
				Usage:   "The owner identity escrows must be linked to.",
				EnvVars: []string{"CLAWGIG_OWNER_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    flagArbiterKey,
				Usage:   "The credential authorizing dispute resolution.",
				EnvVars: []string{"CLAWGIG_ARBITER_KEY"},
			},
			&cli.BoolFlag{
				Name:    flagMainnet,
				Usage:   "Enable mainnet-only settlement assets.",
				EnvVars: []string{"CLAWGIG_MAINNET"},
			},
			&cli.DurationFlag{
				Name:    flagDisputeWindow,
				Usage:   "How long a completer has to dispute a rejection.",
				EnvVars: []string{"CLAWGIG_DISPUTE_WINDOW"},
			},
			&cli.DurationFlag{
				Name:    flagReviewPeriod,
				Usage:   "How long an issuer has to verify a submission.",
				EnvVars: []string{"CLAWGIG_REVIEW_PERIOD"},
			},
			&cli.DurationFlag{
				Name:    flagSweepInterval,
				Usage:   "How often the maintenance sweep runs.",
				EnvVars: []string{"CLAWGIG_SWEEP_INTERVAL"},
			},
			&cli.StringFlag{
				Name:    flagRedisAddr,
				Usage:   "The Redis address to publish job events to.",
				EnvVars: []string{"CLAWGIG_REDIS_ADDR"},
			},
			&cli.StringFlag{
				Name:    flagRedisChannel,
				Usage:   "The Redis channel to publish job events on.",
				EnvVars: []string{"CLAWGIG_REDIS_CHANNEL"},
			},
			&cli.StringSliceFlag{
				Name:    flagCORSOrigins,
				Usage:   "The allowed CORS origins.",
				EnvVars: []string{"CLAWGIG_CORS_ORIGINS"},
			},
			&cli.StringSliceFlag{
				Name:    flagNoSignature,
				Usage:   "Transitions to run without signature checks (post, escrow, claim, submit, cancel, expire, verify).",
				EnvVars: []string{"CLAWGIG_NO_SIGNATURE"},
			},
		}.Merge(cmd.CommonFlags),
		Action: runServer,
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "clawgig",
		Version:  version,
		Commands: commands,
	}
}

func main() {
	app := newApp()

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
