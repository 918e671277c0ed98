package main

import (
	"context"

	"github.com/hamba/cmd"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v2"
)

func runServer(c *cli.Context) error {
	ctx, err := cmd.NewContext(c)
	if err != nil {
		return err
	}

	coord, store, closeSink, err := newCoordinator(ctx)
	if err != nil {
		return err
	}
	defer closeSink()

	srv, err := newServer(ctx, coord)
	if err != nil {
		return err
	}

	app := newApplication(ctx, coord, store)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return srv.Run(runCtx)
	})
	g.Go(func() error {
		return app.Run(runCtx)
	})
	g.Go(func() error {
		select {
		case <-cmd.WaitForSignals():
			cancel()
		case <-runCtx.Done():
		}
		return nil
	})

	return g.Wait()
}
