package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nuclight.org/gatekeeper/internal/ops"
	"nuclight.org/gatekeeper/internal/telegram"
	"nuclight.org/gatekeeper/internal/vote"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the periodic sweeper and the ops server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.RequireToken(); err != nil {
		return err
	}
	api, err := telegram.NewAPI(a.cfg.TelegramToken)
	if err != nil {
		return err
	}

	w, err := a.wire(ctx, api)
	if err != nil {
		return err
	}

	b := telegram.New(api, w.manager, telegram.Settings{
		JoinVoteTTL: a.cfg.JoinVoteTTL,
		TestVoteTTL: a.cfg.TestVoteTTL,
	}, a.logger)
	b.RegisterCommands()
	b.RegisterHandlers()

	sweeper := vote.NewSweeper(w.manager, a.cfg.SweepInterval, a.logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.OpsAddr != "" {
		router := ops.NewRouter(ops.NewHandler(w.manager, a.store, a.logger), w.recorder, w.registry)
		g.Go(func() error {
			return ops.Serve(gctx, a.cfg.OpsAddr, router, a.logger)
		})
	}
	g.Go(func() error {
		go func() {
			<-gctx.Done()
			b.Stop()
		}()
		b.Start()
		return nil
	})

	err = g.Wait()
	a.logger.Info("shutting down")
	return err
}
