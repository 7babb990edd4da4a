package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/partymesh/config"
	"github.com/ggoodman/partymesh/node"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	console         bool
	shutdownTimeout time.Duration
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node until interrupted",
		Long: `Run a node until interrupted. On shutdown every player connected to the node
is logged out so their parties are handed over or disbanded.

With --console, stdin drives simulated players:
  join <name> [server]     connect a player
  quit <name>              disconnect a player
  move <name> <server>     report a server switch
  <name> <command> [args]  run a party command as that player`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			con := newConsole(cmd.OutOrStdout())
			n, err := node.Open(ctx, cfg, con, node.WithLogger(log))
			if err != nil {
				return err
			}
			con.attach(n)
			if opts.console {
				go func() {
					if err := con.run(ctx, cmd.InOrStdin()); err != nil {
						log.ErrorContext(ctx, "console.fail", slog.String("err", err.Error()))
					}
					stop()
				}()
			}

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
			defer cancel()
			return n.Close(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&opts.console, "console", false, "read simulated player input from stdin")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to drain commands on shutdown")
	return cmd
}
