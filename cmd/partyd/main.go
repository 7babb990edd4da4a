// Command partyd runs and inspects partymesh nodes.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/ggoodman/partymesh/config"
	"github.com/ggoodman/partymesh/internal/logctx"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partyd",
		Short: "Party coordination for proxy nodes sharing Redis",
		Long: `partyd coordinates player parties across proxy nodes that share one Redis
instance for records and pub/sub. Configuration is read from the environment
(REDIS_ADDR, PARTY_* variables).`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newOnlineCommand())
	return cmd
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(logctx.Handler{Handler: h}), nil
}
