package commands

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ggoodman/partymesh/internal/logctx"
	"github.com/ggoodman/partymesh/workflow"
)

// Workflows is the set of party operations a Router dispatches to.
type Workflows interface {
	Invite(ctx context.Context, actor workflow.Actor, target string) (workflow.Outcome, error)
	Accept(ctx context.Context, actor workflow.Actor, source string) (workflow.Outcome, error)
	Deny(ctx context.Context, actor workflow.Actor, source string) (workflow.Outcome, error)
	Kick(ctx context.Context, actor workflow.Actor, target string) (workflow.Outcome, error)
	Leave(ctx context.Context, actor workflow.Actor) (workflow.Outcome, error)
	Promote(ctx context.Context, actor workflow.Actor, target string, limit *int) (workflow.Outcome, error)
	List(ctx context.Context, actor workflow.Actor) (workflow.Outcome, error)
	Chat(ctx context.Context, actor workflow.Actor, text string) (workflow.Outcome, error)
	Toggle(ctx context.Context, actor workflow.Actor, kind string) (workflow.Outcome, error)
}

// Compile-time interface check
var _ Workflows = (*workflow.Service)(nil)

type handlerFunc func(ctx context.Context, actor workflow.Actor, args []string) (workflow.Outcome, error)

// command describes one subcommand. maxArgs < 0 means variadic.
type command struct {
	minArgs, maxArgs int
	usage            bool
	run              handlerFunc
}

// Router maps subcommand names onto workflows.
type Router struct {
	commands map[string]command
	log      *slog.Logger
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger used for failed commands.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRouter builds the router for the party command tree.
func NewRouter(wf Workflows, opts ...RouterOption) *Router {
	r := &Router{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	r.commands = map[string]command{
		"invite": {minArgs: 1, maxArgs: 1, usage: true, run: func(ctx context.Context, a workflow.Actor, args []string) (workflow.Outcome, error) {
			return wf.Invite(ctx, a, args[0])
		}},
		"accept": {minArgs: 1, maxArgs: 1, usage: true, run: func(ctx context.Context, a workflow.Actor, args []string) (workflow.Outcome, error) {
			return wf.Accept(ctx, a, args[0])
		}},
		"deny": {minArgs: 1, maxArgs: 1, usage: true, run: func(ctx context.Context, a workflow.Actor, args []string) (workflow.Outcome, error) {
			return wf.Deny(ctx, a, args[0])
		}},
		"kick": {minArgs: 1, maxArgs: 1, usage: true, run: func(ctx context.Context, a workflow.Actor, args []string) (workflow.Outcome, error) {
			return wf.Kick(ctx, a, args[0])
		}},
		"promote": {minArgs: 1, maxArgs: 2, usage: true, run: func(ctx context.Context, a workflow.Actor, args []string) (workflow.Outcome, error) {
			var limit *int
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					var out workflow.Outcome
					out.Replies = append(out.Replies, workflow.Reply{Key: "command.promote.invalid_limit", Args: []any{args[1]}})
					return out, nil
				}
				limit = &n
			}
			return wf.Promote(ctx, a, args[0], limit)
		}},
		"leave": {maxArgs: -1, run: func(ctx context.Context, a workflow.Actor, _ []string) (workflow.Outcome, error) {
			return wf.Leave(ctx, a)
		}},
		"list": {maxArgs: -1, run: func(ctx context.Context, a workflow.Actor, _ []string) (workflow.Outcome, error) {
			return wf.List(ctx, a)
		}},
		"chat": {minArgs: 1, maxArgs: -1, usage: true, run: func(ctx context.Context, a workflow.Actor, args []string) (workflow.Outcome, error) {
			return wf.Chat(ctx, a, strings.Join(args, " "))
		}},
		"toggle": {minArgs: 1, maxArgs: 1, usage: true, run: func(ctx context.Context, a workflow.Actor, args []string) (workflow.Outcome, error) {
			return wf.Toggle(ctx, a, args[0])
		}},
	}
	return r
}

// Names lists the registered subcommands.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	return names
}

// Dispatch runs the subcommand name for actor. Unknown or empty names reply
// with the help text; wrong arity replies with the command's usage line. A
// workflow error is logged and answered with general.error.
func (r *Router) Dispatch(ctx context.Context, actor workflow.Actor, name string, args []string) workflow.Outcome {
	name = strings.ToLower(strings.TrimSpace(name))
	cmd, ok := r.commands[name]
	if !ok {
		return single("command.help")
	}
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		if cmd.usage {
			return single("command.usage." + name)
		}
		return single("command.help")
	}

	ctx = logctx.WithPlayerData(ctx, &logctx.PlayerData{PlayerID: actor.ID.String(), Name: actor.Name})
	ctx = logctx.WithCommandData(ctx, &logctx.CommandData{Name: name, Args: len(args)})
	out, err := cmd.run(ctx, actor, args)
	if err != nil {
		r.log.ErrorContext(ctx, "commands.dispatch.fail", slog.String("err", err.Error()))
		return single("general.error")
	}
	return out
}

func single(key string) workflow.Outcome {
	return workflow.Outcome{Replies: []workflow.Reply{{Key: key}}}
}
