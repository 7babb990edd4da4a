package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/ggoodman/partymesh/config"
	"github.com/ggoodman/partymesh/invites"
	"github.com/ggoodman/partymesh/kv"
	"github.com/ggoodman/partymesh/kv/rediskv"
	"github.com/ggoodman/partymesh/party"
	"github.com/ggoodman/partymesh/partystore"
	"github.com/ggoodman/partymesh/presence"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// inspector reads shared records without joining the bus.
type inspector struct {
	presence *presence.Registry
	parties  *partystore.Store
}

func newInspector(store kv.Store, keys party.Keys) *inspector {
	reg := presence.New(store, presence.WithKeys(keys))
	return &inspector{
		presence: reg,
		parties:  partystore.New(store, reg, invites.New(store, keys), partystore.WithKeys(keys)),
	}
}

func openStore(ctx context.Context, cfg config.Config) (*rediskv.Store, error) {
	client := redis.NewClient(cfg.Redis.Options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rediskv.New(rediskv.Config{Client: client})
}

// withInspector loads config, opens the store and runs fn.
func withInspector(cmd *cobra.Command, fn func(ctx context.Context, in *inspector) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()
	return fn(ctx, newInspector(store, cfg.Keys()))
}

type memberView struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name,omitempty"`
	Online bool      `json:"online"`
}

type partyView struct {
	ID         uuid.UUID    `json:"id"`
	Leader     memberView   `json:"leader"`
	Members    []memberView `json:"members"`
	MaxMembers int          `json:"max_members"`
}

func (in *inspector) party(ctx context.Context, id uuid.UUID) (*partyView, error) {
	p, err := in.parties.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("party %s: %w", id, party.ErrNotFound)
	}
	sessions, err := in.presence.GetMany(ctx, p.AllMembers())
	if err != nil {
		return nil, err
	}
	view := func(id uuid.UUID) memberView {
		m := memberView{ID: id}
		if s, ok := sessions[id]; ok {
			m.Name, m.Online = s.Name, true
		}
		return m
	}
	out := &partyView{ID: p.ID, Leader: view(p.Leader), Members: []memberView{}, MaxMembers: p.MaxMembers}
	for _, m := range p.Members {
		out.Members = append(out.Members, view(m))
	}
	return out, nil
}

// player looks a player up by uuid or, failing that, by name.
func (in *inspector) player(ctx context.Context, ref string) (*party.Session, error) {
	var (
		s   *party.Session
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		s, err = in.presence.Get(ctx, id)
	} else {
		s, err = in.presence.GetByName(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("player %s: %w", ref, party.ErrNotFound)
	}
	return s, nil
}

func (in *inspector) online(ctx context.Context) ([]*party.Session, error) {
	all, err := in.presence.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return party.FoldName(all[i].Name) < party.FoldName(all[j].Name) })
	return all, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print shared party records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "party <id>",
		Short: "Print a party with its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid party id %q: %w", args[0], err)
			}
			return withInspector(cmd, func(ctx context.Context, in *inspector) error {
				v, err := in.party(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), v)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "player <id|name>",
		Short: "Print a player's presence record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInspector(cmd, func(ctx context.Context, in *inspector) error {
				s, err := in.player(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), s)
			})
		},
	})
	return cmd
}

func newOnlineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "List every player registered on any node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInspector(cmd, func(ctx context.Context, in *inspector) error {
				all, err := in.online(ctx)
				if err != nil {
					return err
				}
				for _, s := range all {
					partyID := "-"
					if s.PartyID != nil {
						partyID = s.PartyID.String()
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.ID, s.Name, partyID)
				}
				return nil
			})
		},
	}
}
