package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ggoodman/partymesh/node"
	"github.com/ggoodman/partymesh/party"
	"github.com/ggoodman/partymesh/relay"
	"github.com/ggoodman/partymesh/workflow"
	"github.com/google/uuid"
)

// console simulates the players of one proxy from line input and prints
// what they would see.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	node    *node.Node
	players map[string]workflow.Actor
	names   map[uuid.UUID]string
}

// Compile-time interface check
var _ relay.Delivery = (*console)(nil)

func newConsole(out io.Writer) *console {
	return &console{
		out:     out,
		players: make(map[string]workflow.Actor),
		names:   make(map[uuid.UUID]string),
	}
}

func (c *console) attach(n *node.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.node = n
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) name(id uuid.UUID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.names[id]; ok {
		return n
	}
	return id.String()
}

func (c *console) actor(name string) (workflow.Actor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.players[party.FoldName(name)]
	return a, ok
}

func (c *console) SendLocalMessage(_ context.Context, player uuid.UUID, text string) error {
	c.printf("[%s] %s\n", c.name(player), text)
	return nil
}

func (c *console) ConnectLocalPlayerToServer(_ context.Context, player uuid.UUID, server string) error {
	c.printf("[%s] -> %s\n", c.name(player), server)
	c.mu.Lock()
	n := c.node
	c.mu.Unlock()
	if n != nil {
		return n.ServerConnected(workflow.Actor{ID: player, Name: c.name(player)}, server)
	}
	return nil
}

// run processes input lines until in is exhausted or ctx ends.
func (c *console) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if err := c.handle(ctx, fields); err != nil {
			c.printf("error: %v\n", err)
		}
	}
	return sc.Err()
}

func (c *console) handle(ctx context.Context, fields []string) error {
	switch strings.ToLower(fields[0]) {
	case "join":
		if len(fields) < 2 {
			return fmt.Errorf("usage: join <name> [server]")
		}
		a := workflow.Actor{ID: uuid.New(), Name: fields[1]}
		server := ""
		if len(fields) > 2 {
			server = fields[2]
		}
		if err := c.node.Connect(ctx, workflow.LoginInfo{ID: a.ID, Name: a.Name, Server: server}); err != nil {
			return err
		}
		c.mu.Lock()
		c.players[party.FoldName(a.Name)] = a
		c.names[a.ID] = a.Name
		c.mu.Unlock()
		c.printf("%s joined as %s\n", a.Name, a.ID)
		return nil
	case "quit":
		if len(fields) < 2 {
			return fmt.Errorf("usage: quit <name>")
		}
		a, ok := c.actor(fields[1])
		if !ok {
			return fmt.Errorf("unknown player %q", fields[1])
		}
		c.mu.Lock()
		delete(c.players, party.FoldName(a.Name))
		c.mu.Unlock()
		return c.node.Disconnect(ctx, a.ID)
	case "move":
		if len(fields) < 3 {
			return fmt.Errorf("usage: move <name> <server>")
		}
		a, ok := c.actor(fields[1])
		if !ok {
			return fmt.Errorf("unknown player %q", fields[1])
		}
		return c.node.ServerConnected(a, fields[2])
	}

	a, ok := c.actor(fields[0])
	if !ok {
		return fmt.Errorf("unknown player %q", fields[0])
	}
	name := ""
	if len(fields) > 1 {
		name = fields[1]
	}
	var args []string
	if len(fields) > 2 {
		args = fields[2:]
	}
	return c.node.Execute(a, name, args, func(text string) {
		c.printf("[%s] %s\n", a.Name, text)
	})
}
