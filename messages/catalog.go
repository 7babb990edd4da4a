// Package messages renders player-facing text from a keyed catalog. A
// catalog is a nested YAML document flattened to dotted keys
// ("command.invite.sent"); values use {0}, {1}, ... placeholders and the
// %prefix% token, which expands to the catalog's top-level "prefix" entry.
// Markup inside values is passed through untouched for the proxy to render.
package messages

import (
	_ "embed"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

const prefixKey = "prefix"

// Catalog is safe for concurrent use; Reload swaps its contents atomically.
type Catalog struct {
	mu       sync.RWMutex
	prefix   string
	messages map[string]string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	m, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("messages: invalid built-in catalog: %v", err))
	}
	c := &Catalog{}
	c.set(m)
	return c
}

// Load reads a catalog from r. Keys it does not define fall back to the
// built-in catalog.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	c := Default()
	if err := c.merge(data); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads a catalog override file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Reload replaces the catalog contents with the built-in catalog overlaid by
// the file at path. On error the current contents are kept.
func (c *Catalog) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	next := Default()
	if err := next.merge(data); err != nil {
		return err
	}
	next.mu.RLock()
	m := next.messages
	p := next.prefix
	next.mu.RUnlock()

	c.mu.Lock()
	c.messages = m
	c.prefix = p
	c.mu.Unlock()
	return nil
}

func (c *Catalog) merge(data []byte) error {
	overrides, err := parse(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := maps.Clone(c.messages)
	maps.Copy(m, overrides)
	c.setLocked(m)
	return nil
}

func (c *Catalog) set(m map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(m)
}

func (c *Catalog) setLocked(m map[string]string) {
	c.messages = m
	c.prefix = m[prefixKey]
}

// Render formats the message at key with args. An unknown key renders as
// the key itself so a missing translation is visible rather than silent.
func (c *Catalog) Render(key string, args ...any) string {
	c.mu.RLock()
	tmpl, ok := c.messages[key]
	prefix := c.prefix
	c.mu.RUnlock()
	if !ok {
		tmpl = key
	}
	return strings.ReplaceAll(substitute(tmpl, args), "%prefix%", prefix)
}

// Has reports whether key is defined.
func (c *Catalog) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.messages[key]
	return ok
}

// Keys returns every defined key in sorted order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.messages))
}

// substitute replaces {n} with the n-th argument. Placeholders without a
// matching argument are left as written.
func substitute(tmpl string, args []any) string {
	if len(args) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '{' {
			if end := strings.IndexByte(tmpl[i:], '}'); end > 1 {
				if n, err := strconv.Atoi(tmpl[i+1 : i+end]); err == nil && n >= 0 && n < len(args) {
					fmt.Fprint(&b, args[n])
					i += end
					continue
				}
			}
		}
		b.WriteByte(tmpl[i])
	}
	return b.String()
}

// parse flattens a catalog document. An empty document yields no entries;
// any other root than a mapping is rejected.
func parse(data []byte) (map[string]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	out := make(map[string]string)
	if root.Kind == 0 {
		return out, nil
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse catalog: root must be a mapping (line %d)", root.Line)
	}
	var doc map[string]any
	if err := root.Content[0].Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	flatten(out, "", doc)
	return out, nil
}

func flatten(out map[string]string, prefix string, doc map[string]any) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := v.(type) {
		case map[string]any:
			flatten(out, key, v)
		case nil:
		default:
			out[key] = fmt.Sprint(v)
		}
	}
}
