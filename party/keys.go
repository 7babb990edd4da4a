package party

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Keys builds store keys under an optional deployment prefix.
type Keys struct {
	Prefix string
}

// Party addresses the record of party id.
func (k Keys) Party(id uuid.UUID) string { return k.Prefix + "party:" + id.String() }

// Player addresses the presence record of player id.
func (k Keys) Player(id uuid.UUID) string { return k.Prefix + "party_player:" + id.String() }

// Setting addresses one stored preference of player id.
func (k Keys) Setting(id uuid.UUID, kind string) string {
	return k.Prefix + "party_settings:" + id.String() + ":" + kind
}

// PlayerPattern matches every presence key.
func (k Keys) PlayerPattern() string { return k.Prefix + "party_player:*" }

// Request addresses the invitation from source to target.
func (k Keys) Request(source, target string) string {
	return k.Prefix + "request:" + FoldName(source) + ":" + FoldName(target)
}

// RequestPattern matches every invitation sent by source.
func (k Keys) RequestPattern(source string) string {
	return escapeGlob(k.Prefix+"request:"+FoldName(source)+":") + "*"
}

// FoldName normalizes a username for case-insensitive comparison.
func FoldName(name string) string {
	// A Caser carries state; one per call keeps FoldName goroutine safe.
	return cases.Fold().String(name)
}

// SameName compares usernames case-insensitively.
func SameName(a, b string) bool { return FoldName(a) == FoldName(b) }

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }
