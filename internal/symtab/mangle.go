package symtab

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Mangler turns human readable names into the canonical form used as
// dictionary keys by the session and by object files.
type Mangler struct {
	Pool         *Pool
	GlobalPrefix string
}

// NewMangler creates a mangler over pool with the target's global prefix.
func NewMangler(pool *Pool, globalPrefix string) *Mangler {
	return &Mangler{Pool: pool, GlobalPrefix: globalPrefix}
}

// Canonical returns the mangled text without interning it.
func (m *Mangler) Canonical(name string) string {
	name = norm.NFC.String(name)
	if m.GlobalPrefix == "" {
		return name
	}
	return m.GlobalPrefix + name
}

// Mangle canonicalises name and interns the result.
func (m *Mangler) Mangle(name string) Name {
	return m.Pool.Intern(m.Canonical(name))
}

// Demangle strips the global prefix from a mangled name.
func (m *Mangler) Demangle(n Name) string {
	return strings.TrimPrefix(n.String(), m.GlobalPrefix)
}
