// Package cred holds the allow-list that maps a verified caller identity to
// the backend service credential used on its behalf.
package cred

import (
	"sort"
	"strings"
)

// Credential is a backend service credential provisioned for one identity.
type Credential struct {
	// Identity is an email address or an identity-provider subject id.
	Identity string
	// Key is the opaque backend API key sent upstream as a bearer token.
	Key string
	// Source records where the entry was defined, e.g. "env:USER_2" or "config".
	Source string
}

// Map is the immutable identity -> credential allow-list. It is built once at
// startup and is safe for concurrent reads.
type Map struct {
	byIdentity map[string]Credential
}

// NewMap builds a Map from creds. Entries with an empty identity or key are
// ignored; when an identity appears twice the later entry wins.
func NewMap(creds []Credential) *Map {
	m := &Map{byIdentity: make(map[string]Credential, len(creds))}
	for _, c := range creds {
		c.Identity = strings.TrimSpace(c.Identity)
		if c.Identity == "" || c.Key == "" {
			continue
		}
		m.byIdentity[c.Identity] = c
	}
	return m
}

// Lookup resolves the credential for a caller, trying the email first and the
// subject id second. Empty values never match.
func (m *Map) Lookup(email, subject string) (Credential, bool) {
	if email != "" {
		if c, ok := m.byIdentity[email]; ok {
			return c, true
		}
	}
	if subject != "" {
		if c, ok := m.byIdentity[subject]; ok {
			return c, true
		}
	}
	return Credential{}, false
}

// Len returns the number of provisioned identities.
func (m *Map) Len() int {
	return len(m.byIdentity)
}

// List returns all credentials sorted by identity.
func (m *Map) List() []Credential {
	out := make([]Credential, 0, len(m.byIdentity))
	for _, c := range m.byIdentity {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
