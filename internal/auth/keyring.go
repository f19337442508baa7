package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type keyEntry struct {
	digest   [sha256.Size]byte
	identity Identity
}

// KeyRing holds API keys by SHA-256 digest only.
type KeyRing struct {
	entries []keyEntry
}

// ParseKeyRing reads comma separated entries of the form
// key:caller:role|role. A key written as sha256=<hex> is taken as an
// already hashed key, so plaintext keys need not live in the environment.
func ParseKeyRing(raw string) (*KeyRing, error) {
	ring := &KeyRing{}
	seen := map[[sha256.Size]byte]bool{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("api key entry %q: want key:caller:roles", redact(entry))
		}
		digest, err := keyDigest(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("api key entry %q: %w", redact(entry), err)
		}
		if seen[digest] {
			return nil, fmt.Errorf("api key entry %q: duplicate key", redact(entry))
		}
		seen[digest] = true

		caller := strings.TrimSpace(fields[1])
		if caller == "" {
			return nil, fmt.Errorf("api key entry %q: caller is required", redact(entry))
		}
		roles, err := parseRoles(fields[2])
		if err != nil {
			return nil, fmt.Errorf("api key entry %q: %w", redact(entry), err)
		}
		ring.entries = append(ring.entries, keyEntry{digest: digest, identity: Identity{Caller: caller, Roles: roles}})
	}
	return ring, nil
}

func (k *KeyRing) Len() int {
	return len(k.entries)
}

// Validate compares the key digest against every entry in constant time.
func (k *KeyRing) Validate(_ context.Context, apiKey string) (Identity, bool) {
	if apiKey == "" {
		return Identity{}, false
	}
	digest := sha256.Sum256([]byte(apiKey))
	var match Identity
	found := 0
	for _, entry := range k.entries {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			match = entry.identity
			found = 1
		}
	}
	if found == 0 {
		return Identity{}, false
	}
	match.Roles = slices.Clone(match.Roles)
	return match, true
}

func keyDigest(key string) ([sha256.Size]byte, error) {
	var digest [sha256.Size]byte
	if hexDigest, ok := strings.CutPrefix(key, "sha256="); ok {
		raw, err := hex.DecodeString(hexDigest)
		if err != nil || len(raw) != sha256.Size {
			return digest, fmt.Errorf("sha256 key must be 64 hex characters")
		}
		copy(digest[:], raw)
		return digest, nil
	}
	if key == "" {
		return digest, fmt.Errorf("key is required")
	}
	return sha256.Sum256([]byte(key)), nil
}

func parseRoles(raw string) ([]string, error) {
	var roles []string
	for _, role := range strings.Split(raw, "|") {
		role = strings.TrimSpace(role)
		if role == "" || slices.Contains(roles, role) {
			continue
		}
		if !slices.Contains(knownRoles, role) {
			return nil, fmt.Errorf("unknown role %q", role)
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}
	slices.Sort(roles)
	return roles, nil
}

// redact hides the key part of an entry in error messages.
func redact(entry string) string {
	if i := strings.Index(entry, ":"); i >= 0 {
		return "***" + entry[i:]
	}
	return "***"
}
