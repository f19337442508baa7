package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyRingResolvesCallers(t *testing.T) {
	ring, err := ParseKeyRing("k1:analyst:query_reader|history_reader, k2:auditor:history_reader")
	require.NoError(t, err)
	assert.Equal(t, 2, ring.Len())

	identity, ok := ring.Validate(context.Background(), "k1")
	require.True(t, ok)
	assert.Equal(t, "analyst", identity.Caller)
	assert.Equal(t, []string{RoleHistoryReader, RoleQueryReader}, identity.Roles)

	identity, ok = ring.Validate(context.Background(), "k2")
	require.True(t, ok)
	assert.False(t, identity.HasRole(RoleQueryReader))

	_, ok = ring.Validate(context.Background(), "k3")
	assert.False(t, ok)
	_, ok = ring.Validate(context.Background(), "")
	assert.False(t, ok)
}

func TestParseKeyRingAcceptsHashedKeys(t *testing.T) {
	sum := sha256.Sum256([]byte("s3cret"))
	ring, err := ParseKeyRing("sha256=" + hex.EncodeToString(sum[:]) + ":dashboard:query_reader")
	require.NoError(t, err)

	identity, ok := ring.Validate(context.Background(), "s3cret")
	require.True(t, ok)
	assert.Equal(t, "dashboard", identity.Caller)

	_, ok = ring.Validate(context.Background(), "sha256="+hex.EncodeToString(sum[:]))
	assert.False(t, ok, "the digest itself must not authenticate")
}

func TestParseKeyRingRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing fields":  "k1:analyst",
		"empty caller":    "k1::query_reader",
		"no roles":        "k1:analyst:",
		"unknown role":    "k1:analyst:admin",
		"duplicate key":   "k1:a:query_reader,k1:b:query_reader",
		"short digest":    "sha256=abcd:a:query_reader",
		"empty key":       ":analyst:query_reader",
		"hash equals key": "sha256=" + strings.Repeat("zz", 32) + ":a:query_reader",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseKeyRing(raw)
			require.Error(t, err)
			assert.NotContains(t, err.Error(), "k1:", "errors must not echo the key")
		})
	}
}

func TestEmptyKeyRingRejectsEverything(t *testing.T) {
	ring, err := ParseKeyRing("  ")
	require.NoError(t, err)
	assert.Zero(t, ring.Len())
	_, ok := ring.Validate(context.Background(), "anything")
	assert.False(t, ok)
}

func TestValidateReturnsIndependentRoles(t *testing.T) {
	ring, err := ParseKeyRing("k1:analyst:query_reader")
	require.NoError(t, err)
	first, _ := ring.Validate(context.Background(), "k1")
	first.Roles[0] = "tampered"
	second, _ := ring.Validate(context.Background(), "k1")
	assert.Equal(t, []string{RoleQueryReader}, second.Roles)
}
