package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "grantflow/pkg/domain-errors"
)

// TestDeriveProfileID_Determinism validates the derivation invariant:
// identical (owner, nonce, name) triples always produce the same id, and
// changing any field produces a different one.
func TestDeriveProfileID_Determinism(t *testing.T) {
	owner := Address("0x00000000000000000000000000000000000000a1")
	other := Address("0x00000000000000000000000000000000000000b2")

	base := DeriveProfileID(owner, 0, "alice")

	t.Run("same inputs, same id", func(t *testing.T) {
		assert.Equal(t, base, DeriveProfileID(owner, 0, "alice"))
	})

	t.Run("different owner, different id", func(t *testing.T) {
		assert.NotEqual(t, base, DeriveProfileID(other, 0, "alice"))
	})

	t.Run("different nonce, different id", func(t *testing.T) {
		assert.NotEqual(t, base, DeriveProfileID(owner, 1, "alice"))
	})

	t.Run("different name, different id", func(t *testing.T) {
		assert.NotEqual(t, base, DeriveProfileID(owner, 0, "alicia"))
	})
}

// TestDeriveAnchor validates that anchors are pure functions of the profile
// id and never collide with the owner address space by construction.
func TestDeriveAnchor(t *testing.T) {
	owner := Address("0x00000000000000000000000000000000000000a1")
	id1 := DeriveProfileID(owner, 0, "alice")
	id2 := DeriveProfileID(owner, 1, "alice")

	assert.Equal(t, DeriveAnchor(id1), DeriveAnchor(id1))
	assert.NotEqual(t, DeriveAnchor(id1), DeriveAnchor(id2))

	anchor := DeriveAnchor(id1)
	parsed, err := ParseAddress(anchor.String())
	require.NoError(t, err)
	assert.Equal(t, anchor, parsed)
}

// TestParseAddress_Invariants validates parsing at trust boundaries:
// addresses must be well-formed, non-empty, non-zero.
func TestParseAddress_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"empty string", "", true},
		{"missing prefix", strings.Repeat("a", 40), true},
		{"too short", "0xabc", true},
		{"too long", "0x" + strings.Repeat("a", 41), true},
		{"non-hex characters", "0x" + strings.Repeat("z", 40), true},
		{"zero address", string(ZeroAddress), true},
		{"whitespace only", "   ", true},
		{"valid lowercase", "0x" + strings.Repeat("ab", 20), false},
		{"valid uppercase normalized", "0x" + strings.Repeat("AB", 20), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
				assert.Equal(t, strings.ToLower(strings.TrimSpace(tt.input)), got.String())
			}
		})
	}
}

func TestParseProfileID_RoundTrip(t *testing.T) {
	owner := Address("0x00000000000000000000000000000000000000a1")
	id := DeriveProfileID(owner, 7, "bob")

	parsed, err := ParseProfileID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseProfileID("0x1234")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestParsePoolID(t *testing.T) {
	got, err := ParsePoolID("42")
	require.NoError(t, err)
	assert.Equal(t, PoolID(42), got)

	for _, bad := range []string{"", "0", "-1", "abc"} {
		_, err := ParsePoolID(bad)
		require.Error(t, err, "input %q", bad)
	}
}
