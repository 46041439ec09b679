package gdpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationHash(t *testing.T) {
	h := NewHasher("salt")

	t.Run("is deterministic", func(t *testing.T) {
		assert.Equal(t, h.Correlation("a@x.sn", "ID1"), h.Correlation("a@x.sn", "ID1"))
	})

	t.Run("is 64 hex chars", func(t *testing.T) {
		assert.Regexp(t, "^[0-9a-f]{64}$", h.Correlation("a@x.sn", "ID1"))
	})

	t.Run("normalizes email casing", func(t *testing.T) {
		assert.Equal(t, h.Correlation("A@X.SN", "ID1"), h.Correlation("a@x.sn", "ID1"))
	})

	t.Run("differs per identifier", func(t *testing.T) {
		base := h.Correlation("a@x.sn", "ID1")
		assert.NotEqual(t, base, h.Correlation("b@x.sn", "ID1"))
		assert.NotEqual(t, base, h.Correlation("a@x.sn", "ID2"))
	})

	t.Run("differs per salt", func(t *testing.T) {
		other := NewHasher("pepper")
		assert.NotEqual(t, h.Correlation("a@x.sn", "ID1"), other.Correlation("a@x.sn", "ID1"))
	})

	t.Run("separator prevents identifier splicing", func(t *testing.T) {
		assert.NotEqual(t, h.Correlation("a@x.sn1", "ID"), h.Correlation("a@x.sn", "1ID"))
	})
}

func TestPlaceholder(t *testing.T) {
	t.Run("is one-way and stable", func(t *testing.T) {
		p := Placeholder("Awa")
		assert.Equal(t, p, Placeholder("Awa"))
		assert.NotContains(t, p, "Awa")
		assert.Contains(t, p, "anon:")
	})

	t.Run("keeps empty fields empty", func(t *testing.T) {
		assert.Empty(t, Placeholder(""))
	})
}
