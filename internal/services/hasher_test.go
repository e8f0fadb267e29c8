package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/tablesync/internal/models"
)

func TestHasher_DeterministicAcrossFieldOrder(t *testing.T) {
	h := NewHasher(nil)

	r1 := models.Row{}
	r1["id"] = float64(5)
	r1["name"] = "soup"
	r1["kcal"] = 120.5

	r2 := models.Row{}
	r2["kcal"] = 120.5
	r2["name"] = "soup"
	r2["id"] = float64(5)

	assert.Equal(t, h.Hash(r1), h.Hash(r2))
}

func TestHasher_DiffersOnAnyValueChange(t *testing.T) {
	h := NewHasher(nil)

	base := models.Row{"id": float64(5), "name": "soup", "vegan": true}
	assert.NotEqual(t, h.Hash(base), h.Hash(models.Row{"id": float64(5), "name": "stew", "vegan": true}))
	assert.NotEqual(t, h.Hash(base), h.Hash(models.Row{"id": float64(5), "name": "soup", "vegan": false}))
	assert.NotEqual(t, h.Hash(base), h.Hash(models.Row{"id": float64(6), "name": "soup", "vegan": true}))
}

func TestHasher_FieldBoundariesMatter(t *testing.T) {
	// Without length framing ("a","bc") and ("ab","c") would collide.
	h := NewHasher(nil)
	assert.NotEqual(t,
		h.Hash(models.Row{"a": "bc"}),
		h.Hash(models.Row{"ab": "c"}))
}

func TestHasher_ExcludesVolatileColumns(t *testing.T) {
	h := NewHasher([]string{"ingested_at"})

	r1 := models.Row{"id": float64(1), "name": "soup", "ingested_at": "2026-01-01T00:00:00Z"}
	r2 := models.Row{"id": float64(1), "name": "soup", "ingested_at": "2026-02-02T12:00:00Z"}
	assert.Equal(t, h.Hash(r1), h.Hash(r2))
}

func TestHasher_IntegralFloatMatchesInt(t *testing.T) {
	// A row decoded from JSON (float64) must hash like the same row
	// carried with native integers.
	h := NewHasher(nil)
	assert.Equal(t,
		h.Hash(models.Row{"id": float64(42)}),
		h.Hash(models.Row{"id": int64(42)}))
}

func TestCanonicalKey_StableAndInvertible(t *testing.T) {
	pk := []string{"recipe_id", "user_id"}
	row := models.Row{"recipe_id": float64(7), "user_id": "bob", "rating": float64(4)}

	key := CanonicalKey(row, pk)
	require.NotEmpty(t, key)
	assert.Equal(t, key, CanonicalKey(row, pk))

	values := keyValuesFromCanonical(key, pk)
	assert.Equal(t, int64(7), values["recipe_id"])
	assert.Equal(t, "bob", values["user_id"])
}

func TestCanonicalKey_DistinguishesKeys(t *testing.T) {
	pk := []string{"a", "b"}
	assert.NotEqual(t,
		CanonicalKey(models.Row{"a": "x", "b": "y"}, pk),
		CanonicalKey(models.Row{"a": "xy", "b": ""}, pk))
}

func TestCanonicalKey_ValueBoundariesMatter(t *testing.T) {
	// Composite keys must stay distinct even when a value contains bytes
	// that look like the encoding of a neighboring column.
	pk := []string{"a", "b"}
	left := models.Row{"a": "x", "b": "y\x1fs:z"}
	right := models.Row{"a": "x\x1fs:y", "b": "z"}
	assert.NotEqual(t, CanonicalKey(left, pk), CanonicalKey(right, pk))

	values := keyValuesFromCanonical(CanonicalKey(left, pk), pk)
	assert.Equal(t, "x", values["a"])
	assert.Equal(t, "y\x1fs:z", values["b"])
}

func TestCanonicalKey_InvertsTypedValues(t *testing.T) {
	pk := []string{"id", "slug", "active"}
	row := models.Row{"id": float64(42), "slug": "a:1:b", "active": true}

	values := keyValuesFromCanonical(CanonicalKey(row, pk), pk)
	assert.Equal(t, int64(42), values["id"])
	assert.Equal(t, "a:1:b", values["slug"])
	assert.Equal(t, true, values["active"])
}

func TestEncodeValue_HugeIntegralFloats(t *testing.T) {
	// Integral floats beyond int64 range must keep the float encoding;
	// an out-of-range int64 conversion would fold distinct values.
	huge := float64(1 << 63)
	bigger := huge * 2
	assert.NotEqual(t, encodeValue(huge), encodeValue(bigger))
	assert.Contains(t, encodeValue(huge), "f:")

	h := NewHasher(nil)
	assert.NotEqual(t,
		h.Hash(models.Row{"id": huge}),
		h.Hash(models.Row{"id": bigger}))
}
