package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupByNameAndEventType(t *testing.T) {
	tbl, ok := ForEventType("Feeding")
	require.True(t, ok)
	assert.Equal(t, "feedings", tbl.Name)

	_, ok = ForEventType("bath")
	assert.False(t, ok)

	tbl, ok = Lookup("sleep_sessions")
	require.True(t, ok)
	assert.Equal(t, "sleep", tbl.EventType)

	_, ok = Lookup("users")
	assert.False(t, ok)
}

func TestNormalizePatchDropsUnknownAndInvalid(t *testing.T) {
	tbl, _ := Lookup("feedings")
	out := tbl.NormalizePatch(map[string]any{
		"amount_ml":    float64(150),
		"feeding_type": "smoothie",
		"side":         "left",
		"baby_id":      "someone-else",
		"updated_at":   "2026-01-01T00:00:00Z",
		"notes":        "  burped twice ",
		"happened_at":  "2026-02-01T10:00:00.5Z",
	})

	assert.Equal(t, int64(150), out["amount_ml"])
	assert.Equal(t, "left", out["side"])
	assert.Equal(t, "burped twice", out["notes"])
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 500000000, time.UTC), out["happened_at"])
	assert.NotContains(t, out, "feeding_type")
	assert.NotContains(t, out, "baby_id")
	assert.NotContains(t, out, "updated_at")
}

func TestNormalizePatchNullClearsOptionalOnly(t *testing.T) {
	tbl, _ := Lookup("feedings")
	out := tbl.NormalizePatch(map[string]any{"amount_ml": nil, "feeding_type": nil, "happened_at": nil})
	assert.Contains(t, out, "amount_ml")
	assert.Nil(t, out["amount_ml"])
	assert.NotContains(t, out, "feeding_type")
	assert.NotContains(t, out, "happened_at")
}

func TestNormalizePatchRejectsFractionalAndOutOfRange(t *testing.T) {
	tbl, _ := Lookup("feedings")
	out := tbl.NormalizePatch(map[string]any{"amount_ml": 12.5, "duration_minutes": float64(9000)})
	assert.Empty(t, out)
}

func TestNormalizeInsert(t *testing.T) {
	tbl, _ := Lookup("diaper_changes")

	out, err := tbl.NormalizeInsert(map[string]any{"diaper_kind": "wet", "extra": true})
	require.NoError(t, err)
	assert.Equal(t, "wet", out["diaper_kind"])
	assert.Nil(t, out["color"])
	assert.NotContains(t, out, "extra")

	_, err = tbl.NormalizeInsert(map[string]any{"color": "green"})
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "diaper_kind", fe.Field)

	_, err = tbl.NormalizeInsert(map[string]any{"diaper_kind": "sparkly"})
	require.Error(t, err)
}

func TestEveryTableHasRequiredHappenedAt(t *testing.T) {
	for _, tbl := range Tables() {
		f, ok := tbl.Field(HappenedAt)
		require.True(t, ok, tbl.Name)
		assert.Equal(t, Time, f.Kind)
		assert.NotEmpty(t, tbl.Columns())
	}
}
