package merge

import (
	"math"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func quantities(items []domain.CartItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ProductID] = it.Quantity
	}
	return out
}

func mustAdditive(t *testing.T, existing []domain.CartItem, incoming []domain.LineMutation, now time.Time) []domain.CartItem {
	t.Helper()
	items, err := Additive(existing, incoming, now)
	require.NoError(t, err)
	return items
}

func mustAbsolute(t *testing.T, existing []domain.CartItem, incoming []domain.LineMutation, now time.Time) []domain.CartItem {
	t.Helper()
	items, err := Absolute(existing, incoming, now)
	require.NoError(t, err)
	return items
}

func TestAdditive_InsertsIntoEmptyCart(t *testing.T) {
	got := mustAdditive(t, nil, []domain.LineMutation{{ProductID: "a", Quantity: 2}}, now)

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ProductID)
	assert.Equal(t, 2, got[0].Quantity)
	assert.Equal(t, now, got[0].AddedAt)
}

func TestAdditive_AddsToExistingQuantity(t *testing.T) {
	existing := []domain.CartItem{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 4}}

	got := mustAdditive(t, existing, []domain.LineMutation{{ProductID: "a", Quantity: 2}}, now)

	assert.Equal(t, map[string]int{"a": 3, "b": 4}, quantities(got))
}

func TestAdditive_SameProductInBatch_LastEntryWins(t *testing.T) {
	batch := []domain.LineMutation{{ProductID: "x", Quantity: 2}, {ProductID: "x", Quantity: 3}}

	got := mustAdditive(t, nil, batch, now)
	assert.Equal(t, map[string]int{"x": 3}, quantities(got))

	got = mustAdditive(t, []domain.CartItem{{ProductID: "x", Quantity: 1}}, batch, now)
	assert.Equal(t, map[string]int{"x": 4}, quantities(got))
}

func TestAdditive_TotalsCommuteAcrossBatches(t *testing.T) {
	first := mustAdditive(t, nil, []domain.LineMutation{{ProductID: "p", Quantity: 2}}, now)
	first = mustAdditive(t, first, []domain.LineMutation{{ProductID: "p", Quantity: 3}}, now)

	second := mustAdditive(t, nil, []domain.LineMutation{{ProductID: "p", Quantity: 3}}, now)
	second = mustAdditive(t, second, []domain.LineMutation{{ProductID: "p", Quantity: 2}}, now)

	assert.Equal(t, 5, quantities(first)["p"])
	assert.Equal(t, quantities(first), quantities(second))
}

func TestAdditive_IgnoresNonPositiveQuantity(t *testing.T) {
	got := mustAdditive(t, []domain.CartItem{{ProductID: "a", Quantity: 1}}, []domain.LineMutation{{ProductID: "b", Quantity: 0}}, now)
	assert.Equal(t, map[string]int{"a": 1}, quantities(got))
}

func TestAbsolute_Rules(t *testing.T) {
	existing := []domain.CartItem{
		{ProductID: "keep", Quantity: 1},
		{ProductID: "drop", Quantity: 2},
		{ProductID: "change", Quantity: 3},
	}
	batch := []domain.LineMutation{
		{ProductID: "drop", Quantity: 0},
		{ProductID: "change", Quantity: 5},
		{ProductID: "new", Quantity: 3},
		{ProductID: "ghost", Quantity: -1},
	}

	got := mustAbsolute(t, existing, batch, now)

	assert.Equal(t, map[string]int{"keep": 1, "change": 5, "new": 3}, quantities(got))
	for _, it := range got {
		assert.Positive(t, it.Quantity)
	}
}

func TestAbsolute_RemoveThenInsert(t *testing.T) {
	got := mustAbsolute(t, 
		[]domain.CartItem{{ProductID: "A", Quantity: 2}},
		[]domain.LineMutation{{ProductID: "A", Quantity: 0}, {ProductID: "B", Quantity: 4}},
		now,
	)

	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].ProductID)
	assert.Equal(t, 4, got[0].Quantity)
}

func TestAbsolute_RemovalIsIdempotent(t *testing.T) {
	existing := []domain.CartItem{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 1}}
	remove := []domain.LineMutation{{ProductID: "a", Quantity: 0}}

	once := mustAbsolute(t, existing, remove, now)
	twice := mustAbsolute(t, once, remove, now)

	assert.Equal(t, once, twice)
	assert.NotContains(t, quantities(twice), "a")
}

func TestAbsolute_LaterEntryOverridesEarlier(t *testing.T) {
	existing := []domain.CartItem{{ProductID: "a", Quantity: 2}}

	got := mustAbsolute(t, existing, []domain.LineMutation{{ProductID: "a", Quantity: 0}, {ProductID: "a", Quantity: 7}}, now)
	assert.Equal(t, map[string]int{"a": 7}, quantities(got))

	got = mustAbsolute(t, existing, []domain.LineMutation{{ProductID: "a", Quantity: 7}, {ProductID: "a", Quantity: 0}}, now)
	assert.Empty(t, got)
}

func TestAbsolute_RemovalsOnEmptySet(t *testing.T) {
	got := mustAbsolute(t, nil, []domain.LineMutation{{ProductID: "a", Quantity: 0}}, now)

	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEmptyBatchIsIdentity(t *testing.T) {
	existing := []domain.CartItem{{ProductID: "a", Quantity: 2, AddedAt: now.Add(-time.Hour)}}

	assert.Equal(t, existing, mustAdditive(t, existing, nil, now))
	assert.Equal(t, existing, mustAbsolute(t, existing, nil, now))
}

func TestInputsAreNotMutated(t *testing.T) {
	existing := []domain.CartItem{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 1}}
	snapshot := append([]domain.CartItem(nil), existing...)
	batch := []domain.LineMutation{{ProductID: "a", Quantity: 0}, {ProductID: "b", Quantity: 9}, {ProductID: "c", Quantity: 1}}
	batchSnapshot := append([]domain.LineMutation(nil), batch...)

	_ = mustAbsolute(t, existing, batch, now)
	_ = mustAdditive(t, existing, batch, now)

	assert.Equal(t, snapshot, existing)
	assert.Equal(t, batchSnapshot, batch)
}

func TestAdditive_RejectsSumPastLimit(t *testing.T) {
	existing := []domain.CartItem{{ProductID: "a", Quantity: domain.MaxLineQuantity}}

	got, err := Additive(existing, []domain.LineMutation{{ProductID: "a", Quantity: 1}}, now)

	assert.ErrorIs(t, err, ErrQuantityLimit)
	assert.Nil(t, got)
	assert.Equal(t, domain.MaxLineQuantity, existing[0].Quantity)
}

func TestAdditive_NeverWrapsAtMaxInt(t *testing.T) {
	existing := []domain.CartItem{{ProductID: "a", Quantity: math.MaxInt}}

	_, err := Additive(existing, []domain.LineMutation{{ProductID: "a", Quantity: 1}}, now)
	assert.ErrorIs(t, err, ErrQuantityLimit)

	_, err = Additive(nil, []domain.LineMutation{{ProductID: "b", Quantity: math.MaxInt}}, now)
	var qe *QuantityLimitError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "b", qe.ProductID)
}

func TestAdditive_UpToLimitIsAccepted(t *testing.T) {
	existing := []domain.CartItem{{ProductID: "a", Quantity: domain.MaxLineQuantity - 1}}

	got := mustAdditive(t, existing, []domain.LineMutation{{ProductID: "a", Quantity: 1}}, now)
	assert.Equal(t, domain.MaxLineQuantity, got[0].Quantity)
}

func TestAbsolute_RejectsQuantityPastLimit(t *testing.T) {
	_, err := Absolute(nil, []domain.LineMutation{{ProductID: "a", Quantity: math.MaxInt}}, now)
	assert.ErrorIs(t, err, ErrQuantityLimit)
}
