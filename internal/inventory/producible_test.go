package inventory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaxProducibleNoRecipe(t *testing.T) {
	got := MaxProducible(Product{ID: 1}, nil)
	require.Equal(t, int64(0), got.MaxUnits)
	require.Nil(t, got.LimitingIngredient)
}

func TestMaxProducibleLimitingIngredient(t *testing.T) {
	product := Product{ID: 3, Recipe: []RecipeLine{
		{IngredientID: 1, QuantityPerUnit: dec("2")},
		{IngredientID: 2, QuantityPerUnit: dec("1")},
	}}
	ingredients := map[int64]Product{
		1: {ID: 1, Name: "A", QuantityOnHand: dec("10")},
		2: {ID: 2, Name: "B", QuantityOnHand: dec("3")},
	}
	got := MaxProducible(product, ingredients)
	require.Equal(t, int64(3), got.MaxUnits)
	require.NotNil(t, got.LimitingIngredient)
	require.Equal(t, "B", *got.LimitingIngredient)
}

func TestMaxProducibleFloorsAndClamps(t *testing.T) {
	product := Product{ID: 3, Recipe: []RecipeLine{{IngredientID: 1, QuantityPerUnit: dec("0.3")}}}
	got := MaxProducible(product, map[int64]Product{1: {ID: 1, Name: "Milk", QuantityOnHand: dec("1")}})
	require.Equal(t, int64(3), got.MaxUnits)

	got = MaxProducible(product, map[int64]Product{1: {ID: 1, Name: "Milk", QuantityOnHand: dec("-2")}})
	require.Equal(t, int64(0), got.MaxUnits)
	require.Equal(t, "Milk", *got.LimitingIngredient)
}

func TestMaxProducibleSkipsMissingIngredients(t *testing.T) {
	product := Product{ID: 3, Recipe: []RecipeLine{
		{IngredientID: 1, QuantityPerUnit: dec("1")},
		{IngredientID: 99, QuantityPerUnit: dec("1")},
	}}
	got := MaxProducible(product, map[int64]Product{1: {ID: 1, Name: "A", QuantityOnHand: dec("4")}})
	require.Equal(t, int64(4), got.MaxUnits)
}

func TestExpandAndIngredientIDs(t *testing.T) {
	product := Product{Recipe: []RecipeLine{
		{IngredientID: 5, QuantityPerUnit: dec("1.5")},
		{IngredientID: 2, QuantityPerUnit: dec("0.25")},
	}}
	reqs := Expand(product, dec("4"))
	require.Len(t, reqs, 2)
	requireDecimal(t, "6", reqs[0].Quantity)
	requireDecimal(t, "1", reqs[1].Quantity)
	require.Equal(t, []int64{2, 5}, IngredientIDs(product))
	require.Nil(t, Expand(Product{}, dec("1")))
}
