package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestConsumeCompositeIngredientAtAverageCost(t *testing.T) {
	milk := Product{ID: 1, Name: "Milk", Unit: "L", QuantityOnHand: dec("5"), CostBasis: dec("1.0"), UnitCost: dec("0.2")}
	latte := Product{ID: 2, Name: "Latte", Recipe: []RecipeLine{{IngredientID: 1, QuantityPerUnit: dec("0.2")}}}

	reqs := Expand(latte, dec("2"))
	require.Len(t, reqs, 1)
	requireDecimal(t, "0.4", reqs[0].Quantity)

	c, err := Consume(&milk, reqs[0].Quantity, false)
	require.NoError(t, err)
	requireDecimal(t, "0.2", c.UnitCost)
	requireDecimal(t, "0.08", c.Cost)
	requireDecimal(t, "4.6", milk.QuantityOnHand)
	requireDecimal(t, "0.92", milk.CostBasis)
	requireDecimal(t, "0.2", AverageUnitCost(milk))
}

func TestConsumeSimpleProduct(t *testing.T) {
	p := Product{ID: 1, Name: "Cookie", QuantityOnHand: dec("10"), CostBasis: dec("30"), UnitCost: dec("3")}
	c, err := Consume(&p, dec("2"), false)
	require.NoError(t, err)
	requireDecimal(t, "6", c.Cost)
	requireDecimal(t, "8", p.QuantityOnHand)
	requireDecimal(t, "24", p.CostBasis)
}

func TestConsumeRejectsOverdraw(t *testing.T) {
	p := Product{ID: 1, Name: "Beans", QuantityOnHand: dec("1"), CostBasis: dec("5")}
	_, err := Consume(&p, dec("2"), false)
	require.ErrorIs(t, err, ErrInsufficientStock)
	requireDecimal(t, "1", p.QuantityOnHand)
	requireDecimal(t, "5", p.CostBasis)
}

func TestConsumeAllowNegative(t *testing.T) {
	p := Product{ID: 1, Name: "Beans", QuantityOnHand: dec("1"), CostBasis: dec("5"), UnitCost: dec("5")}
	c, err := Consume(&p, dec("3"), true)
	require.NoError(t, err)
	requireDecimal(t, "15", c.Cost)
	requireDecimal(t, "-2", p.QuantityOnHand)
	require.True(t, p.CostBasis.IsZero())
}

func TestConsumeRejectsNonPositive(t *testing.T) {
	p := Product{QuantityOnHand: dec("1")}
	_, err := Consume(&p, decimal.Zero, false)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReceiveWeightedAverage(t *testing.T) {
	p := Product{QuantityOnHand: dec("10"), CostBasis: dec("100"), UnitCost: dec("10")}
	require.NoError(t, Receive(&p, dec("10"), dec("20")))
	requireDecimal(t, "20", p.QuantityOnHand)
	requireDecimal(t, "300", p.CostBasis)
	requireDecimal(t, "15", AverageUnitCost(p))
	requireDecimal(t, "20", p.UnitCost)
}

func TestReceiveCoversDeficit(t *testing.T) {
	p := Product{QuantityOnHand: dec("-2")}
	require.NoError(t, Receive(&p, dec("5"), dec("4")))
	requireDecimal(t, "3", p.QuantityOnHand)
	requireDecimal(t, "12", p.CostBasis)

	q := Product{QuantityOnHand: dec("-5")}
	require.NoError(t, Receive(&q, dec("2"), dec("4")))
	requireDecimal(t, "-3", q.QuantityOnHand)
	require.True(t, q.CostBasis.IsZero())
}

func TestReceiveValidation(t *testing.T) {
	p := Product{}
	require.ErrorIs(t, Receive(&p, dec("-1"), dec("1")), ErrInvalidQuantity)
	require.ErrorIs(t, Receive(&p, dec("1"), dec("-1")), ErrInvalidUnitCost)
}

func TestConsumeChargesWholeBasisWhenEmptied(t *testing.T) {
	p := Product{ID: 1, Name: "Syrup", QuantityOnHand: dec("3"), CostBasis: dec("10")}
	c, err := Consume(&p, dec("3"), false)
	require.NoError(t, err)
	requireDecimal(t, "10", c.Cost)
	require.True(t, p.CostBasis.IsZero())

	q := Product{ID: 2, Name: "Syrup", QuantityOnHand: dec("3"), CostBasis: dec("10")}
	first, err := Consume(&q, dec("1"), false)
	require.NoError(t, err)
	second, err := Consume(&q, dec("2"), false)
	require.NoError(t, err)
	requireDecimal(t, "10", first.Cost.Add(second.Cost))
	require.True(t, q.CostBasis.IsZero())
}

func TestConsumeOverdrawChargesBasisPlusDeficit(t *testing.T) {
	p := Product{ID: 1, Name: "Syrup", QuantityOnHand: dec("3"), CostBasis: dec("12")}
	c, err := Consume(&p, dec("6"), true)
	require.NoError(t, err)
	requireDecimal(t, "24", c.Cost)
	requireDecimal(t, "-3", p.QuantityOnHand)
}

func TestReceiveValueKeepsExactBasis(t *testing.T) {
	p := Product{QuantityOnHand: dec("2"), CostBasis: dec("1")}
	require.NoError(t, ReceiveValue(&p, dec("3"), dec("10")))
	requireDecimal(t, "5", p.QuantityOnHand)
	requireDecimal(t, "11", p.CostBasis)
	requireDecimal(t, "3.3333333333333333", p.UnitCost)

	require.ErrorIs(t, ReceiveValue(&p, decimal.Zero, dec("1")), ErrInvalidQuantity)
	require.ErrorIs(t, ReceiveValue(&p, dec("1"), dec("-1")), ErrInvalidUnitCost)
}
