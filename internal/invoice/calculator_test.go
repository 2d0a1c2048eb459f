package invoice

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var tolerance = decimal.RequireFromString("0.000000001")

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func amount(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(v))
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected %s, got %s", want, got)
}

func requireClose(t *testing.T, want, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, want.Sub(got).Abs().LessThanOrEqual(tolerance), "expected %s within tolerance, got %s", want, got)
}

func phoneAndCase() []LineItem {
	return []LineItem{
		{Name: "Phone", UnitPrice: dec("100"), Quantity: 2},
		{Name: "Case", UnitPrice: dec("10"), Quantity: 1},
	}
}

func TestComputeTotalsPlain(t *testing.T) {
	totals := ComputeTotals(phoneAndCase(), RedistributionPolicy{}, nil)
	requireDecimal(t, "210", totals.ItemsTotal)
	requireDecimal(t, "0", totals.FeesTotal)
	requireDecimal(t, "210", totals.GrandTotal)
	require.False(t, totals.Redistributed)
}

func TestProportionalRedistribution(t *testing.T) {
	policy := RedistributionPolicy{Enabled: true, Amount: amount("21"), Method: MethodProportional}
	adjustments := ComputeLineAdjustments(phoneAndCase(), policy)
	require.Len(t, adjustments, 2)

	phone, accessory := adjustments[0], adjustments[1]
	requireDecimal(t, "200", phone.OriginalSubtotal)
	requireDecimal(t, "20", phone.RedistributedAmount)
	requireDecimal(t, "110", phone.AdjustedUnitPrice)
	requireClose(t, dec("200").Div(dec("210")), phone.Weight)

	requireDecimal(t, "10", accessory.OriginalSubtotal)
	requireDecimal(t, "1", accessory.RedistributedAmount)
	requireDecimal(t, "11", accessory.AdjustedUnitPrice)

	totals := ComputeTotals(phoneAndCase(), policy, nil)
	requireDecimal(t, "231", totals.ItemsTotal)
	requireDecimal(t, "231", totals.GrandTotal)
	require.True(t, totals.Redistributed)
}

func TestEqualRedistribution(t *testing.T) {
	policy := RedistributionPolicy{Enabled: true, Amount: amount("20"), Method: MethodEqual}
	adjustments := ComputeLineAdjustments(phoneAndCase(), policy)
	require.Len(t, adjustments, 2)

	requireDecimal(t, "10", adjustments[0].RedistributedAmount)
	requireDecimal(t, "105", adjustments[0].AdjustedUnitPrice)
	requireDecimal(t, "0.5", adjustments[0].Weight)
	requireDecimal(t, "10", adjustments[1].RedistributedAmount)
	requireDecimal(t, "20", adjustments[1].AdjustedUnitPrice)

	totals := ComputeTotals(phoneAndCase(), policy, nil)
	requireDecimal(t, "230", totals.ItemsTotal)
}

func TestInvalidLineExcludedFromRedistribution(t *testing.T) {
	lines := append(phoneAndCase(), LineItem{Name: "", UnitPrice: decimal.Zero, Quantity: 1})
	policy := RedistributionPolicy{Enabled: true, Amount: amount("21"), Method: MethodProportional}

	adjustments := ComputeLineAdjustments(lines, policy)
	require.Len(t, adjustments, 2)
	requireDecimal(t, "20", adjustments[0].RedistributedAmount)
	requireDecimal(t, "1", adjustments[1].RedistributedAmount)
	requireClose(t, dec("200").Div(dec("210")), adjustments[0].Weight)

	prices := AdjustedUnitPrices(lines, policy)
	require.Len(t, prices, 3)
	requireDecimal(t, "0", prices[2])

	totals := ComputeTotals(lines, policy, nil)
	requireDecimal(t, "231", totals.ItemsTotal)
}

func TestIdentityWhenDisabled(t *testing.T) {
	lines := []LineItem{
		{Name: "A", UnitPrice: dec("19.99"), Quantity: 3},
		{Name: "", UnitPrice: dec("5"), Quantity: 2},
		{Name: "C", UnitPrice: dec("0"), Quantity: 4},
		{Name: "D", UnitPrice: dec("7.5"), Quantity: 0},
	}
	disabled := []RedistributionPolicy{
		{Enabled: false, Amount: amount("50"), Method: MethodProportional},
		{Enabled: false, Amount: amount("50"), Method: MethodEqual},
		{Enabled: true, Amount: amount("0"), Method: MethodEqual},
		{Enabled: true, Amount: amount("-3"), Method: MethodProportional},
		{Enabled: true},
	}
	expected := dec("59.97").Add(dec("10"))
	for _, policy := range disabled {
		totals := ComputeTotals(lines, policy, nil)
		requireDecimal(t, expected.String(), totals.ItemsTotal)
		for i, price := range AdjustedUnitPrices(lines, policy) {
			require.True(t, price.Equal(lines[i].UnitPrice))
		}
	}
}

func TestConservationOfRedistributedAmount(t *testing.T) {
	lines := []LineItem{
		{Name: "A", UnitPrice: dec("3.33"), Quantity: 3},
		{Name: "B", UnitPrice: dec("7"), Quantity: 7},
		{Name: "C", UnitPrice: dec("0.01"), Quantity: 11},
	}
	for _, method := range []Method{MethodProportional, MethodEqual} {
		for _, raw := range []string{"10", "0.01", "1234.567", "1"} {
			policy := RedistributionPolicy{Enabled: true, Amount: amount(raw), Method: method}
			sum := decimal.Zero
			for _, adj := range ComputeLineAdjustments(lines, policy) {
				sum = sum.Add(adj.RedistributedAmount)
			}
			requireClose(t, dec(raw), sum)
		}
	}
}

func TestProportionalShareRatios(t *testing.T) {
	lines := []LineItem{
		{Name: "A", UnitPrice: dec("12.5"), Quantity: 4},
		{Name: "B", UnitPrice: dec("3"), Quantity: 9},
		{Name: "C", UnitPrice: dec("99.99"), Quantity: 1},
	}
	policy := RedistributionPolicy{Enabled: true, Amount: amount("17.35"), Method: MethodProportional}
	adjustments := ComputeLineAdjustments(lines, policy)
	for i := range adjustments {
		for j := range adjustments {
			if i == j {
				continue
			}
			got := adjustments[i].RedistributedAmount.Div(adjustments[j].RedistributedAmount)
			want := adjustments[i].OriginalSubtotal.Div(adjustments[j].OriginalSubtotal)
			requireClose(t, want, got)
		}
	}
}

func TestEqualSharesAreIdentical(t *testing.T) {
	lines := []LineItem{
		{Name: "A", UnitPrice: dec("1"), Quantity: 1},
		{Name: "B", UnitPrice: dec("500"), Quantity: 2},
		{Name: "C", UnitPrice: dec("42"), Quantity: 3},
	}
	policy := RedistributionPolicy{Enabled: true, Amount: amount("10"), Method: MethodEqual}
	adjustments := ComputeLineAdjustments(lines, policy)
	require.Len(t, adjustments, 3)
	for _, adj := range adjustments {
		requireClose(t, adjustments[0].RedistributedAmount, adj.RedistributedAmount)
	}
}

func TestGrandTotalConsistency(t *testing.T) {
	fees := []Fee{
		{FeeTypeID: "ship", Amount: amount("12.40")},
		{FeeTypeID: "wrap", Amount: amount("0")},
		{FeeTypeID: "bad"},
	}
	policies := []RedistributionPolicy{
		{},
		{Enabled: true, Amount: amount("7.77"), Method: MethodProportional},
		{Enabled: true, Amount: amount("7.77"), Method: MethodEqual},
	}
	for _, policy := range policies {
		totals := ComputeTotals(phoneAndCase(), policy, fees)
		requireDecimal(t, "12.40", totals.FeesTotal)
		require.True(t, totals.GrandTotal.Equal(totals.ItemsTotal.Add(totals.FeesTotal)))
	}
}

func TestComputeTotalsIsIdempotent(t *testing.T) {
	lines := phoneAndCase()
	policy := RedistributionPolicy{Enabled: true, Amount: amount("3"), Method: MethodEqual}
	fees := []Fee{{FeeTypeID: "ship", Amount: amount("5")}}
	first := ComputeTotals(lines, policy, fees)
	second := ComputeTotals(lines, policy, fees)
	require.True(t, first.GrandTotal.Equal(second.GrandTotal))
	require.True(t, first.ItemsTotal.Equal(second.ItemsTotal))
	requireDecimal(t, "100", lines[0].UnitPrice)
}

func TestNoRedistributionWithoutValidLines(t *testing.T) {
	lines := []LineItem{{Name: " ", UnitPrice: dec("10"), Quantity: 1}, {Name: "X", Quantity: 2}}
	policy := RedistributionPolicy{Enabled: true, Amount: amount("10"), Method: MethodEqual}
	require.Empty(t, ComputeLineAdjustments(lines, policy))
	totals := ComputeTotals(lines, policy, nil)
	requireDecimal(t, "10", totals.ItemsTotal)
	require.False(t, totals.Redistributed)
}

func TestUnknownMethodFallsBackToProportional(t *testing.T) {
	policy := RedistributionPolicy{Enabled: true, Amount: amount("21"), Method: Method("weird")}
	adjustments := ComputeLineAdjustments(phoneAndCase(), policy)
	requireDecimal(t, "20", adjustments[0].RedistributedAmount)
	require.Equal(t, MethodEqual, Method(" EQUAL ").Normalize())
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "231.00", FormatAmount(dec("231"), 2))
	require.Equal(t, "3.3333", FormatAmount(dec("10").Div(dec("3")), 4))
	require.Equal(t, "1.5", FormatAmount(dec("1.5"), -1))
}
