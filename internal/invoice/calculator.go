package invoice

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Method selects how a redistribution amount is spread across lines.
type Method string

const (
	// MethodProportional weights each line by its share of the original subtotal.
	MethodProportional Method = "proportional"
	// MethodEqual gives every valid line the same share.
	MethodEqual Method = "equal"
)

// Normalize maps empty or unknown methods to proportional.
func (m Method) Normalize() Method {
	if Method(strings.ToLower(strings.TrimSpace(string(m)))) == MethodEqual {
		return MethodEqual
	}
	return MethodProportional
}

// LineItem is one product row on an invoice draft.
type LineItem struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal returns unit price times quantity.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// RedistributionPolicy describes an extra charge absorbed into line prices.
// An Amount with Valid=false means the amount was not provided.
type RedistributionPolicy struct {
	Enabled bool
	Amount  decimal.NullDecimal
	Method  Method
}

// active reports whether the policy asks for a positive amount to be spread.
func (p RedistributionPolicy) active() bool {
	return p.Enabled && p.Amount.Valid && p.Amount.Decimal.IsPositive()
}

// LineAdjustment is the computed redistribution outcome for one valid line.
type LineAdjustment struct {
	Index               int
	Name                string
	Quantity            int
	OriginalUnitPrice   decimal.Decimal
	OriginalSubtotal    decimal.Decimal
	Weight              decimal.Decimal
	RedistributedAmount decimal.Decimal
	AdjustedUnitPrice   decimal.Decimal
	LineTotal           decimal.Decimal
}

// Totals aggregates the amounts of a draft.
type Totals struct {
	ItemsTotal    decimal.Decimal
	FeesTotal     decimal.Decimal
	GrandTotal    decimal.Decimal
	Redistributed bool
}

// IsValidLine reports whether a line takes part in redistribution: it needs a
// name, a positive price and a positive quantity.
func IsValidLine(l LineItem) bool {
	return strings.TrimSpace(l.Name) != "" && l.UnitPrice.IsPositive() && l.Quantity > 0
}

// ComputeLineAdjustments returns one adjustment per valid line, in input order.
// It never fails: when there is nothing to spread every valid line keeps its
// unit price and receives a zero share.
func ComputeLineAdjustments(lines []LineItem, policy RedistributionPolicy) []LineAdjustment {
	valid := make([]int, 0, len(lines))
	totalOriginal := decimal.Zero
	for i, line := range lines {
		if !IsValidLine(line) {
			continue
		}
		valid = append(valid, i)
		totalOriginal = totalOriginal.Add(line.Subtotal())
	}
	if len(valid) == 0 {
		return []LineAdjustment{}
	}

	method := policy.Method.Normalize()
	count := decimal.NewFromInt(int64(len(valid)))
	apply := policy.active() && totalOriginal.IsPositive()
	amount := decimal.Zero
	if apply {
		amount = policy.Amount.Decimal
	}

	out := make([]LineAdjustment, 0, len(valid))
	allocated := decimal.Zero
	for n, idx := range valid {
		line := lines[idx]
		subtotal := line.Subtotal()

		var weight decimal.Decimal
		if method == MethodEqual {
			weight = decimal.NewFromInt(1).Div(count)
		} else {
			weight = subtotal.Div(totalOriginal)
		}

		share := decimal.Zero
		if apply {
			switch {
			case n == len(valid)-1:
				// the last line absorbs the division remainder so shares sum to amount
				share = amount.Sub(allocated)
			case method == MethodEqual:
				share = amount.Div(count)
			default:
				share = amount.Mul(subtotal).Div(totalOriginal)
			}
			allocated = allocated.Add(share)
		}

		lineTotal := subtotal.Add(share)
		adjusted := line.UnitPrice
		if apply {
			adjusted = lineTotal.Div(decimal.NewFromInt(int64(line.Quantity)))
		}
		out = append(out, LineAdjustment{
			Index:               idx,
			Name:                line.Name,
			Quantity:            line.Quantity,
			OriginalUnitPrice:   line.UnitPrice,
			OriginalSubtotal:    subtotal,
			Weight:              weight,
			RedistributedAmount: share,
			AdjustedUnitPrice:   adjusted,
			LineTotal:           lineTotal,
		})
	}
	return out
}

// AdjustedUnitPrices resolves the effective unit price of every input line.
// Invalid lines pass through unchanged.
func AdjustedUnitPrices(lines []LineItem, policy RedistributionPolicy) []decimal.Decimal {
	prices := make([]decimal.Decimal, len(lines))
	for i, line := range lines {
		prices[i] = line.UnitPrice
	}
	for _, adj := range ComputeLineAdjustments(lines, policy) {
		prices[adj.Index] = adj.AdjustedUnitPrice
	}
	return prices
}

// ComputeTotals sums items and fees. It is pure: identical inputs always give
// identical totals.
func ComputeTotals(lines []LineItem, policy RedistributionPolicy, fees []Fee) Totals {
	lineTotals := make([]decimal.Decimal, len(lines))
	for i, line := range lines {
		lineTotals[i] = line.Subtotal()
	}
	redistributed := false
	for _, adj := range ComputeLineAdjustments(lines, policy) {
		lineTotals[adj.Index] = adj.LineTotal
		if !adj.RedistributedAmount.IsZero() {
			redistributed = true
		}
	}

	items := decimal.Sum(decimal.Zero, lineTotals...)
	feesTotal := FeesTotal(fees)
	return Totals{
		ItemsTotal:    items,
		FeesTotal:     feesTotal,
		GrandTotal:    items.Add(feesTotal),
		Redistributed: redistributed,
	}
}

// FeesTotal sums fee amounts; entries without a numeric amount count as zero.
func FeesTotal(fees []Fee) decimal.Decimal {
	total := decimal.Zero
	for _, fee := range fees {
		if fee.Amount.Valid {
			total = total.Add(fee.Amount.Decimal)
		}
	}
	return total
}

// FormatAmount renders an amount at the given number of decimal places.
func FormatAmount(d decimal.Decimal, precision int32) string {
	if precision < 0 {
		return d.String()
	}
	return d.StringFixed(precision)
}
