package invoice

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrLineIndex is returned by actions that address a line that does not exist.
var ErrLineIndex = errors.New("invoice: line index out of range")

// Form is the in-memory state of an invoice being edited. Values are treated
// as immutable: Apply always returns a fresh Form.
type Form struct {
	Lines          []LineItem
	Fees           []Fee
	Redistribution RedistributionPolicy
}

// NewForm returns a form with a single empty line, ready for input.
func NewForm() Form {
	return Form{
		Lines:          []LineItem{{Quantity: 1}},
		Redistribution: RedistributionPolicy{Method: MethodProportional},
	}
}

// Action is a single user edit.
type Action interface {
	apply(Form) (Form, error)
}

// Apply returns the form that results from the action. The input form is not
// modified, including when an error is returned.
func Apply(form Form, action Action) (Form, error) {
	if action == nil {
		return form, nil
	}
	return action.apply(form.clone())
}

// Totals computes the current totals.
func (f Form) Totals() Totals {
	return ComputeTotals(f.Lines, f.Redistribution, f.Fees)
}

// Adjustments computes the current per-line adjustments.
func (f Form) Adjustments() []LineAdjustment {
	return ComputeLineAdjustments(f.Lines, f.Redistribution)
}

// Issues reports the current validation problems without failing.
func (f Form) Issues() []Issue {
	return Validate(f.Lines, f.Fees, f.Redistribution)
}

// Payload builds the submission body.
func (f Form) Payload() (Payload, error) {
	return BuildInvoicePayload(f.Lines, f.Fees, f.Redistribution)
}

func (f Form) clone() Form {
	out := f
	out.Lines = append([]LineItem(nil), f.Lines...)
	out.Fees = append([]Fee(nil), f.Fees...)
	return out
}

// AddLine appends an empty line with quantity one.
type AddLine struct{}

func (AddLine) apply(f Form) (Form, error) {
	f.Lines = append(f.Lines, LineItem{Quantity: 1})
	return f, nil
}

// RemoveLine drops a line. Out-of-range indexes are ignored.
type RemoveLine struct{ Index int }

func (a RemoveLine) apply(f Form) (Form, error) {
	if a.Index < 0 || a.Index >= len(f.Lines) {
		return f, nil
	}
	f.Lines = append(f.Lines[:a.Index], f.Lines[a.Index+1:]...)
	return f, nil
}

// SetLineName changes a line's display name.
type SetLineName struct {
	Index int
	Name  string
}

func (a SetLineName) apply(f Form) (Form, error) {
	if a.Index < 0 || a.Index >= len(f.Lines) {
		return f, ErrLineIndex
	}
	f.Lines[a.Index].Name = a.Name
	return f, nil
}

// SetLineUnitPrice parses raw input into a line's unit price. Text that is not
// a number becomes zero, which later fails validation as an invalid price.
type SetLineUnitPrice struct {
	Index int
	Raw   string
}

func (a SetLineUnitPrice) apply(f Form) (Form, error) {
	if a.Index < 0 || a.Index >= len(f.Lines) {
		return f, ErrLineIndex
	}
	price, ok := ParseAmount(a.Raw)
	if !ok {
		price = decimal.Zero
	}
	f.Lines[a.Index].UnitPrice = price
	return f, nil
}

// SetLineQuantity parses raw input into a line's quantity. Anything other than
// a whole number becomes zero.
type SetLineQuantity struct {
	Index int
	Raw   string
}

func (a SetLineQuantity) apply(f Form) (Form, error) {
	if a.Index < 0 || a.Index >= len(f.Lines) {
		return f, ErrLineIndex
	}
	qty, ok := ParseQuantity(a.Raw)
	if !ok {
		qty = 0
	}
	f.Lines[a.Index].Quantity = qty
	return f, nil
}

// AddFeeAction adds a fee of the given catalog type.
type AddFeeAction struct{ FeeType FeeType }

func (a AddFeeAction) apply(f Form) (Form, error) {
	fees, err := AddFeeType(f.Fees, a.FeeType)
	if err != nil {
		return f, err
	}
	f.Fees = fees
	return f, nil
}

// RemoveFeeAction drops the fee at Index; out-of-range indexes are ignored.
type RemoveFeeAction struct{ Index int }

func (a RemoveFeeAction) apply(f Form) (Form, error) {
	f.Fees = RemoveFee(f.Fees, a.Index)
	return f, nil
}

// SetFeeAmount parses raw input into a fee amount. Non-numeric text leaves the
// amount unset so validation can flag it.
type SetFeeAmount struct {
	Index int
	Raw   string
}

func (a SetFeeAmount) apply(f Form) (Form, error) {
	if a.Index < 0 || a.Index >= len(f.Fees) {
		return f, nil
	}
	f.Fees[a.Index].Amount = parseNullAmount(a.Raw)
	return f, nil
}

// SetRedistribution switches redistribution on or off.
type SetRedistribution struct{ Enabled bool }

func (a SetRedistribution) apply(f Form) (Form, error) {
	f.Redistribution.Enabled = a.Enabled
	return f, nil
}

// SetRedistributionAmount parses the amount to spread across lines.
type SetRedistributionAmount struct{ Raw string }

func (a SetRedistributionAmount) apply(f Form) (Form, error) {
	f.Redistribution.Amount = parseNullAmount(a.Raw)
	return f, nil
}

// SetRedistributionMethod selects the split method.
type SetRedistributionMethod struct{ Method Method }

func (a SetRedistributionMethod) apply(f Form) (Form, error) {
	f.Redistribution.Method = a.Method.Normalize()
	return f, nil
}

// Reset discards every edit.
type Reset struct{}

func (Reset) apply(Form) (Form, error) {
	return NewForm(), nil
}

// maxAmountDigits bounds both the integer digits and the fractional scale of
// an amount. Larger exponents would make formatting cost grow with the input's
// exponent rather than its length.
const maxAmountDigits = 30

// ParseAmount parses a decimal amount from user input. Blank input and
// amounts outside maxAmountDigits are not numbers.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, false
	}
	exp := int(d.Exponent())
	if exp < -maxAmountDigits || exp > maxAmountDigits || d.NumDigits()+exp > maxAmountDigits {
		return decimal.Zero, false
	}
	return d, true
}

// ParseQuantity parses a whole, non-fractional quantity.
func ParseQuantity(raw string) (int, bool) {
	d, ok := ParseAmount(raw)
	if !ok || !d.IsInteger() {
		return 0, false
	}
	if d.GreaterThan(decimal.NewFromInt(maxQuantity)) || d.LessThan(decimal.NewFromInt(-maxQuantity)) {
		return 0, false
	}
	return int(d.IntPart()), true
}

const maxQuantity = 1_000_000_000

func parseNullAmount(raw string) decimal.NullDecimal {
	d, ok := ParseAmount(raw)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
