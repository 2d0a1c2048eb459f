package invoice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ErrDuplicateFee matches any DuplicateFeeError via errors.Is.
var ErrDuplicateFee = errors.New("invoice: fee type already added")

// Fee is a separately itemised charge. Amount.Valid is false when the entered
// amount is not numeric.
type Fee struct {
	FeeTypeID string
	Name      string
	Amount    decimal.NullDecimal
}

// Label is the name used when reporting problems with this fee.
func (f Fee) Label() string {
	if name := strings.TrimSpace(f.Name); name != "" {
		return name
	}
	return f.FeeTypeID
}

// FeeType is a catalog entry describing a kind of fee.
type FeeType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// DuplicateFeeError is returned when a fee type is added twice.
type DuplicateFeeError struct {
	FeeTypeID string
	Name      string
}

func (e *DuplicateFeeError) Error() string {
	label := e.Name
	if label == "" {
		label = e.FeeTypeID
	}
	return fmt.Sprintf("fee type %q is already added", label)
}

// Is lets errors.Is(err, ErrDuplicateFee) succeed.
func (e *DuplicateFeeError) Is(target error) bool {
	return target == ErrDuplicateFee
}

// AddFee appends a zero-amount fee of the given type. The input slice is never
// modified; on a duplicate it is returned as-is together with the error.
func AddFee(fees []Fee, feeTypeID string) ([]Fee, error) {
	return AddFeeType(fees, FeeType{ID: feeTypeID})
}

// AddFeeType behaves like AddFee and keeps the catalog name as the fee label.
func AddFeeType(fees []Fee, feeType FeeType) ([]Fee, error) {
	id := strings.TrimSpace(feeType.ID)
	if existing, found := lo.Find(fees, func(f Fee) bool { return f.FeeTypeID == id }); found {
		return fees, &DuplicateFeeError{FeeTypeID: id, Name: existing.Label()}
	}
	out := make([]Fee, len(fees), len(fees)+1)
	copy(out, fees)
	out = append(out, Fee{
		FeeTypeID: id,
		Name:      strings.TrimSpace(feeType.Name),
		Amount:    decimal.NewNullDecimal(decimal.Zero),
	})
	return out, nil
}

// RemoveFee drops the fee at index. Out-of-range indexes are a no-op.
func RemoveFee(fees []Fee, index int) []Fee {
	if index < 0 || index >= len(fees) {
		return fees
	}
	out := make([]Fee, 0, len(fees)-1)
	out = append(out, fees[:index]...)
	return append(out, fees[index+1:]...)
}
