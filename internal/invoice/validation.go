package invoice

import (
	"fmt"
	"strings"
)

// Code identifies a validation rule.
type Code string

const (
	CodeEmptyName                   Code = "EMPTY_NAME"
	CodeInvalidPrice                Code = "INVALID_PRICE"
	CodeInvalidQuantity             Code = "INVALID_QUANTITY"
	CodeInvalidFeeAmount            Code = "INVALID_FEE_AMOUNT"
	CodeInvalidRedistributionAmount Code = "INVALID_REDISTRIBUTION_AMOUNT"
	CodeDuplicateFee                Code = "DUPLICATE_FEE"
	CodeNoItems                     Code = "NO_ITEMS"
	CodeUnknownFeeType              Code = "UNKNOWN_FEE_TYPE"
)

// Scope tells which part of the draft an issue belongs to.
type Scope string

const (
	ScopeLine           Scope = "line"
	ScopeFee            Scope = "fee"
	ScopeRedistribution Scope = "redistribution"
)

// Issue is one failed rule. Position is 1-based for lines and fees and zero
// for the redistribution settings.
type Issue struct {
	Scope    Scope  `json:"scope"`
	Position int    `json:"position,omitempty"`
	Label    string `json:"label,omitempty"`
	Field    string `json:"field"`
	Code     Code   `json:"code"`
	Message  string `json:"message"`
}

// ValidationError lists every issue found in a draft.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invoice: validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Message)
	}
	return "invoice: " + strings.Join(parts, "; ")
}

// Validate checks the draft and reports the first failing rule for each line
// and fee, plus the redistribution amount when redistribution is enabled.
func Validate(lines []LineItem, fees []Fee, policy RedistributionPolicy) []Issue {
	issues := make([]Issue, 0)
	if len(lines) == 0 {
		issues = append(issues, Issue{
			Scope: ScopeLine, Field: "items", Code: CodeNoItems,
			Message: "at least one line item is required",
		})
	}
	for i, line := range lines {
		if issue, ok := validateLine(i+1, line); !ok {
			issues = append(issues, issue)
		}
	}

	seen := make(map[string]bool, len(fees))
	for i, fee := range fees {
		label := fee.Label()
		switch {
		case !fee.Amount.Valid || fee.Amount.Decimal.IsNegative():
			issues = append(issues, Issue{
				Scope: ScopeFee, Position: i + 1, Label: label, Field: "amount",
				Code:    CodeInvalidFeeAmount,
				Message: fmt.Sprintf("fee %q: amount must be a number greater than or equal to zero", label),
			})
		case seen[fee.FeeTypeID]:
			issues = append(issues, Issue{
				Scope: ScopeFee, Position: i + 1, Label: label, Field: "fee_type_id",
				Code:    CodeDuplicateFee,
				Message: fmt.Sprintf("fee %q: this fee type is already added", label),
			})
		}
		seen[fee.FeeTypeID] = true
	}

	if policy.Enabled && (!policy.Amount.Valid || !policy.Amount.Decimal.IsPositive()) {
		issues = append(issues, Issue{
			Scope: ScopeRedistribution, Field: "amount",
			Code:    CodeInvalidRedistributionAmount,
			Message: "redistribution amount must be greater than zero",
		})
	}
	return issues
}

func validateLine(position int, line LineItem) (Issue, bool) {
	issue := Issue{Scope: ScopeLine, Position: position, Label: strings.TrimSpace(line.Name)}
	switch {
	case strings.TrimSpace(line.Name) == "":
		issue.Field, issue.Code = "name", CodeEmptyName
		issue.Message = fmt.Sprintf("line %d: name is required", position)
	case !line.UnitPrice.IsPositive():
		issue.Field, issue.Code = "unit_price", CodeInvalidPrice
		issue.Message = fmt.Sprintf("line %d: unit price must be a positive number", position)
	case line.Quantity <= 0:
		issue.Field, issue.Code = "quantity", CodeInvalidQuantity
		issue.Message = fmt.Sprintf("line %d: quantity must be a positive integer", position)
	default:
		return Issue{}, true
	}
	return issue, false
}
