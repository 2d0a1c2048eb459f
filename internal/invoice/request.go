package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-invoice/internal/common"
)

// Number is a lenient numeric field. It accepts a JSON number, a string or
// null. Text that does not parse is kept so the draft can still be previewed
// and flagged by validation.
type Number struct {
	raw string
	set bool
}

// NumberOf builds a Number from user text.
func NumberOf(raw string) Number {
	return Number{raw: raw, set: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*n = Number{}
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*n = Number{raw: s, set: true}
	default:
		*n = Number{raw: string(trimmed), set: true}
	}
	return nil
}

// MarshalJSON renders the raw input, or null when absent.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.set {
		return []byte("null"), nil
	}
	if d, ok := ParseAmount(n.raw); ok {
		return []byte(d.String()), nil
	}
	return json.Marshal(n.raw)
}

func (n Number) value() decimal.Decimal {
	d, _ := ParseAmount(n.raw)
	return d
}

func (n Number) quantity() int {
	qty, _ := ParseQuantity(n.raw)
	return qty
}

func (n Number) nullable() decimal.NullDecimal {
	return parseNullAmount(n.raw)
}

// DraftRequest is the JSON body of preview and submit calls.
type DraftRequest struct {
	Items          []ItemRequest          `json:"items" validate:"max=500,dive"`
	Fees           []FeeRequest           `json:"fees" validate:"max=50,dive"`
	Redistribution *RedistributionRequest `json:"redistribution"`
}

// ItemRequest is one line of a DraftRequest.
type ItemRequest struct {
	Name      string `json:"name" validate:"max=255"`
	UnitPrice Number `json:"unit_price"`
	Quantity  Number `json:"quantity"`
}

// FeeRequest is one fee of a DraftRequest. Name is optional; the catalog
// name is used when it is blank.
type FeeRequest struct {
	FeeTypeID string `json:"fee_type_id" validate:"required,max=64"`
	Name      string `json:"name" validate:"max=255"`
	Amount    Number `json:"amount"`
}

// RedistributionRequest carries the redistribution settings. Unknown methods
// fall back to proportional.
type RedistributionRequest struct {
	Enabled bool   `json:"enabled"`
	Amount  Number `json:"amount"`
	Method  string `json:"method" validate:"max=32"`
}

// Draft converts the request into the calculator's types.
func (r DraftRequest) Draft() Draft {
	draft := Draft{
		Lines:          make([]LineItem, 0, len(r.Items)),
		Fees:           make([]Fee, 0, len(r.Fees)),
		Redistribution: RedistributionPolicy{Method: MethodProportional},
	}
	for _, item := range r.Items {
		draft.Lines = append(draft.Lines, LineItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice.value(),
			Quantity:  item.Quantity.quantity(),
		})
	}
	for _, fee := range r.Fees {
		draft.Fees = append(draft.Fees, Fee{
			FeeTypeID: strings.TrimSpace(fee.FeeTypeID),
			Name:      strings.TrimSpace(fee.Name),
			Amount:    fee.Amount.nullable(),
		})
	}
	if r.Redistribution != nil {
		draft.Redistribution = RedistributionPolicy{
			Enabled: r.Redistribution.Enabled,
			Amount:  r.Redistribution.Amount.nullable(),
			Method:  Method(r.Redistribution.Method).Normalize(),
		}
	}
	return draft
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError describes one structurally invalid request field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Validate checks structural limits. Semantic problems such as a negative
// price are not errors here; they surface as draft issues.
func (r DraftRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.NewAppError("BAD_REQUEST", "invalid request", http.StatusBadRequest, err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: strings.TrimPrefix(fe.Namespace(), "DraftRequest."), Rule: fe.Tag()})
	}
	return common.NewAppError("BAD_REQUEST", "invalid request", http.StatusBadRequest, err).
		WithDetails(map[string]any{"fields": fields})
}
