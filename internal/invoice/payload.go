package invoice

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// PayloadItem is one line as sent to the invoice creation endpoint.
type PayloadItem struct {
	Name                string       `json:"name"`
	UnitPrice           json.Number  `json:"unit_price"`
	Quantity            int          `json:"quantity"`
	OriginalUnitPrice   *json.Number `json:"original_unit_price,omitempty"`
	RedistributedAmount *json.Number `json:"redistributed_amount,omitempty"`
}

// PayloadFee is one fee as sent to the invoice creation endpoint.
type PayloadFee struct {
	FeeTypeID string      `json:"fee_type_id"`
	Amount    json.Number `json:"amount"`
}

// Payload is the body accepted by the invoice creation endpoint. Fees is nil,
// and therefore omitted, when the draft has no fees.
type Payload struct {
	Items []PayloadItem `json:"items"`
	Fees  []PayloadFee  `json:"fees,omitempty"`
}

// BuildInvoicePayload validates the draft and renders the submission body.
// Invalid drafts yield a *ValidationError listing every problem; nothing is
// partially built.
func BuildInvoicePayload(lines []LineItem, fees []Fee, policy RedistributionPolicy) (Payload, error) {
	if issues := Validate(lines, fees, policy); len(issues) > 0 {
		return Payload{}, &ValidationError{Issues: issues}
	}

	adjustments := ComputeLineAdjustments(lines, policy)
	items := make([]PayloadItem, 0, len(adjustments))
	for _, adj := range adjustments {
		item := PayloadItem{
			Name:      adj.Name,
			UnitPrice: number(adj.AdjustedUnitPrice),
			Quantity:  adj.Quantity,
		}
		if policy.Enabled {
			original := number(adj.OriginalUnitPrice)
			share := number(adj.RedistributedAmount)
			item.OriginalUnitPrice = &original
			item.RedistributedAmount = &share
		}
		items = append(items, item)
	}

	payload := Payload{Items: items}
	if len(fees) > 0 {
		payload.Fees = make([]PayloadFee, 0, len(fees))
		for _, fee := range fees {
			payload.Fees = append(payload.Fees, PayloadFee{
				FeeTypeID: fee.FeeTypeID,
				Amount:    number(fee.Amount.Decimal),
			})
		}
	}
	return payload, nil
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
