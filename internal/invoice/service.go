package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/obs"
)

// Submitter sends a built payload to the invoicing backend.
type Submitter interface {
	CreateInvoice(ctx context.Context, payload Payload, idempotencyKey string) (Receipt, error)
}

// FeeCatalog resolves fee type IDs to catalog entries. IDs missing from the
// catalog are absent from the returned map.
type FeeCatalog interface {
	Resolve(ctx context.Context, ids []string) (map[string]FeeType, error)
}

// Receipt is the backend's answer to an accepted invoice.
type Receipt struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Draft is an invoice as entered by the user, before validation.
type Draft struct {
	Lines          []LineItem
	Fees           []Fee
	Redistribution RedistributionPolicy
}

// Service computes previews and submits drafts.
type Service struct {
	submitter Submitter
	catalog   FeeCatalog
	metrics   *obs.DomainMetrics
	currency  string
	precision int32
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Submitter Submitter
	Catalog   FeeCatalog
	Metrics   *obs.DomainMetrics
	Currency  string
	Precision int32
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Submitter == nil {
		return nil, errors.New("invoice: submitter is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "IDR"
	}
	precision := cfg.Precision
	if precision < 0 {
		precision = 2
	}
	return &Service{
		submitter: cfg.Submitter,
		catalog:   cfg.Catalog,
		metrics:   cfg.Metrics,
		currency:  currency,
		precision: precision,
	}, nil
}

// PreviewLine is one input line with its computed amounts.
type PreviewLine struct {
	Position            int    `json:"position"`
	Name                string `json:"name"`
	Quantity            int    `json:"quantity"`
	Valid               bool   `json:"valid"`
	OriginalUnitPrice   string `json:"original_unit_price"`
	AdjustedUnitPrice   string `json:"adjusted_unit_price"`
	RedistributedAmount string `json:"redistributed_amount"`
	LineTotal           string `json:"line_total"`
}

// PreviewFee is one fee as it will be charged.
type PreviewFee struct {
	Position  int     `json:"position"`
	FeeTypeID string  `json:"fee_type_id"`
	Name      string  `json:"name"`
	Amount    *string `json:"amount"`
}

// PreviewRedistribution echoes the effective redistribution settings.
type PreviewRedistribution struct {
	Enabled bool    `json:"enabled"`
	Method  Method  `json:"method"`
	Amount  *string `json:"amount"`
	Applied bool    `json:"applied"`
}

// PreviewTotals are the formatted totals.
type PreviewTotals struct {
	ItemsTotal string `json:"items_total"`
	FeesTotal  string `json:"fees_total"`
	GrandTotal string `json:"grand_total"`
}

// Preview is the full computed view of a draft.
type Preview struct {
	Currency       string                `json:"currency"`
	Lines          []PreviewLine         `json:"lines"`
	Fees           []PreviewFee          `json:"fees"`
	Redistribution PreviewRedistribution `json:"redistribution"`
	Totals         PreviewTotals         `json:"totals"`
	Issues         []Issue               `json:"issues"`
	Valid          bool                  `json:"valid"`
}

// Submission is the outcome of an accepted submit.
type Submission struct {
	Receipt Receipt
	Payload Payload
	Totals  PreviewTotals
}

// Preview computes adjustments, totals and validation issues. Invalid drafts
// are reported through Issues, never rejected.
func (s *Service) Preview(ctx context.Context, draft Draft) (Preview, error) {
	draft, unknown := s.resolveFees(ctx, draft)
	issues := append(Validate(draft.Lines, draft.Fees, draft.Redistribution), unknown...)

	adjustments := lo.KeyBy(ComputeLineAdjustments(draft.Lines, draft.Redistribution), func(adj LineAdjustment) int {
		return adj.Index
	})
	lines := make([]PreviewLine, 0, len(draft.Lines))
	for i, line := range draft.Lines {
		row := PreviewLine{
			Position:            i + 1,
			Name:                strings.TrimSpace(line.Name),
			Quantity:            line.Quantity,
			OriginalUnitPrice:   s.format(line.UnitPrice),
			AdjustedUnitPrice:   s.format(line.UnitPrice),
			RedistributedAmount: s.format(decimal.Zero),
			LineTotal:           s.format(line.Subtotal()),
		}
		if adj, ok := adjustments[i]; ok {
			row.Valid = true
			row.AdjustedUnitPrice = s.format(adj.AdjustedUnitPrice)
			row.RedistributedAmount = s.format(adj.RedistributedAmount)
			row.LineTotal = s.format(adj.LineTotal)
		}
		lines = append(lines, row)
	}

	fees := make([]PreviewFee, 0, len(draft.Fees))
	for i, fee := range draft.Fees {
		row := PreviewFee{Position: i + 1, FeeTypeID: fee.FeeTypeID, Name: fee.Label()}
		if fee.Amount.Valid {
			formatted := s.format(fee.Amount.Decimal)
			row.Amount = &formatted
		}
		fees = append(fees, row)
	}

	totals := ComputeTotals(draft.Lines, draft.Redistribution, draft.Fees)
	method := draft.Redistribution.Method.Normalize()
	redistribution := PreviewRedistribution{
		Enabled: draft.Redistribution.Enabled,
		Method:  method,
		Applied: totals.Redistributed,
	}
	if draft.Redistribution.Amount.Valid {
		formatted := s.format(draft.Redistribution.Amount.Decimal)
		redistribution.Amount = &formatted
	}

	label := "none"
	if draft.Redistribution.Enabled {
		label = string(method)
	}
	s.metrics.Preview(label)

	return Preview{
		Currency:       s.currency,
		Lines:          lines,
		Fees:           fees,
		Redistribution: redistribution,
		Totals:         s.formatTotals(totals),
		Issues:         issues,
		Valid:          len(issues) == 0,
	}, nil
}

// Submit validates the draft, builds the payload and sends it upstream.
// Drafts with issues fail with VALIDATION_FAILED listing every issue.
func (s *Service) Submit(ctx context.Context, draft Draft, idempotencyKey string) (Submission, error) {
	logger := zerolog.Ctx(ctx)
	draft, unknown := s.resolveFees(ctx, draft)

	payload, err := BuildInvoicePayload(draft.Lines, draft.Fees, draft.Redistribution)
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		issues := append(verr.Issues, unknown...)
		s.metrics.Submit("invalid")
		return Submission{}, validationFailed(issues)
	case err != nil:
		s.metrics.Submit("failed")
		return Submission{}, fmt.Errorf("build invoice payload: %w", err)
	case len(unknown) > 0:
		s.metrics.Submit("invalid")
		return Submission{}, validationFailed(unknown)
	}

	receipt, err := s.submitter.CreateInvoice(ctx, payload, idempotencyKey)
	if err != nil {
		result := "failed"
		var appErr *common.AppError
		if errors.As(err, &appErr) && appErr.HTTPStatus >= 400 && appErr.HTTPStatus < 500 {
			result = "rejected"
		}
		s.metrics.Submit(result)
		return Submission{}, err
	}

	totals := s.formatTotals(ComputeTotals(draft.Lines, draft.Redistribution, draft.Fees))
	s.metrics.Submit("accepted")
	logger.Info().
		Int("items", len(payload.Items)).
		Int("fees", len(payload.Fees)).
		Str("grand_total", totals.GrandTotal).
		Str("currency", s.currency).
		Msg("invoice submitted")
	return Submission{Receipt: receipt, Payload: payload, Totals: totals}, nil
}

// resolveFees fills fee names from the catalog and reports fee types the
// catalog does not know. A catalog failure is logged and skips the check.
func (s *Service) resolveFees(ctx context.Context, draft Draft) (Draft, []Issue) {
	if s.catalog == nil || len(draft.Fees) == 0 {
		return draft, nil
	}
	ids := lo.Uniq(lo.Map(draft.Fees, func(f Fee, _ int) string { return f.FeeTypeID }))
	known, err := s.catalog.Resolve(ctx, ids)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("fee type catalog unavailable, skipping lookup")
		return draft, nil
	}

	fees := make([]Fee, len(draft.Fees))
	var issues []Issue
	for i, fee := range draft.Fees {
		if ft, ok := known[fee.FeeTypeID]; ok {
			if strings.TrimSpace(fee.Name) == "" {
				fee.Name = ft.Name
			}
		} else {
			issues = append(issues, Issue{
				Scope: ScopeFee, Position: i + 1, Label: fee.Label(), Field: "fee_type_id",
				Code:    CodeUnknownFeeType,
				Message: fmt.Sprintf("fee %q: unknown fee type", fee.Label()),
			})
		}
		fees[i] = fee
	}
	draft.Fees = fees
	return draft, issues
}

func (s *Service) format(d decimal.Decimal) string {
	return FormatAmount(d, s.precision)
}

func (s *Service) formatTotals(t Totals) PreviewTotals {
	return PreviewTotals{
		ItemsTotal: s.format(t.ItemsTotal),
		FeesTotal:  s.format(t.FeesTotal),
		GrandTotal: s.format(t.GrandTotal),
	}
}

func validationFailed(issues []Issue) *common.AppError {
	return common.NewAppError("VALIDATION_FAILED", "invoice draft is invalid", http.StatusUnprocessableEntity, &ValidationError{Issues: issues}).
		WithDetails(map[string]any{"issues": issues})
}
