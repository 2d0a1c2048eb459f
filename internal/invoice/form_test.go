package invoice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func applyAll(t *testing.T, form Form, actions ...Action) Form {
	t.Helper()
	for _, action := range actions {
		next, err := Apply(form, action)
		require.NoError(t, err)
		form = next
	}
	return form
}

func TestFormEditingFlow(t *testing.T) {
	form := applyAll(t, NewForm(),
		SetLineName{Index: 0, Name: "Phone"},
		SetLineUnitPrice{Index: 0, Raw: "100"},
		SetLineQuantity{Index: 0, Raw: "2"},
		AddLine{},
		SetLineName{Index: 1, Name: "Case"},
		SetLineUnitPrice{Index: 1, Raw: " 10 "},
		SetRedistribution{Enabled: true},
		SetRedistributionAmount{Raw: "21"},
	)

	totals := form.Totals()
	requireDecimal(t, "231", totals.ItemsTotal)
	require.Empty(t, form.Issues())

	form = applyAll(t, form, SetRedistributionMethod{Method: MethodEqual}, SetRedistributionAmount{Raw: "20"})
	requireDecimal(t, "230", form.Totals().ItemsTotal)

	payload, err := form.Payload()
	require.NoError(t, err)
	require.Len(t, payload.Items, 2)
	require.Equal(t, "105", payload.Items[0].UnitPrice.String())
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	original := applyAll(t, NewForm(), SetLineName{Index: 0, Name: "Phone"})
	next, err := Apply(original, SetLineName{Index: 0, Name: "Tablet"})
	require.NoError(t, err)
	require.Equal(t, "Phone", original.Lines[0].Name)
	require.Equal(t, "Tablet", next.Lines[0].Name)

	removed, err := Apply(next, RemoveLine{Index: 0})
	require.NoError(t, err)
	require.Empty(t, removed.Lines)
	require.Len(t, next.Lines, 1)
}

func TestFormRejectsDuplicateFee(t *testing.T) {
	shipping := FeeType{ID: "ship", Name: "Shipping"}
	form := applyAll(t, NewForm(), AddFeeAction{FeeType: shipping})

	next, err := Apply(form, AddFeeAction{FeeType: shipping})
	require.True(t, errors.Is(err, ErrDuplicateFee))
	require.Len(t, next.Fees, 1)
	require.Len(t, form.Fees, 1)
}

func TestFormLenientParsing(t *testing.T) {
	form := applyAll(t, NewForm(),
		SetLineName{Index: 0, Name: "Phone"},
		SetLineUnitPrice{Index: 0, Raw: "abc"},
		SetLineQuantity{Index: 0, Raw: "1.5"},
		AddFeeAction{FeeType: FeeType{ID: "ship", Name: "Shipping"}},
		SetFeeAmount{Index: 0, Raw: "lots"},
	)
	require.True(t, form.Lines[0].UnitPrice.IsZero())
	require.Zero(t, form.Lines[0].Quantity)
	require.False(t, form.Fees[0].Amount.Valid)

	issues := form.Issues()
	require.Len(t, issues, 2)
	require.Equal(t, CodeInvalidPrice, issues[0].Code)
	require.Equal(t, CodeInvalidFeeAmount, issues[1].Code)
	require.Equal(t, "Shipping", issues[1].Label)

	_, err := form.Payload()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFormOutOfRangeEdits(t *testing.T) {
	form := NewForm()
	_, err := Apply(form, SetLineName{Index: 3, Name: "x"})
	require.ErrorIs(t, err, ErrLineIndex)

	same, err := Apply(form, RemoveFeeAction{Index: 0})
	require.NoError(t, err)
	require.Empty(t, same.Fees)

	reset := applyAll(t, form, AddLine{}, AddLine{}, Reset{})
	require.Len(t, reset.Lines, 1)
}

func TestParseQuantity(t *testing.T) {
	qty, ok := ParseQuantity("12")
	require.True(t, ok)
	require.Equal(t, 12, qty)

	for _, raw := range []string{"", "1.25", "x", "1e12"} {
		_, ok := ParseQuantity(raw)
		require.False(t, ok, raw)
	}
}

func TestParseAmountBounds(t *testing.T) {
	cases := []struct {
		raw  string
		ok   bool
		want string
	}{
		{raw: " 12.50 ", ok: true, want: "12.5"},
		{raw: "1e3", ok: true, want: "1000"},
		{raw: "0.000000000000000000000000000001", ok: true, want: "0.000000000000000000000000000001"},
		{raw: "999999999999999999999999999999", ok: true, want: "999999999999999999999999999999"},
		{raw: "1000000000000000000000000000000"},
		{raw: "1e2000000"},
		{raw: "1e-2000000"},
		{raw: "-1e31"},
		{raw: "0.0000000000000000000000000000001"},
		{raw: "abc"},
		{raw: ""},
	}
	for _, tc := range cases {
		d, ok := ParseAmount(tc.raw)
		require.Equal(t, tc.ok, ok, tc.raw)
		if tc.ok {
			require.Equal(t, tc.want, d.String(), tc.raw)
		} else {
			require.True(t, d.IsZero(), tc.raw)
		}
	}
}
