// Command invoicecalc previews an invoice draft from a JSON file. The file uses
// the same shape as the preview endpoint body.
//
// Exit code 0 = ok, 1 = the draft has validation issues, 2 = usage or I/O error.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-invoice/internal/invoice"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true}).With().Timestamp().Logger()

	fs := flag.NewFlagSet("invoicecalc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "-", "draft JSON file, - for stdin")
	precision := fs.Int("precision", 2, "decimal places used when printing amounts")
	payload := fs.Bool("payload", false, "print the submission payload instead of the summary")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *precision < 0 || *precision > 12 {
		logger.Error().Int("precision", *precision).Msg("precision must be between 0 and 12")
		return 2
	}

	in := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			logger.Error().Err(err).Str("file", *file).Msg("open draft")
			return 2
		}
		defer f.Close()
		in = f
	}

	var req invoice.DraftRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("decode draft")
		return 2
	}
	if err := req.Validate(); err != nil {
		logger.Error().Err(err).Msg("draft is malformed")
		return 2
	}
	draft := req.Draft()

	if *payload {
		body, err := invoice.BuildInvoicePayload(draft.Lines, draft.Fees, draft.Redistribution)
		if err != nil {
			printIssues(stderr, invoice.Validate(draft.Lines, draft.Fees, draft.Redistribution))
			return 1
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(body); err != nil {
			logger.Error().Err(err).Msg("write payload")
			return 2
		}
		return 0
	}

	issues := invoice.Validate(draft.Lines, draft.Fees, draft.Redistribution)
	printSummary(stdout, draft, int32(*precision))
	if len(issues) > 0 {
		printIssues(stdout, issues)
		return 1
	}
	return 0
}

func printSummary(w io.Writer, draft invoice.Draft, precision int32) {
	format := func(d decimal.Decimal) string { return invoice.FormatAmount(d, precision) }
	prices := invoice.AdjustedUnitPrices(draft.Lines, draft.Redistribution)
	shares := make(map[int]decimal.Decimal)
	for _, adj := range invoice.ComputeLineAdjustments(draft.Lines, draft.Redistribution) {
		shares[adj.Index] = adj.RedistributedAmount
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tNAME\tQTY\tUNIT PRICE\tSHARE\tADJUSTED\tTOTAL\t")
	for i, line := range draft.Lines {
		share := shares[i]
		total := line.Subtotal().Add(share)
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t\n",
			i+1, line.Name, line.Quantity, format(line.UnitPrice), format(share), format(prices[i]), format(total))
	}
	_ = tw.Flush()

	for _, fee := range draft.Fees {
		amount := "invalid"
		if fee.Amount.Valid {
			amount = format(fee.Amount.Decimal)
		}
		fmt.Fprintf(w, "fee %s: %s\n", fee.Label(), amount)
	}

	totals := invoice.ComputeTotals(draft.Lines, draft.Redistribution, draft.Fees)
	fmt.Fprintf(w, "items total: %s\n", format(totals.ItemsTotal))
	fmt.Fprintf(w, "fees total:  %s\n", format(totals.FeesTotal))
	fmt.Fprintf(w, "grand total: %s\n", format(totals.GrandTotal))
	if totals.Redistributed {
		fmt.Fprintf(w, "redistributed %s (%s)\n", format(draft.Redistribution.Amount.Decimal), draft.Redistribution.Method.Normalize())
	}
}

func printIssues(w io.Writer, issues []invoice.Issue) {
	for _, issue := range issues {
		fmt.Fprintf(w, "issue %s: %s\n", issue.Code, issue.Message)
	}
}
