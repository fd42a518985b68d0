package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/statements"
)

// Printer renders ledger reports for a terminal.
type Printer struct {
	p *message.Printer
}

// NewPrinter returns a printer for the given BCP 47 locale. Unknown locales
// fall back to English.
func NewPrinter(locale string) *Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Printer{p: message.NewPrinter(tag)}
}

// Amount formats minor units as a localised decimal with two places.
func (pr *Printer) Amount(minor int64) string {
	return pr.p.Sprint(number.Decimal(float64(minor)/100, number.Scale(2)))
}

// Statement writes a student statement as an aligned table.
func (pr *Printer) Statement(w io.Writer, stmt statements.Statement) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Student %d as of %s\t\t\t\t\n", stmt.StudentID, stmt.AsOf.Format(shared.DateLayout))
	fmt.Fprintln(tw, "Date\tType\tDescription\tAmount\tBalance\t")
	for _, e := range stmt.Entries {
		amount := e.Amount
		if e.Type == statements.EntryPayment {
			amount = -amount
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
			e.Date.Format(shared.DateLayout), e.Type, e.Description, pr.Amount(amount), pr.Amount(e.Balance))
	}
	fmt.Fprintf(tw, "Billed\t\t\t%s\t\t\n", pr.Amount(stmt.Summary.TotalBilled))
	fmt.Fprintf(tw, "Paid\t\t\t%s\t\t\n", pr.Amount(stmt.Summary.TotalPaid))
	fmt.Fprintf(tw, "Outstanding\t\t\t\t%s\t\n", pr.Amount(stmt.Summary.OutstandingBalance))
	return tw.Flush()
}

// TrialBalance writes a period trial balance.
func (pr *Printer) TrialBalance(w io.Writer, tb journals.TrialBalance) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Trial balance %s\t\t\t\n", tb.PeriodName)
	fmt.Fprintln(tw, "Account\tName\tDebit\tCredit\t")
	for _, row := range tb.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", row.Code, row.Name, pr.Amount(row.Debit), pr.Amount(row.Credit))
	}
	fmt.Fprintf(tw, "Total\t\t%s\t%s\t\n", pr.Amount(tb.TotalDebit), pr.Amount(tb.TotalCredit))
	if !tb.Balanced {
		fmt.Fprintln(tw, "UNBALANCED\t\t\t\t")
	}
	return tw.Flush()
}
