// Package report exports a page of reconciled payments as an XLSX workbook
// with a Payments sheet and a Totals sheet.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"payrecon/aggregate"
	"payrecon/model"
	"payrecon/render"
)

const (
	SheetPayments = "Payments"
	SheetTotals   = "Totals"
)

var paymentHeader = []any{
	"Payment ID", "Provider", "Status", "Currency", "Gross", "Fee",
	"Refunded", "Disputed", "Net", "Created", "Eligibility", "Days Since",
}

type Input struct {
	Query      model.PageQuery
	Category   aggregate.Category
	Rows       []aggregate.Row
	Totals     model.AggregateTotals
	Now        time.Time
	WindowDays int
}

// Build lays out the workbook. The caller owns the returned file.
func Build(in Input) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetPayments); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(SheetTotals); err != nil {
		f.Close()
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := writePayments(f, in, bold); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeTotals(f, in, bold); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Write builds the workbook and streams it to w.
func Write(w io.Writer, in Input) error {
	f, err := Build(in)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

func writePayments(f *excelize.File, in Input, headerStyle int) error {
	if err := f.SetSheetRow(SheetPayments, "A1", &paymentHeader); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(paymentHeader), 1)
	if err := f.SetCellStyle(SheetPayments, "A1", last, headerStyle); err != nil {
		return err
	}
	for i, r := range in.Rows {
		v := render.Row(r, in.Now, in.WindowDays)
		row := []any{
			v.PaymentID, v.Provider, v.Status, v.Currency,
			number(r.Facts.Gross), feeAmount(r.Facts.Fee),
			r.Facts.Refunded.Round(2).InexactFloat64(),
			r.Facts.Disputed.Round(2).InexactFloat64(),
			r.Facts.Net.Round(2).InexactFloat64(),
			v.CreatedAt, string(v.Eligibility), daysSince(v.DaysSince),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetPayments, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SheetPayments, "A", "L", 16)
}

func writeTotals(f *excelize.File, in Input, labelStyle int) error {
	t := in.Totals
	q := in.Query
	lines := [][]any{
		{"Generated", in.Now.Format(time.RFC3339)},
		{"Duration", string(q.Duration)},
		{"From", q.From},
		{"To", q.To},
		{"Page", q.Page},
		{"Category", string(in.Category)},
		{"Currency", t.Currency},
		{"Filtered total", t.FilteredTotal.Round(2).InexactFloat64()},
		{"Cash in", t.CashIn.Round(2).InexactFloat64()},
		{"Previous day", t.PrevDay.Round(2).InexactFloat64()},
		{"Today", t.Today.Round(2).InexactFloat64()},
		{"Refunded", t.RefundedTotal.Round(2).InexactFloat64()},
		{"Disputed", t.DisputedTotal.Round(2).InexactFloat64()},
	}
	for _, c := range aggregate.Categories {
		lines = append(lines, []any{fmt.Sprintf("Count %s", c), t.Counts[string(c)]})
	}
	for i, line := range lines {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetTotals, cell, &line); err != nil {
			return err
		}
	}
	end, _ := excelize.CoordinatesToCellName(1, len(lines))
	if err := f.SetCellStyle(SheetTotals, "A1", end, labelStyle); err != nil {
		return err
	}
	return f.SetColWidth(SheetTotals, "A", "B", 20)
}

func number(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return d.Round(2).InexactFloat64()
}

func feeAmount(m *model.Money) any {
	if m == nil {
		return ""
	}
	return m.Amount.Round(2).InexactFloat64()
}

func daysSince(d *int) any {
	if d == nil {
		return ""
	}
	return *d
}
